/*Package comm provides connection plumbing for remote motor-control boards.

A board is reached over TCP or RS232/RS485 serial.  Connections are held in
a Pool that lazily opens them with exponential-backoff retry and frees them
after an idle timeout, so a flaky link does not thrash the far end.
*/
package comm

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/nidaahmed301/icub-main/util"
	"github.com/tarm/serial"
)

// ErrTimeoutUnsupported is generated when a timeout wrapper is requested
// around a connection that cannot carry deadlines.
var ErrTimeoutUnsupported = errors.New("comm: connection does not support deadlines")

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables and functions needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// BackingOffTCPConnMaker returns a CreationFunc dialing addr over TCP with
// exponential backoff, giving up after the timeout has elapsed.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn io.ReadWriteCloser
		op := func() error {
			var err error
			conn, err = util.TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      timeout,
			Clock:               backoff.SystemClock})
		return conn, err
	}
}

// SerialConnMaker returns a CreationFunc opening the given serial config.
func SerialConnMaker(cfg *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(cfg)
	}
}

// Pool is a communication pool holding one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int
	onLease int
	timeout time.Duration
	conns   chan io.ReadWriteCloser
	timer   *time.Timer
	maker   CreationFunc

	reclaiming bool
	mu         sync.Mutex
}

// NewPool creates a pool of up to maxSize connections, freed after they
// have all been idle for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
	}
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a connection from the pool, opening a new one if none are
// free and the pool is not exhausted, otherwise blocking until one is
// returned.  Return it with Put, or with Destroy if it has gone bad.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	if p.onLease == p.maxSize {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	return c, err
}

// Put restores a connection to the pool.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.conns <- rwc
	p.mu.Lock()
	p.onLease--
	if len(p.conns) == p.maxSize {
		p.startReclaim()
	}
	p.mu.Unlock()
}

// Destroy immediately frees a connection instead of returning it.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError Puts the connection back if err is nil, else Destroys it.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections owned by the pool.
func (p *Pool) Size() int {
	return len(p.conns) + p.onLease
}

// Active returns the number of connections currently given out.
func (p *Pool) Active() int {
	return p.onLease
}

func (p *Pool) startReclaim() {
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	p.timer.Reset(p.timeout)
	go func() {
		<-p.timer.C
		p.mu.Lock()
		for len(p.conns) > 0 {
			c := <-p.conns
			c.Close()
		}
		p.reclaiming = false
		p.mu.Unlock()
	}()
}

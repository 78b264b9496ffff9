package comm

import (
	"io"
	"time"
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type timeoutRW struct {
	rw      io.ReadWriter
	d       deadliner
	timeout time.Duration
}

// NewTimeout wraps rw so that every Read and Write refreshes a deadline of
// timeout from now.  Errors if the underlying connection cannot carry
// deadlines (serial ports configure their timeout at open).
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	d, ok := rw.(deadliner)
	if !ok {
		return nil, ErrTimeoutUnsupported
	}
	return &timeoutRW{rw: rw, d: d, timeout: timeout}, nil
}

func (t *timeoutRW) Read(p []byte) (int, error) {
	t.d.SetReadDeadline(time.Now().Add(t.timeout))
	return t.rw.Read(p)
}

func (t *timeoutRW) Write(p []byte) (int, error) {
	t.d.SetWriteDeadline(time.Now().Add(t.timeout))
	return t.rw.Write(p)
}

// Package telemetry publishes the fixed-width numeric frames emitted by
// the identification loops.  The port is single-writer: exactly one
// periodic task publishes at a time.  Subscribers receive over buffered
// channels and never block the control tick; a subscriber that cannot keep
// up loses frames rather than stalling the loop.
package telemetry

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// FrameWidth is the common width every stage's frames are zero-padded to,
// so offline logs from different stages align column-wise.
const FrameWidth = 8

// Frame is one telemetry sample.
type Frame [FrameWidth]float64

// Pad builds a Frame from up to FrameWidth values, zero-padding the rest.
func Pad(vals ...float64) Frame {
	var f Frame
	copy(f[:], vals)
	return f
}

type subscriber struct {
	ch  chan Frame
	lim *rate.Limiter
}

// Port fans frames out to subscribers.
type Port struct {
	mu   sync.Mutex
	subs []*subscriber
}

// NewPort returns an empty port.
func NewPort() *Port {
	return &Port{}
}

// Subscribe registers a subscriber with the given channel buffer depth.
func (p *Port) Subscribe(buf int) <-chan Frame {
	return p.subscribe(buf, nil)
}

// SubscribeRate registers a subscriber whose delivery is capped at hz
// frames per second; surplus frames are dropped.  Useful for dashboards
// attached to a 100 Hz loop.
func (p *Port) SubscribeRate(buf int, hz float64) <-chan Frame {
	return p.subscribe(buf, rate.NewLimiter(rate.Limit(hz), 1))
}

func (p *Port) subscribe(buf int, lim *rate.Limiter) <-chan Frame {
	s := &subscriber{ch: make(chan Frame, buf), lim: lim}
	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()
	return s.ch
}

// HasSubscribers reports whether anyone is listening; publishers skip
// frame assembly when nobody is.
func (p *Port) HasSubscribers() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs) > 0
}

// Publish delivers f to every subscriber without blocking.
func (p *Port) Publish(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs {
		if s.lim != nil && !s.lim.Allow() {
			continue
		}
		select {
		case s.ch <- f:
		default:
		}
	}
}

// Close closes all subscriber channels and drops them from the port.
func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs {
		close(s.ch)
	}
	p.subs = nil
}

// Record drains frames into w as CSV until the channel closes.
func Record(w io.Writer, frames <-chan Frame) error {
	cw := csv.NewWriter(w)
	rec := make([]string, FrameWidth)
	for f := range frames {
		for i, v := range f {
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

package tuning

import "sync"

// event is a resettable completion latch.  Stages reset it on start,
// signal it exactly when the stage's release path has run, and expose wait
// through their WaitUntilDone methods.
type event struct {
	mu sync.Mutex
	ch chan struct{}
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
}

func (e *event) signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
	default:
		close(e.ch)
	}
}

func (e *event) wait() {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	<-ch
}

package ingest

import "sync"

// Terminator is the one-shot, cooperative stop signal shared by every
// subscription of an ingestion pass. Once fired, sources stop accepting new
// records; work already in flight is allowed to finish.
type Terminator struct {
	once sync.Once
	ch   chan struct{}
}

// NewTerminator creates an unfired terminator.
func NewTerminator() *Terminator {
	return &Terminator{ch: make(chan struct{})}
}

// Fire signals termination. Safe to call from any goroutine and any number
// of times; only the first call has an effect.
func (t *Terminator) Fire() {
	t.once.Do(func() { close(t.ch) })
}

// Done returns the channel that is closed when the terminator fires.
func (t *Terminator) Done() <-chan struct{} {
	return t.ch
}

// Fired reports whether the terminator has fired.
func (t *Terminator) Fired() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

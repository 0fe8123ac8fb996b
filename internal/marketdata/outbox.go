package marketdata

import "sync"

// Outbox is a bounded per-session queue of encoded frames. Producers never
// block: a push into a full outbox closes it, and the session's writer sees
// the closed channel and disconnects.
type Outbox struct {
	mu         sync.Mutex
	ch         chan []byte
	closed     bool
	overflowed bool
}

// NewOutbox creates an outbox holding at most size frames.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{ch: make(chan []byte, size)}
}

// Push enqueues msg. It returns false if the outbox is closed or just
// overflowed.
func (o *Outbox) Push(msg []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	select {
	case o.ch <- msg:
		return true
	default:
		o.overflowed = true
		o.closed = true
		close(o.ch)
		return false
	}
}

// C is drained by the session writer. It is closed on Close or overflow.
func (o *Outbox) C() <-chan []byte {
	return o.ch
}

// Close is idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// Overflowed reports whether the outbox was closed because it was full.
func (o *Outbox) Overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflowed
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	return len(o.ch)
}

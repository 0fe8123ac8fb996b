package marketdata

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/middleware"
	"github.com/nathanyu/level2-book/internal/protocol"
)

// Publisher fans level-2 deltas out to subscribed sessions and external sinks.
//
// Publish is only called by the sequencer goroutine, so every subscriber sees
// deltas in the global mutation order. Delivery never blocks: session outboxes
// that overflow are closed and removed, sink channels drop on full.
type Publisher struct {
	mu sync.RWMutex

	subs    map[string]*Outbox
	sinks   map[string]chan domain.Delta
	history *RingBuffer
	lastSeq uint64
	closed  bool

	logger *zap.Logger
}

// NewPublisher creates a publisher keeping historySize recent deltas.
func NewPublisher(historySize int, logger *zap.Logger) *Publisher {
	return &Publisher{
		subs:    make(map[string]*Outbox),
		sinks:   make(map[string]chan domain.Delta),
		history: NewRingBuffer(historySize),
		logger:  logger.Named("marketdata"),
	}
}

// Subscribe registers a session's outbox. Re-subscribing replaces the old
// registration.
func (p *Publisher) Subscribe(sessionID string, out *Outbox) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subs[sessionID]; !exists {
		middleware.Subscribers.Inc()
	}
	p.subs[sessionID] = out
}

// Unsubscribe removes a session. It reports whether the session was subscribed.
func (p *Publisher) Unsubscribe(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subs[sessionID]; !exists {
		return false
	}
	delete(p.subs, sessionID)
	middleware.Subscribers.Dec()
	return true
}

// IsSubscribed reports whether a session currently receives deltas.
func (p *Publisher) IsSubscribed(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.subs[sessionID]
	return ok
}

// Subscribers returns the number of subscribed sessions.
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// AttachSink returns a buffered channel receiving every delta. The caller
// must drain it; deltas are dropped while it is full.
func (p *Publisher) AttachSink(name string, size int) <-chan domain.Delta {
	ch := make(chan domain.Delta, size)

	p.mu.Lock()
	p.sinks[name] = ch
	p.mu.Unlock()

	return ch
}

// Publish records d and delivers it to every subscriber and sink.
func (p *Publisher) Publish(d domain.Delta) {
	frame, err := protocol.EncodeDelta(d)
	if err != nil {
		p.logger.Error("encode delta", zap.Uint64("seq", d.Seq), zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.history.Push(d)
	p.lastSeq = d.Seq
	middleware.DeltasPublished.Inc()

	for sessionID, out := range p.subs {
		if out.Push(frame) {
			continue
		}
		delete(p.subs, sessionID)
		middleware.Subscribers.Dec()
		p.logger.Warn("dropping slow subscriber",
			zap.String("session", sessionID),
			zap.Uint64("seq", d.Seq),
			zap.Bool("overflow", out.Overflowed()),
		)
	}

	for name, ch := range p.sinks {
		select {
		case ch <- d:
		default:
			middleware.SinkDrops.WithLabelValues(name).Inc()
		}
	}
}

// Recent returns up to n most recent deltas, oldest first.
func (p *Publisher) Recent(n int) []domain.Delta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.GetRecent(n)
}

// LastSeq returns the sequence number of the last published delta.
func (p *Publisher) LastSeq() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeq
}

// Close closes every sink channel and subscriber outbox. Later publishes are ignored.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for name, ch := range p.sinks {
		close(ch)
		delete(p.sinks, name)
	}
	for sessionID, out := range p.subs {
		out.Close()
		delete(p.subs, sessionID)
		middleware.Subscribers.Dec()
	}
	p.logger.Info("publisher stopped")
}

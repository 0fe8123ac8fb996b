package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/marketdata"
	"github.com/nathanyu/level2-book/internal/middleware"
	"github.com/nathanyu/level2-book/internal/orderbook"
	"github.com/nathanyu/level2-book/internal/protocol"
)

// Sequencer is the single writer of the order book. Every session submits
// commands into one inbound queue; the run loop applies them one at a time,
// stamps each applied mutation with a global sequence number and publishes
// the resulting delta before taking the next command.
type Sequencer struct {
	seq       atomic.Uint64
	book      *orderbook.OrderBook
	publisher *marketdata.Publisher

	in   chan *request
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	logger *zap.Logger
}

type request struct {
	ctx       context.Context
	sessionID string
	commandID uint64
	cmd       domain.Command
	out       *marketdata.Outbox
	enqueued  time.Time
	reply     chan reply
}

type reply struct {
	result domain.Result
	err    error
}

// NewSequencer creates a sequencer owning book and publishing to publisher.
func NewSequencer(book *orderbook.OrderBook, publisher *marketdata.Publisher, queueSize int, logger *zap.Logger) *Sequencer {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Sequencer{
		book:      book,
		publisher: publisher,
		in:        make(chan *request, queueSize),
		done:      make(chan struct{}),
		logger:    logger.Named("sequencer"),
	}
}

// Start begins the application loop in a goroutine.
func (s *Sequencer) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the loop to exit and waits for it. Pending and later
// submissions fail with domain.ErrSequencerStopped.
func (s *Sequencer) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Submit enqueues cmd on behalf of sessionID and waits for its result.
//
// If ctx is cancelled before the command is applied, the command is dropped
// without touching the book. Once applied, a mutation stands regardless of
// what happens to the caller.
func (s *Sequencer) Submit(ctx context.Context, sessionID string, cmd domain.Command) (domain.Result, error) {
	if cmd.Kind == domain.CommandSubscribe {
		return domain.Result{}, fmt.Errorf("%w: subscribe needs a session outbox", domain.ErrProtocol)
	}
	return s.submit(ctx, &request{sessionID: sessionID, cmd: cmd})
}

// Subscribe registers out for deltas. In the same step of the loop it takes a
// snapshot limited to depth levels per side and queues it on out as the
// LEVEL2_SNAPSHOT reply to commandID, so out always holds the snapshot ahead
// of the first delta following it.
func (s *Sequencer) Subscribe(ctx context.Context, sessionID string, commandID uint64, depth int, out *marketdata.Outbox) (*domain.L2OrderBook, error) {
	res, err := s.submit(ctx, &request{
		sessionID: sessionID,
		commandID: commandID,
		cmd:       domain.Command{Kind: domain.CommandSubscribe, Depth: depth},
		out:       out,
	})
	if err != nil {
		return nil, err
	}
	return res.Snapshot, nil
}

func (s *Sequencer) submit(ctx context.Context, req *request) (domain.Result, error) {
	req.ctx = ctx
	req.enqueued = time.Now()
	req.reply = make(chan reply, 1)

	select {
	case <-s.done:
		return domain.Result{}, domain.ErrSequencerStopped
	default:
	}

	// Non-blocking enqueue: a full queue is reported instead of stalling the caller.
	select {
	case s.in <- req:
		middleware.SequencerQueueLength.Set(float64(len(s.in)))
	default:
		middleware.CommandsTotal.WithLabelValues(string(req.cmd.Kind), "overloaded").Inc()
		s.logger.Warn("inbound queue full, rejecting command",
			zap.String("session", req.sessionID),
			zap.String("kind", string(req.cmd.Kind)),
		)
		return domain.Result{}, domain.ErrOverloaded
	}

	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	case <-s.done:
		return domain.Result{}, domain.ErrSequencerStopped
	}
}

// run is the application loop. It is the only goroutine touching the book.
func (s *Sequencer) run() {
	defer s.wg.Done()
	s.logger.Info("started")
	for {
		select {
		case req := <-s.in:
			middleware.SequencerQueueLength.Set(float64(len(s.in)))
			s.process(req)
		case <-s.done:
			s.logger.Info("stopped", zap.Uint64("seq", s.seq.Load()))
			return
		}
	}
}

func (s *Sequencer) process(req *request) {
	kind := string(req.cmd.Kind)

	if err := req.ctx.Err(); err != nil {
		middleware.CommandsTotal.WithLabelValues(kind, "dropped").Inc()
		s.logger.Debug("dropping command from departed session",
			zap.String("session", req.sessionID),
			zap.String("kind", kind),
		)
		req.reply <- reply{err: err}
		return
	}

	result, err := s.apply(req)
	switch {
	case err == nil:
		middleware.CommandsTotal.WithLabelValues(kind, "ok").Inc()
	case domain.IsValidation(err):
		middleware.CommandsTotal.WithLabelValues(kind, "rejected").Inc()
	case errors.Is(err, domain.ErrOrderIDExhausted):
		middleware.CommandsTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Error("order id space exhausted", zap.String("session", req.sessionID))
	default:
		middleware.CommandsTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Warn("command failed",
			zap.String("session", req.sessionID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	middleware.CommandDuration.WithLabelValues(kind).Observe(time.Since(req.enqueued).Seconds())

	req.reply <- reply{result: result, err: err}
}

func (s *Sequencer) apply(req *request) (domain.Result, error) {
	cmd := req.cmd

	switch cmd.Kind {
	case domain.CommandPlace:
		id, d, err := s.book.Place(cmd.Side, cmd.Price, cmd.Quantity)
		if err != nil {
			return domain.Result{}, err
		}
		seq := s.commit(d)
		return domain.Result{OrderID: id, Seq: seq, Price: cmd.Price, Quantity: cmd.Quantity}, nil

	case domain.CommandCancel:
		d, err := s.book.Cancel(cmd.OrderID)
		if err != nil {
			return domain.Result{}, err
		}
		seq := s.commit(d)
		return domain.Result{OrderID: cmd.OrderID, Seq: seq, Price: d.Price}, nil

	case domain.CommandAmend:
		d, err := s.book.Amend(cmd.OrderID, cmd.Quantity)
		if err != nil {
			return domain.Result{}, err
		}
		seq := s.commit(d)
		return domain.Result{OrderID: cmd.OrderID, Seq: seq, Price: d.Price, Quantity: cmd.Quantity}, nil

	case domain.CommandSnapshot:
		snap := s.snapshot(cmd.Depth)
		return domain.Result{Seq: snap.Seq, Snapshot: snap}, nil

	case domain.CommandSubscribe:
		if req.out == nil {
			return domain.Result{}, fmt.Errorf("%w: subscribe needs a session outbox", domain.ErrProtocol)
		}
		snap := s.snapshot(cmd.Depth)
		frame, err := protocol.EncodeSnapshot(req.commandID, snap)
		if err != nil {
			return domain.Result{}, err
		}
		if !req.out.Push(frame) {
			return domain.Result{}, fmt.Errorf("%w: session outbox closed", domain.ErrOverloaded)
		}
		s.publisher.Subscribe(req.sessionID, req.out)
		return domain.Result{Seq: snap.Seq, Snapshot: snap}, nil

	case domain.CommandUnsubscribe:
		s.publisher.Unsubscribe(req.sessionID)
		return domain.Result{Seq: s.seq.Load()}, nil

	case domain.CommandTop:
		price, err := s.book.TopOfBook(cmd.Side)
		if err != nil {
			return domain.Result{}, err
		}
		return domain.Result{Seq: s.seq.Load(), Price: price}, nil

	case domain.CommandDepth:
		levels, err := s.book.Depth(cmd.Side)
		if err != nil {
			return domain.Result{}, err
		}
		return domain.Result{Seq: s.seq.Load(), Levels: levels}, nil

	case domain.CommandSize:
		qty, err := s.book.SizeForPriceLevel(cmd.Side, cmd.Price)
		if err != nil {
			return domain.Result{}, err
		}
		return domain.Result{Seq: s.seq.Load(), Price: cmd.Price, Quantity: qty}, nil

	case domain.CommandPing:
		return domain.Result{Seq: s.seq.Load()}, nil

	default:
		return domain.Result{}, fmt.Errorf("%w: unknown command kind %q", domain.ErrProtocol, cmd.Kind)
	}
}

// commit stamps d with the next sequence number and publishes it.
func (s *Sequencer) commit(d domain.Delta) uint64 {
	seq := s.seq.Add(1)
	d.Seq = seq
	s.publisher.Publish(d)

	middleware.SequencerSeq.Set(float64(seq))
	middleware.RestingOrders.Set(float64(s.book.Len()))
	middleware.OrderBookDepth.WithLabelValues(string(domain.SideBid)).Set(float64(s.book.Bids.Depth()))
	middleware.OrderBookDepth.WithLabelValues(string(domain.SideAsk)).Set(float64(s.book.Asks.Depth()))
	return seq
}

func (s *Sequencer) snapshot(depth int) *domain.L2OrderBook {
	snap := s.book.Snapshot(depth)
	snap.Seq = s.seq.Load()
	return snap
}

// CurrentSeq returns the sequence number of the last applied mutation.
func (s *Sequencer) CurrentSeq() uint64 {
	return s.seq.Load()
}

// QueueLength returns the number of commands waiting to be applied.
func (s *Sequencer) QueueLength() int {
	return len(s.in)
}

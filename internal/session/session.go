package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/marketdata"
	"github.com/nathanyu/level2-book/internal/protocol"
)

// Close reasons, also used as metric labels.
const (
	ReasonClient   = "client"
	ReasonTimeout  = "timeout"
	ReasonProtocol = "protocol"
	ReasonOverflow = "overflow"
	ReasonShutdown = "shutdown"
	ReasonWrite    = "write_error"
)

// CommandRecord is one entry of a session's recent command history.
type CommandRecord struct {
	ID    uint64             `json:"id"`
	Kind  domain.CommandKind `json:"kind"`
	At    time.Time          `json:"at"`
	Error domain.ErrorKind   `json:"error,omitempty"`
}

// Info is a point-in-time view of a session for the admin API.
type Info struct {
	ID          string          `json:"id"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`
	LastActive  time.Time       `json:"last_active"`
	Subscribed  bool            `json:"subscribed"`
	Commands    uint64          `json:"commands"`
	Errors      uint64          `json:"errors"`
	Recent      []CommandRecord `json:"recent"`
}

// Session is one client connection. A read goroutine decodes frames and
// submits them to the sequencer in arrival order; a write goroutine drains the
// session's outbox onto the socket. Everything the session sends, replies and
// broadcast deltas alike, goes through the outbox.
type Session struct {
	id          string
	conn        *websocket.Conn
	out         *marketdata.Outbox
	engine      Engine
	cfg         Config
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	lastActive atomic.Int64
	subscribed atomic.Bool
	commands   atomic.Uint64
	failures   atomic.Uint64
	closing    atomic.Bool

	mu      sync.Mutex
	history []CommandRecord
	reason  string

	writerDone chan struct{}
	logger     *zap.Logger
}

func newSession(conn *websocket.Conn, engine Engine, cfg Config, logger *zap.Logger) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id,
		conn:        conn,
		out:         marketdata.NewOutbox(cfg.OutboxSize),
		engine:      engine,
		cfg:         cfg,
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		writerDone:  make(chan struct{}),
		logger:      logger.With(zap.String("session", id)),
	}
	s.touch()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Info returns a snapshot of the session's state and recent commands.
func (s *Session) Info() Info {
	s.mu.Lock()
	recent := make([]CommandRecord, len(s.history))
	copy(recent, s.history)
	s.mu.Unlock()

	return Info{
		ID:          s.id,
		RemoteAddr:  s.conn.RemoteAddr().String(),
		ConnectedAt: s.connectedAt,
		LastActive:  time.Unix(0, s.lastActive.Load()),
		Subscribed:  s.subscribed.Load(),
		Commands:    s.commands.Load(),
		Errors:      s.failures.Load(),
		Recent:      recent,
	}
}

// Close ends the session from the server side. Frames already queued are
// still flushed before the close frame.
func (s *Session) Close() {
	s.setReason(ReasonShutdown)
	s.closing.Store(true)
	s.out.Close()
	// Unblock the reader.
	_ = s.conn.SetReadDeadline(time.Now())
}

// run drives the session until the connection ends and returns the close reason.
func (s *Session) run() string {
	go s.writePump()

	s.send(protocol.EncodeConnected(s.id))
	s.readPump()

	// Commands still queued in the sequencer are dropped from here on.
	s.cancel()
	s.out.Close()
	<-s.writerDone

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = ReasonClient
	}
	return s.reason
}

func (s *Session) readPump() {
	s.extendDeadline()
	s.conn.SetPingHandler(func(data string) error {
		s.touch()
		s.extendDeadline()
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		s.touch()
		s.extendDeadline()

		if !s.handle(frame) {
			return
		}
	}
}

func (s *Session) readFailed(err error) {
	if s.closing.Load() {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.setReason(ReasonTimeout)
		s.logger.Info("idle timeout", zap.Duration("idle", s.cfg.IdleTimeout))
		s.send(protocol.EncodeError(0, domain.ErrSessionTimeout))
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		s.logger.Debug("read error", zap.Error(err))
	}
	s.setReason(ReasonClient)
}

// handle processes one inbound frame. It returns false when the session must end.
func (s *Session) handle(frame []byte) bool {
	id, cmd, err := protocol.DecodeCommand(frame)
	if err != nil {
		s.failures.Add(1)
		s.record(id, "", err)
		s.setReason(ReasonProtocol)
		s.logger.Warn("protocol error, closing session", zap.Uint64("id", id), zap.Error(err))
		s.send(protocol.EncodeError(id, err))
		return false
	}
	s.commands.Add(1)

	var res domain.Result
	if cmd.Kind == domain.CommandSubscribe {
		// The snapshot reply is queued by the sequencer itself.
		_, err = s.engine.Subscribe(s.ctx, s.id, id, cmd.Depth, s.out)
	} else {
		res, err = s.engine.Submit(s.ctx, s.id, cmd)
	}
	s.record(id, cmd.Kind, err)

	if err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		s.failures.Add(1)
		s.send(protocol.EncodeError(id, err))
		return true
	}

	switch cmd.Kind {
	case domain.CommandSubscribe:
		s.subscribed.Store(true)
	case domain.CommandSnapshot:
		s.send(protocol.EncodeSnapshot(id, res.Snapshot))
	case domain.CommandUnsubscribe:
		s.subscribed.Store(false)
		s.send(protocol.EncodeAck(id, res))
	default:
		s.send(protocol.EncodeAck(id, res))
	}
	return true
}

func (s *Session) writePump() {
	defer func() {
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for frame := range s.out.C() {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.setReason(ReasonWrite)
			s.logger.Debug("write failed", zap.Error(err))
			s.cancel()
			s.closing.Store(true)
			_ = s.conn.SetReadDeadline(time.Now())
			return
		}
	}

	code, text := websocket.CloseNormalClosure, ""
	if s.out.Overflowed() {
		s.setReason(ReasonOverflow)
		s.logger.Warn("outbox overflow, disconnecting slow session", zap.Int("outbox_size", s.cfg.OutboxSize))
		code, text = websocket.CloseTryAgainLater, "slow consumer"
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(s.cfg.WriteTimeout))
	if !s.closing.Swap(true) {
		// Unblock the reader if the peer never answers the close frame.
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
}

// send queues an encoded frame; encode failures are logged and skipped.
func (s *Session) send(frame []byte, err error) {
	if err != nil {
		s.logger.Error("encode frame", zap.Error(err))
		return
	}
	s.out.Push(frame)
}

func (s *Session) record(id uint64, kind domain.CommandKind, err error) {
	rec := CommandRecord{ID: id, Kind: kind, At: time.Now()}
	if err != nil {
		rec.Error = domain.KindOf(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.HistorySize <= 0 {
		return
	}
	if len(s.history) == s.cfg.HistorySize {
		s.history = append(s.history[:0], s.history[1:]...)
	}
	s.history = append(s.history, rec)
}

func (s *Session) setReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) extendDeadline() {
	if s.cfg.IdleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}

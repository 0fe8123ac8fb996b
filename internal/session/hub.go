// Package session manages client connections over WebSocket: one Session per
// connection, registered in a Hub that the server shuts down as a whole.
package session

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/marketdata"
	"github.com/nathanyu/level2-book/internal/middleware"
)

// Engine is the serializer sessions submit commands to.
type Engine interface {
	Submit(ctx context.Context, sessionID string, cmd domain.Command) (domain.Result, error)
	Subscribe(ctx context.Context, sessionID string, commandID uint64, depth int, out *marketdata.Outbox) (*domain.L2OrderBook, error)
}

// Unsubscriber removes a departed session from delta fan-out.
type Unsubscriber interface {
	Unsubscribe(sessionID string) bool
}

// Config bounds per-session resources.
type Config struct {
	IdleTimeout  time.Duration
	OutboxSize   int
	HistorySize  int
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.OutboxSize <= 0 {
		c.OutboxSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Hub tracks live sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	closed   bool

	engine   Engine
	fanout   Unsubscriber
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a hub whose sessions submit to engine.
func NewHub(engine Engine, fanout Unsubscriber, cfg Config, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		engine:   engine,
		fanout:   fanout,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Allow all origins (CORS handled by the HTTP stack)
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("session"),
	}
}

// ServeWS upgrades the request and runs the session in the background.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	s := newSession(conn, h.engine, h.cfg, h.logger)
	if !h.register(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		reason := s.run()
		h.unregister(s, reason)
	}()
}

func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s.id] = s
	h.wg.Add(1)
	middleware.SessionsActive.Inc()
	h.logger.Info("session connected",
		zap.String("session", s.id),
		zap.String("remote", s.conn.RemoteAddr().String()),
		zap.Int("total", len(h.sessions)),
	)
	return true
}

func (h *Hub) unregister(s *Session, reason string) {
	h.fanout.Unsubscribe(s.id)

	h.mu.Lock()
	delete(h.sessions, s.id)
	total := len(h.sessions)
	h.mu.Unlock()

	middleware.SessionsActive.Dec()
	middleware.SessionsClosed.WithLabelValues(reason).Inc()
	h.logger.Info("session disconnected",
		zap.String("session", s.id),
		zap.String("reason", reason),
		zap.Uint64("commands", s.commands.Load()),
		zap.Int("total", total),
	)
}

// Len returns the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions returns the state of every connected session, oldest first.
func (h *Hub) Sessions() []Info {
	h.mu.RLock()
	infos := make([]Info, 0, len(h.sessions))
	for _, s := range h.sessions {
		infos = append(infos, s.Info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Shutdown refuses new sessions, closes the live ones and waits for them to
// finish or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/config"
	"github.com/nathanyu/level2-book/internal/handler"
	"github.com/nathanyu/level2-book/internal/marketdata"
	"github.com/nathanyu/level2-book/internal/middleware"
	"github.com/nathanyu/level2-book/internal/orderbook"
	"github.com/nathanyu/level2-book/internal/sequencer"
	"github.com/nathanyu/level2-book/internal/session"
	"github.com/nathanyu/level2-book/internal/sink"
	"github.com/nathanyu/level2-book/internal/telemetry"
)

const (
	sinkBufferSize  = 4096
	shutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		return 2
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		return 2
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting level-2 book server",
		zap.String("instrument", cfg.Instrument),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
	)

	// --- Core components ---
	//
	// Session readers / REST handler → Sequencer [in] → OrderBook
	//                                      ↓ Publish (same goroutine)
	//            subscribed outboxes ← Publisher → Redis / NATS sinks

	book := orderbook.NewOrderBook(cfg.Instrument)
	publisher := marketdata.NewPublisher(cfg.MarketData.HistorySize, logger)
	seq := sequencer.NewSequencer(book, publisher, cfg.Sequencer.QueueSize, logger)
	seq.Start()

	hub := session.NewHub(seq, publisher, session.Config{
		IdleTimeout:  cfg.Session.IdleTimeout,
		OutboxSize:   cfg.Session.OutboxSize,
		HistorySize:  cfg.Session.HistorySize,
		WriteTimeout: cfg.Session.WriteTimeout,
	}, logger)

	// --- Optional downstream sinks ---
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	var sinks sync.WaitGroup
	var closers []func()

	if cfg.Redis.Enabled() {
		client, closeRedis, err := sink.NewRedisClient(sinkCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("redis mirror disabled", zap.Error(err))
		} else {
			mirror := sink.NewRedisMirror(client, cfg.Instrument, logger)
			feed := publisher.AttachSink("redis", sinkBufferSize)
			sinks.Add(1)
			go func() {
				defer sinks.Done()
				if err := mirror.Run(sinkCtx, feed); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("redis mirror stopped", zap.Error(err))
				}
			}()
			closers = append(closers, func() { _ = closeRedis() })
			logger.Info("redis mirror enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	if cfg.NATS.Enabled() {
		conn, err := sink.NewNATSConn(cfg.NATS.URL, logger)
		if err != nil {
			logger.Error("nats publisher disabled", zap.Error(err))
		} else {
			pub := sink.NewNATSPublisher(conn, cfg.NATS.Subject, cfg.Instrument, logger)
			feed := publisher.AttachSink("nats", sinkBufferSize)
			sinks.Add(1)
			go func() {
				defer sinks.Done()
				if err := pub.Run(sinkCtx, feed); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("nats publisher stopped", zap.Error(err))
				}
			}()
			closers = append(closers, func() { sink.CloseNATS(conn) })
			logger.Info("nats publisher enabled", zap.String("url", cfg.NATS.URL), zap.String("subject", cfg.NATS.Subject))
		}
	}

	// --- HTTP Server ---
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.PrometheusMiddleware())

	h := handler.NewHandler(seq, publisher, hub, cfg.Instrument)
	h.RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	srv := &http.Server{
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind listen address", zap.String("addr", cfg.ListenAddr), zap.Error(err))
		seq.Stop()
		return 1
	}

	// --- Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	go func() {
		logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	heartbeatDone := make(chan struct{})
	go heartbeat(cfg.HeartbeatInterval, hub, seq, publisher, logger, heartbeatDone)

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		code = 1
	}
	close(heartbeatDone)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := hub.Shutdown(ctx); err != nil {
		logger.Warn("sessions did not close in time", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}

	seq.Stop()
	publisher.Close()
	stopSinks()
	sinks.Wait()
	for _, closeSink := range closers {
		closeSink()
	}

	logger.Info("level-2 book server stopped", zap.Uint64("seq", seq.CurrentSeq()))
	return code
}

// heartbeat periodically logs server health until done is closed.
func heartbeat(interval time.Duration, hub *session.Hub, seq *sequencer.Sequencer, publisher *marketdata.Publisher, logger *zap.Logger, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			logger.Info("heartbeat",
				zap.Int("sessions", hub.Len()),
				zap.Int("subscribers", publisher.Subscribers()),
				zap.Uint64("seq", seq.CurrentSeq()),
				zap.Int("queue", seq.QueueLength()),
			)
		}
	}
}

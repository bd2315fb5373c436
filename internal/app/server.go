package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	intrnl "studyhub/internal"
	"studyhub/internal/presence"
	"studyhub/internal/stats"
	"studyhub/internal/storage"
	"studyhub/internal/storage/mongostore"
	"studyhub/internal/storage/usercache"
)

const startupTimeout = 10 * time.Second

// backend is the store RunServer resolves users and statistics against.
type backend interface {
	presence.UserLookup
	stats.Store
}

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr      string
	server    *http.Server
	hub       *intrnl.Hub
	tracker   *stats.Tracker
	scheduler *stats.Scheduler
	closers   []func(context.Context) error
	timeout   time.Duration
	logger    *zap.Logger
	done      chan struct{}
	err       error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server and its background workers have exited.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the configured store, loads the statistics, starts the
// midnight rollover and serves in the background. Call Stop/Wait to manage
// its lifecycle; cancelling ctx also stops it.
func RunServer(ctx context.Context, cfg ServerConfig, logger *zap.Logger) (*ServerHandle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Path = NormalizeJoinPath(cfg.Path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	handle := &ServerHandle{timeout: timeout, logger: logger, done: make(chan struct{})}
	fail := func(err error) (*ServerHandle, error) {
		handle.closeResources()
		return nil, err
	}

	store, err := handle.openStore(cfg)
	if err != nil {
		return fail(err)
	}
	var users presence.UserLookup = store
	if cfg.Redis.Addr != "" {
		client := newRedisClient(cfg.Redis)
		handle.closers = append(handle.closers, func(context.Context) error { return client.Close() })
		pingCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, user cache will fall through", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		users = usercache.New(client, store, cfg.Redis.TTL, logger.Named("usercache"))
	}

	metrics := intrnl.NewMetrics()
	handle.tracker = stats.NewTracker(store,
		stats.WithLocation(loc),
		stats.WithLogger(logger.Named("stats")),
		stats.WithPersistFailureHook(metrics.PersistFailed),
	)
	initCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	rec := handle.tracker.Initialize(initCtx)
	cancel()
	logger.Info("statistics loaded",
		zap.String("id", rec.ID),
		zap.Int64("total", rec.Total),
		zap.Time("today", rec.Today.Date),
	)
	handle.scheduler = stats.NewScheduler(handle.tracker, stats.SystemClock(), loc, logger.Named("rollover"))
	handle.scheduler.Start()
	logger.Info("rollover scheduled", zap.Time("next", handle.scheduler.Next()), zap.String("timezone", loc.String()))

	handle.hub = intrnl.NewHub(
		intrnl.WithDropHook(metrics.DroppedListener),
		intrnl.WithHubLogger(logger.Named("hub")),
	)
	service := presence.NewService(users, handle.tracker, handle.hub,
		presence.WithLogger(logger.Named("presence")),
		presence.WithObserver(metrics),
	)
	server := intrnl.NewServer(service, handle.hub, metrics,
		intrnl.WithLogger(logger.Named("http")),
		intrnl.WithRESTLimit(cfg.Limit.RESTRequests, cfg.Limit.RESTWindow),
		intrnl.WithWSEventLimit(cfg.Limit.WSRate, cfg.Limit.WSBurst),
		intrnl.WithTrustProxy(cfg.TrustProxy),
	)

	handle.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(cfg.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fail(fmt.Errorf("listen: %w", err))
	}
	handle.addr = listener.Addr().String()
	logger.Info("serving", zap.String("addr", handle.addr), zap.String("path", cfg.Path), zap.String("store", cfg.Store))

	go func() {
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-handle.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := handle.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	go handle.serve(listener)

	return handle, nil
}

func (h *ServerHandle) openStore(cfg ServerConfig) (backend, error) {
	switch cfg.Store {
	case StoreMongo:
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		store, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		h.closers = append(h.closers, store.Close)
		return store, nil
	default:
		if !strings.Contains(cfg.DBPath, ":memory:") && !strings.Contains(cfg.DBPath, "mode=memory") {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		h.closers = append(h.closers, func(context.Context) error { return store.Close() })
		if err := store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	}
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.closeResources()
	h.err = err
}

// closeResources stops the workers and flushes the statistics before the
// stores go away. Websocket clients are disconnected by closing the hub.
func (h *ServerHandle) closeResources() {
	if h.scheduler != nil {
		h.scheduler.Stop()
	}
	if h.hub != nil {
		h.hub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if h.tracker != nil {
		if err := h.tracker.Close(ctx); err != nil {
			h.logger.Warn("flush statistics", zap.Error(err))
		}
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](ctx); err != nil {
			h.logger.Warn("close resource", zap.Error(err))
		}
	}
	h.closers = nil
}

func newRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

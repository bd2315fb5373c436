package internal

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"studyhub/internal/presence"
)

const (
	defaultLookupTimeout = 5 * time.Second
	defaultRESTLimit     = 30
	defaultRESTWindow    = time.Minute
	defaultWSEventRate   = 2
	defaultWSEventBurst  = 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// PresenceService is the part of presence.Service the transport drives.
type PresenceService interface {
	HandleJoin(ctx context.Context, userID, handle string)
	HandleLeave(handle string)
	Snapshot() presence.Event
	Online() int
}

// Server exposes the presence service over websocket and REST.
type Server struct {
	presence      PresenceService
	hub           *Hub
	metrics       *Metrics
	restLimiter   *RateLimiter
	wsRate        rate.Limit
	wsBurst       int
	lookupTimeout time.Duration
	trustProxy    bool
	logger        *zap.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithRESTLimit allows limit REST calls per client IP within window.
func WithRESTLimit(limit int, window time.Duration) ServerOption {
	return func(s *Server) {
		if limit > 0 && window > 0 {
			s.restLimiter = NewRateLimiter(limit, window)
		}
	}
}

// WithWSEventLimit caps inbound websocket events per connection.
func WithWSEventLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.wsRate = rate.Limit(perSecond)
			s.wsBurst = burst
		}
	}
}

func WithLookupTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.lookupTimeout = d
		}
	}
}

// WithTrustProxy makes clientIP honour X-Forwarded-For.
func WithTrustProxy(trust bool) ServerOption {
	return func(s *Server) { s.trustProxy = trust }
}

func NewServer(svc PresenceService, hub *Hub, metrics *Metrics, opts ...ServerOption) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		presence:      svc,
		hub:           hub,
		metrics:       metrics,
		restLimiter:   NewRateLimiter(defaultRESTLimit, defaultRESTWindow),
		wsRate:        defaultWSEventRate,
		wsBurst:       defaultWSEventBurst,
		lookupTimeout: defaultLookupTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeWS upgrades the request and attaches the connection to the hub. The
// connection joins nobody until it sends a join event.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	client := newClient(uuid.NewString(), conn, rate.NewLimiter(s.wsRate, s.wsBurst))
	if !s.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.metrics.IncConn()
	s.logger.Debug("websocket opened", zap.String("conn_id", client.id), zap.String("remote", s.clientIP(r)))

	go client.writePump()
	go client.readPump(s)
}

// Routes mounts the websocket endpoint at wsPath next to the REST API.
func (s *Server) Routes(wsPath string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.ServeWS)
	mux.HandleFunc("/v1/realtime", s.HandleRealtime)
	mux.HandleFunc("/v1/realtime/join", s.HandleRealtimeJoin)
	mux.HandleFunc("/v1/realtime/out", s.HandleRealtimeOut)
	mux.HandleFunc("/v1/statistics", s.HandleStatistics)
	mux.HandleFunc("/healthz", s.HandleHealth)
	mux.Handle("/metrics", s.MetricsHandler())
	return mux
}

// MetricsHandler serves Prometheus metrics.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

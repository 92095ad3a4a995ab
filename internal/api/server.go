package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/playrelay/internal/audit"
	"github.com/nerrad567/playrelay/internal/credential"
	"github.com/nerrad567/playrelay/internal/infrastructure/config"
	"github.com/nerrad567/playrelay/internal/infrastructure/logging"
	"github.com/nerrad567/playrelay/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionStatus reports whether an optional integration is connected.
// Satisfied by *mqtt.Client.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Broadcaster *relay.Broadcaster
	Credentials *credential.Store
	Audit       audit.Repository // optional; audit is skipped when nil
	MQTT        ConnectionStatus // optional; leave nil (not a typed nil) when MQTT is disabled
	DB          *sql.DB          // optional; used for /metrics only
	Version     string
}

// Server is the HTTP API server for Play Relay.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	broadcaster *relay.Broadcaster
	credentials *credential.Store
	auditRepo   audit.Repository
	auditCh     chan *audit.AuditLog
	auditDone   chan struct{}
	mqtt        ConnectionStatus
	db          *sql.DB
	version     string
	startTime   time.Time

	hub   *Hub
	guard *authGuard // nil when rate limiting is disabled

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		broadcaster: deps.Broadcaster,
		credentials: deps.Credentials,
		auditRepo:   deps.Audit,
		mqtt:        deps.MQTT,
		db:          deps.DB,
		version:     deps.Version,
		startTime:   time.Now(),
		auditDone:   make(chan struct{}),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	if rl := deps.Security.RateLimit; rl.Enabled && rl.MaxFailures > 0 {
		s.guard = newAuthGuard(rl.MaxFailures, time.Duration(rl.BlockSeconds)*time.Second)
	}

	s.hub = NewHub(s.wsCfg, s.logger, s.broadcaster)
	s.hub.SetCommandRecorder(s.recordCommand)

	return s, nil
}

// Handler returns the fully wired HTTP handler. Start uses it; tests can
// mount it on an httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, the audit writer and the auth guard cleanup,
// binds the listener (so a port in use fails here) and serves in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.drainAuditLog(srvCtx)
	if s.guard != nil {
		go s.guard.Run(srvCtx)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	s.mu.Lock()
	s.server = server
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It disconnects every WebSocket session, flushes queued audit entries and
// waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	server, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	cancel()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	err := server.Shutdown(ctx)

	select {
	case <-s.auditDone:
	case <-ctx.Done():
		s.logger.Warn("audit log drain timed out")
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

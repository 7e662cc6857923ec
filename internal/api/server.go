package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/notify-core/internal/auth"
	"github.com/nerrad567/notify-core/internal/infrastructure/config"
	"github.com/nerrad567/notify-core/internal/infrastructure/logging"
	"github.com/nerrad567/notify-core/internal/notification"
	"github.com/nerrad567/notify-core/internal/presence"
	"github.com/nerrad567/notify-core/internal/push"
	"github.com/nerrad567/notify-core/internal/webhook"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BrokerStatus reports the broker connection state. *mqtt.Client
// implements it.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Users      auth.UserRepository
	Directory  *auth.Directory // optional: invalidated when users change
	Tokens     *auth.TokenIssuer
	ACL        *auth.AccessControl
	Webhook    *webhook.Handler
	Presence   *presence.Store
	Dispatcher *notification.Dispatcher
	Push       *push.Service // optional: push endpoints answer 503 without it
	Broker     BrokerStatus  // optional: reported by /health
	DB         *sql.DB       // optional: pool stats for /metrics
	Version    string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub
// that streams presence events. The server is created with New() and
// started with Start().
type Server struct {
	cfg        config.APIConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	users      auth.UserRepository
	directory  *auth.Directory
	tokens     *auth.TokenIssuer
	acl        *auth.AccessControl
	webhook    *webhook.Handler
	presence   *presence.Store
	dispatcher *notification.Dispatcher
	push       *push.Service
	broker     BrokerStatus
	db         *sql.DB
	version    string
	startTime  time.Time

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	limiter *rate.Limiter      // nil when broker endpoints are not limited
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The hub exists from construction on so it can be registered as a
// presence observer before the server starts.
//
// Parameters:
//   - deps: Required dependencies
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Users == nil:
		return nil, errors.New("user repository is required")
	case deps.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case deps.ACL == nil:
		return nil, errors.New("access control is required")
	case deps.Webhook == nil:
		return nil, errors.New("webhook handler is required")
	case deps.Presence == nil:
		return nil, errors.New("presence store is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	}

	s := &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		users:      deps.Users,
		directory:  deps.Directory,
		tokens:     deps.Tokens,
		acl:        deps.ACL,
		webhook:    deps.Webhook,
		presence:   deps.Presence,
		dispatcher: deps.Dispatcher,
		push:       deps.Push,
		broker:     deps.Broker,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Config.WebSocket, deps.Logger),
		tickets:    newTicketStore(),
	}

	if rl := deps.Config.RateLimit; rl.Enabled && rl.RequestsPerSecond > 0 {
		burst := max(rl.Burst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}

	return s, nil
}

// Hub returns the WebSocket hub. It implements presence.Observer.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with
// Close().
//
// Parameters:
//   - ctx: Parent context for the background goroutines
//
// Returns:
//   - error: Always nil; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
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

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

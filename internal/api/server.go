package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/auth"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/dispatcher"
	"github.com/nerrad567/homegateway/internal/infrastructure/config"
	"github.com/nerrad567/homegateway/internal/infrastructure/logging"
	"github.com/nerrad567/homegateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/homegateway/internal/supervisor"
	"github.com/nerrad567/homegateway/internal/workflow"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultAskTimeout bounds request/reply round-trips to actors.
const defaultAskTimeout = 10 * time.Second

// HistoryReader serves device transition history.
type HistoryReader interface {
	GetHistory(ctx context.Context, ieee string, limit int) ([]device.StateHistoryEntry, error)
}

// SupervisorStats reports the status of supervised children.
type SupervisorStats interface {
	Stats() []supervisor.Stats
}

// DispatcherStats reports dispatcher counters.
type DispatcherStats interface {
	Stats() dispatcher.Stats
}

// BrokerStatus reports the MQTT connection and its subscriptions.
type BrokerStatus interface {
	IsConnected() bool
	Subscriptions() []mqtt.SubscriptionStats
}

// WorkflowSource looks up named workflow definitions.
type WorkflowSource interface {
	Get(name string) (*workflow.Workflow, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	System   *actor.System
	Hub      *Hub // If set, the server uses this hub instead of creating its own

	History    HistoryReader
	Supervisor SupervisorStats
	Dispatcher DispatcherStats // optional
	Broker     BrokerStatus    // optional
	Workflows  WorkflowSource

	// Location reads zone-less alarm times. Defaults to time.Local.
	Location *time.Location

	// AskTimeout bounds alarm and reminder round-trips. Defaults to 10s.
	AskTimeout time.Duration
	Version    string
}

// Server is the HTTP API server for the home gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	allowlist  []netip.Prefix
	logger     *logging.Logger
	sys        *actor.System
	history    HistoryReader
	supervisor SupervisorStats
	dispatcher DispatcherStats
	broker     BrokerStatus
	workflows  WorkflowSource
	askTimeout time.Duration
	loc        *time.Location
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, actor system)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing or the allowlist is malformed
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.System == nil {
		return nil, fmt.Errorf("actor system is required")
	}

	allowlist, err := parseAllowlist(deps.Security.AllowedIPs)
	if err != nil {
		return nil, err
	}

	if hash := deps.Security.WebhookSecretHash; hash != "" {
		weak, err := auth.NeedsRehash(hash)
		if err != nil {
			return nil, fmt.Errorf("security.webhook_secret_hash: %w", err)
		}
		if weak {
			deps.Logger.Warn("webhook secret hash uses outdated argon2id parameters, regenerate it with hash-secret")
		}
	}

	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}

	askTimeout := deps.AskTimeout
	if askTimeout <= 0 {
		askTimeout = defaultAskTimeout
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		allowlist:  allowlist,
		logger:     deps.Logger,
		sys:        deps.System,
		history:    deps.History,
		supervisor: deps.Supervisor,
		dispatcher: deps.Dispatcher,
		broker:     deps.Broker,
		workflows:  deps.Workflows,
		askTimeout: askTimeout,
		loc:        loc,
		version:    deps.Version,
		hub:        deps.Hub,
	}, nil
}

// Hub returns the WebSocket hub. It is nil until Start() when no hub was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub unless one was injected,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

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
//
// Returns:
//   - error: If shutdown encounters an error
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// parseAllowlist turns addresses and CIDR ranges into prefixes.
func parseAllowlist(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("allowed_ips entry %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("allowed_ips entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Package api provides the HTTP REST surface for Ember Gateway.
//
// It exposes account registration and login, binding-token issuance for
// device pairing, device management (alias, unbind, configuration), the
// command audit trail, and the WebSocket upgrade endpoint that hands
// connections to the gateway core.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/emberhome/ember-gateway/internal/auth"
	"github.com/emberhome/ember-gateway/internal/binding"
	"github.com/emberhome/ember-gateway/internal/device"
	"github.com/emberhome/ember-gateway/internal/gateway"
	"github.com/emberhome/ember-gateway/internal/infrastructure/config"
	"github.com/emberhome/ember-gateway/internal/infrastructure/logging"
	"github.com/emberhome/ember-gateway/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	WSPath   string // route the WebSocket upgrade is served on
	Logger   *logging.Logger
	Users    auth.UserRepository
	Binding  *binding.Store
	Devices  device.Directory
	Configs  device.ConfigStore
	Audit    telemetry.AuditRepository
	Gateway  *gateway.Gateway
	Version  string
}

// Server is the HTTP API server for Ember Gateway.
type Server struct {
	cfg      config.APIConfig
	secCfg   config.SecurityConfig
	wsPath   string
	logger   *logging.Logger
	users    auth.UserRepository
	binding  *binding.Store
	devices  device.Directory
	configs  device.ConfigStore
	audit    telemetry.AuditRepository
	gateway  *gateway.Gateway
	verifier *auth.Verifier
	version  string
	server   *http.Server
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Users == nil || deps.Binding == nil || deps.Devices == nil {
		return nil, fmt.Errorf("persistence repositories are required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	return &Server{
		cfg:      deps.Config,
		secCfg:   deps.Security,
		wsPath:   deps.WSPath,
		logger:   deps.Logger,
		users:    deps.Users,
		binding:  deps.Binding,
		devices:  deps.Devices,
		configs:  deps.Configs,
		audit:    deps.Audit,
		gateway:  deps.Gateway,
		verifier: auth.NewVerifier(deps.Security.JWT.Secret),
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections. It builds the router,
// starts the periodic binding-token cleanup, and launches the listener in
// a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.cleanTokensLoop(srvCtx)

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
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
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

// cleanTokensLoop periodically deletes expired binding tokens so the
// pairing table does not grow without bound.
func (s *Server) cleanTokensLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.binding.DeleteExpired(ctx)
			if err != nil {
				s.logger.Warn("binding token cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("expired binding tokens removed", "count", n)
			}
		}
	}
}

// Close gracefully shuts down the API server, waiting up to ten seconds
// for in-flight requests before forcing remaining connections closed.
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
		return fmt.Errorf("api server not started")
	}
	return nil
}

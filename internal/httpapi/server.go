// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

// Package httpapi exposes the portal's authentication and administration
// endpoints over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/campusgate/campusgate/internal/access"
	"github.com/campusgate/campusgate/internal/audit"
	"github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/observability"
)

// AuditSearcher queries the audit trail for reporting endpoints.
type AuditSearcher interface {
	Search(ctx context.Context, q audit.Query) ([]audit.Event, error)
}

// Options configures a Server.
type Options struct {
	Addr        string
	CORSOrigins []string
	Service     *auth.Service
	Middleware  *access.Middleware
	Audit       AuditSearcher
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Server is the portal's public HTTP surface.
type Server struct {
	addr       string
	engine     *gin.Engine
	listener   net.Listener
	httpServer *http.Server
	service    *auth.Service
	audit      AuditSearcher
	metrics    *observability.Metrics
	logger     *slog.Logger
	running    atomic.Bool
}

// NewServer builds the gin engine and registers all routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if opts.Middleware == nil {
		return nil, oops.Errorf("access middleware is required")
	}
	if opts.Audit == nil {
		return nil, oops.Errorf("audit searcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	if len(opts.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = opts.CORSOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsCfg))
	}

	s := &Server{
		addr:    opts.Addr,
		engine:  engine,
		service: opts.Service,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  logger,
	}

	api := engine.Group("/api")
	{
		api.POST("/auth/login", s.handleLogin)
		// Logout is a stateless acknowledgment: the token is identified for
		// the audit trail when present, never required.
		api.POST("/auth/logout", opts.Middleware.Identify(), s.handleLogout)
		api.GET("/me", opts.Middleware.RequireRoles(), s.handleMe)

		admin := api.Group("/admin", opts.Middleware.RequireRoles(auth.RoleAdmin, auth.RoleRoot))
		{
			admin.GET("/audit", s.handleAuditSearch)
			admin.POST("/users", s.handleCreateUser)
		}
	}

	return s, nil
}

// Engine exposes the underlying router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving. It returns an error channel that receives any error
// from the HTTP server after startup; the channel is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_http_server").Wrap(err)
		}
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the bound listen address, or empty when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// requestLogger emits one structured log line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// originFrom extracts the audit origin from a request.
func originFrom(c *gin.Context) auth.Origin {
	return auth.Origin{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

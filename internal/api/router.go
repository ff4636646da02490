// Package api serves the agent's status API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ipwatch/internal/api/middleware"
	av1 "ipwatch/internal/api/v1"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router handles all routing logic
type Router struct {
	engine *gin.Engine
	logger *zap.Logger
}

// NewRouter creates and configures a new router
func NewRouter(svc av1.Service, gatherer prometheus.Gatherer, logger *zap.Logger, debug bool) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine: gin.New(),
		logger: logger,
	}

	r.setupMiddleware()
	r.setupAPIV1(svc)
	if gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// setupMiddleware configures all middleware
func (r *Router) setupMiddleware() {
	m := middleware.New(r.logger)

	r.engine.Use(m.RequestID())
	r.engine.Use(m.Logger())
	r.engine.Use(m.Recovery())
	r.engine.Use(m.Secure())
}

// setupAPIV1 configures v1 API routes
func (r *Router) setupAPIV1(svc av1.Service) {
	api := av1.NewAPI(svc, r.logger)

	v1Router := r.engine.Group("/api/v1")
	v1Router.Use(middleware.New(r.logger).NoCache())

	api.RegisterRoutes(v1Router)
}

// Server runs the router on a listener
type Server struct {
	server *http.Server
	logger *zap.Logger
	done   chan struct{}
}

// NewServer creates new API server
func NewServer(addr string, router *Router, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		logger: logger,
	}
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.done = make(chan struct{})

	s.logger.Info("Starting API server", zap.String("address", ln.Addr().String()))
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	<-s.done
	return nil
}

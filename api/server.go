package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/handlers"
	"github.com/bolo3547/kupemisa-cooking-sub000/api/middleware"
	"github.com/bolo3547/kupemisa-cooking-sub000/api/routes"
	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/ratelimit"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	nrApp *newrelic.Application,
	svc service.Service,
	limiter ratelimit.Limiter,
	ready map[string]handlers.Pinger,
) *Server {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if nrApp != nil {
		router.Use(middleware.NewRelicMiddleware(nrApp))
	}
	router.Use(middleware.Logger(log))

	routes.SetupRoutes(router, routes.Dependencies{
		Service: svc,
		Limiter: limiter,
		Ready:   ready,
		Limits:  cfg.RateLimit,
		Log:     log,
	})

	return &Server{
		router: router,
		config: cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Infof("Starting server on port %d", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

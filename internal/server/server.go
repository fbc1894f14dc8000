// Package server exposes the operator control API over HTTP: lifecycle
// commands, status, configuration inspection, and log streaming.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dbmigration/keeper/internal/config"
	"github.com/dbmigration/keeper/internal/logbuf"
	"github.com/dbmigration/keeper/internal/logging"
	"github.com/dbmigration/keeper/internal/supervisor"
)

// Controller is the lifecycle surface the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status(tail int) supervisor.Snapshot
	Config() *config.Resolved
}

// Server is the control-API HTTP server backed by Gin.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     Config
	ctrl       Controller
	logs       *logbuf.Buffer
	loader     supervisor.Loader
	log        *logging.Logger
}

// New creates a Server with the middleware stack applied and all routes
// registered.
func New(cfg Config, ctrl Controller, logs *logbuf.Buffer, loader supervisor.Loader, log *logging.Logger) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth, err := newAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	s := &Server{
		engine: engine,
		config: cfg,
		ctrl:   ctrl,
		logs:   logs,
		loader: loader,
		log:    log.WithComponent("server"),
	}

	engine.Use(Recovery(s.log))
	engine.Use(RequestID())
	engine.Use(RequestLogger(s.log))
	engine.Use(Auth(auth))
	s.registerRoutes()

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      h2c.NewHandler(engine, h2s),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}

	return s, nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)

	v1 := s.engine.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/start", s.handleStart)
	v1.POST("/stop", s.handleStop)
	v1.POST("/restart", s.handleRestart)
	v1.GET("/config", s.handleConfig)
	v1.GET("/logs", s.handleLogs)
}

// Engine returns the underlying Gin engine. Used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start binds the port and begins serving. It returns once the listener
// is bound; serving continues in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	s.log.Info("Control API listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	return nil
}

// Stop gracefully shuts down the server with a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.log.Info("Control API shut down")
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

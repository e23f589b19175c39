// Package server wires the HTTP surface over the core services.
package server

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	"mailbase/internal/cache"
	"mailbase/internal/config"
	"mailbase/internal/handlers"
	"mailbase/internal/index"
	"mailbase/internal/retrieval"
	"mailbase/internal/syncer"
)

// Server represents the application server
type Server struct {
	echo     *echo.Echo
	db       *sqlx.DB
	config   *config.Config
	logger   zerolog.Logger
	cache    *cache.Cache
	engine   *retrieval.Engine
	indexer  *index.Indexer
	syncer   *syncer.Syncer
	answerer handlers.Answerer
}

// New creates a new server instance
func New(cfg *config.Config, db *sqlx.DB, engine *retrieval.Engine, indexer *index.Indexer, s *syncer.Syncer, answerer handlers.Answerer, logger zerolog.Logger) *Server {
	return &Server{
		config:   cfg,
		db:       db,
		logger:   logger,
		cache:    cache.New(),
		engine:   engine,
		indexer:  indexer,
		syncer:   s,
		answerer: answerer,
	}
}

// zerologMiddleware creates a zerolog-based logging middleware for Echo
func (s *Server) zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			s.logger.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("latency_ms", time.Since(start).Milliseconds()).
				Str("user_agent", req.UserAgent()).
				Msg("HTTP request")

			return err
		}
	}
}

// Initialize sets up the Echo framework with middleware and routes
func (s *Server) Initialize() {
	s.echo = echo.New()

	s.echo.Use(s.zerologMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.HideBanner = true

	s.setupRoutes()
}

// setupRoutes configures all the application routes
func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	// Health endpoints stay at root level for monitoring
	s.echo.GET("/healthz", handlers.HealthHandler(s.config.Version))
	s.echo.GET("/healthz/db", handlers.DBHealthHandler(s.db))

	api.POST("/query", handlers.QueryHandler(s.engine, s.answerer, s.cache, s.logger))
	api.GET("/threads", handlers.ThreadsHandler(s.db))
	api.GET("/threads/:id", handlers.ThreadDetailHandler(s.db))
	api.POST("/sync", handlers.SyncHandler(s.syncer, s.logger))
	api.GET("/stats", handlers.StatsHandler(s.indexer))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("port", s.config.Port).Msg("Server starting")
	return s.echo.Start(":" + s.config.Port)
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown() error {
	return s.echo.Close()
}

// Package server exposes the comment board over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "threadboard/docs" // swagger docs
	"threadboard/internal/auth"
	"threadboard/internal/cache"
	"threadboard/internal/config"
	"threadboard/internal/database"
	"threadboard/internal/middleware"
	"threadboard/internal/models"
	"threadboard/internal/notifications"
	"threadboard/internal/observability"
	"threadboard/internal/repository"
	"threadboard/internal/service"
	"threadboard/internal/storage"
	"threadboard/internal/tasks"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const bodyLimit = 10 << 20

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	store          storage.Store
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownFn     context.CancelFunc
	verifier       *auth.Verifier
	userRepo       repository.UserRepository
	commentRepo    repository.CommentRepository
	listingCache   cache.ListingCache
	queue          *tasks.Queue
	notifier       *notifications.Notifier
	hub            *notifications.CommentHub
	dispatcher     *notifications.Dispatcher
	commentService *service.CommentService
}

// NewServer connects to the database, Redis and attachment storage and
// builds a server on top of them.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = cache.NewClient(cfg.RedisURL)
	}

	store, err := storage.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("attachment storage: %w", err)
	}

	return NewServerWithDeps(cfg, db, redisClient, store)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil, in which case the listing cache always misses and
// events are delivered to this instance's subscribers only.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, store storage.Store) (*Server, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := notifications.NewCommentHub()
	notifier := notifications.NewNotifier(redisClient)
	if notifier.Enabled() {
		if err := hub.StartWiring(ctx, notifier); err != nil {
			// fall back to local delivery only
			observability.Degraded(ctx, "broadcast", "subscribe", err)
			notifier = notifications.NewNotifier(nil)
		}
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		store:          store,
		promMiddleware: middleware.InitMetrics("threadboard-api"),
		shutdownFn:     cancel,
		verifier:       auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		userRepo:       repository.NewUserRepository(db),
		commentRepo:    repository.NewCommentRepository(db),
		listingCache:   cache.NewRedisListingCache(redisClient),
		queue:          tasks.NewQueue(cfg.BroadcastWorkers, cfg.BroadcastQueueSize),
		notifier:       notifier,
		hub:            hub,
	}
	s.dispatcher = notifications.NewDispatcher(s.queue, s.commentRepo, s.notifier, s.hub, s.attachmentURL(cfg.PublicBaseURL))
	s.commentService = service.NewCommentService(s.commentRepo, s.listingCache, s.dispatcher, store, cfg.CacheTTL())
	s.queue.Start()

	return s, nil
}

// App returns the configured Fiber app, building it on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	app := fiber.New(fiber.Config{
		AppName:      "Threadboard API",
		BodyLimit:    bodyLimit,
		ErrorHandler: s.errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())

	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New(helmet.Config{
		// attachments are loaded cross-origin by the frontend
		CrossOriginResourcePolicy: "cross-origin",
	}))

	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		MaxAge:       86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || !s.config.IsProduction()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Detail: "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	if local, ok := s.store.(*storage.LocalStore); ok {
		app.Static(s.config.MediaURLPrefix, local.Root(), fiber.Static{
			Browse: false,
		})
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	comments := api.Group("/comments", s.OptionalAuth())
	comments.Get("/", s.ListComments)
	comments.Post("/", middleware.RateLimit(s.redis, 10, time.Minute, "create_comment"), s.CreateComment)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	comments.Post("/:id/vote", s.AuthRequired(), s.VoteComment)
	comments.Delete("/:id/vote", s.AuthRequired(), s.UnvoteComment)
	comments.Post("/:id/bookmark", s.AuthRequired(), s.BookmarkComment)
	comments.Delete("/:id/bookmark", s.AuthRequired(), s.UnbookmarkComment)
	comments.Get("/:id", s.GetComment)
	comments.Put("/:id", s.AuthRequired(), s.UpdateComment)
	comments.Patch("/:id", s.AuthRequired(), s.UpdateComment)
	comments.Delete("/:id", s.AuthRequired(), s.DeleteComment)

	app.Use("/ws", s.requireUpgrade)
	app.Get("/ws/comments", s.OptionalAuth(), s.CommentsWebSocket())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: an
// instance without it is ready but serves uncached listings.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database":      dbStatus,
			"redis":         redisStatus,
			"subscribers":   s.hub.Count(),
			"pending_tasks": s.queue.Pending(),
		},
		"time": time.Now(),
	})
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Detail: fe.Message})
	}
	observability.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// attachmentURL resolves blob keys to download URLs. Relative URLs from the
// local store are prefixed with base when it is known.
func (s *Server) attachmentURL(base string) func(key string) string {
	if s.store == nil {
		return nil
	}
	return func(key string) string {
		u := s.store.URL(key)
		if strings.HasPrefix(u, "/") && base != "" {
			return strings.TrimRight(base, "/") + u
		}
		return u
	}
}

// Start starts the server
func (s *Server) Start() error {
	app := s.App()
	observability.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests, drains pending broadcasts and closes
// every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.queue.Shutdown(ctx); err != nil {
		observability.Logger.Error("error draining task queue", slog.String("error", err.Error()))
	}

	// stops the Redis subscriber
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		observability.Logger.Error("error shutting down comment hub", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			observability.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			observability.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	observability.Logger.Info("Server shutdown complete")
	return nil
}

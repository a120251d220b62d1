// Package server exposes the HTTP ingest endpoint feeding log events to the appenders.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/orgoj/amqpgelf/internal/appender"
	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/iputil"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"github.com/orgoj/amqpgelf/internal/logger"
	"golang.org/x/time/rate"
)

// EventRouter delivers events to the configured appenders. *logger.Manager implements it.
type EventRouter interface {
	Log(ev *logevent.Event)
	Names() []string
	Stats() map[string]appender.Stats
}

// Dependencies holds the dependencies needed by the server.
type Dependencies struct {
	Config    *config.Config
	Events    EventRouter
	AppLogger *logger.AppLogger
}

// Server represents the HTTP server
type Server struct {
	router         *gin.Engine
	httpServer     *http.Server
	config         *config.Config
	events         EventRouter
	appLogger      *logger.AppLogger
	trustedProxies []netip.Prefix
	// Rate limiting specific
	limiters   map[string]*rate.Limiter
	limiterMu  sync.Mutex
	rateLimit  rate.Limit
	burstLimit int
}

// NewServer creates a new server instance with its dependencies.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Config == nil {
		panic("server: Config dependency cannot be nil")
	}
	if deps.Events == nil {
		panic("server: Events dependency cannot be nil")
	}
	if deps.AppLogger == nil {
		deps.AppLogger = logger.GetAppLogger()
	}

	trusted, err := iputil.ParsePrefixes(deps.Config.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: invalid trusted_proxies: %w", err)
	}

	if deps.Config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Config.Server.Mode == "debug" {
		router.Use(gin.Logger())
	}

	s := &Server{
		router:         router,
		config:         deps.Config,
		events:         deps.Events,
		appLogger:      deps.AppLogger,
		trustedProxies: trusted,
		limiters:       make(map[string]*rate.Limiter),
		rateLimit:      rate.Inf,
	}

	if limit := deps.Config.Server.RequestLimits.RateLimit; limit > 0 {
		// Convert requests per minute to requests per second
		s.rateLimit = rate.Limit(float64(limit) / 60.0)
		// Allow bursts up to the per-minute limit
		s.burstLimit = limit
		s.appLogger.Info("Rate limiting enabled for /log: Rate=%.2f req/sec, Burst=%d", float64(s.rateLimit), s.burstLimit)
	} else {
		s.appLogger.Info("Rate limiting disabled for /log.")
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port),
		Handler: router,
	}
	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Health and version are never rate limited
	s.router.GET("/health", s.healthHandler)
	s.router.HEAD("/health", func(c *gin.Context) {
		s.appLogger.Health("Health check (HEAD) from %s", s.clientIP(c))
		c.Status(http.StatusOK)
	})
	s.router.GET("/version", versionHandler)

	logGroup := s.router.Group("/log")
	if s.rateLimit != rate.Inf {
		logGroup.Use(s.rateLimitMiddleware())
	}
	logGroup.POST("", s.logHandler)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) clientIP(c *gin.Context) string {
	return iputil.ClientIP(c.Request, s.trustedProxies, s.config.Server.ClientIPHeader)
}

// rateLimitMiddleware creates a Gin middleware for rate limiting based on IP.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := s.clientIP(c)

		s.limiterMu.Lock()
		limiter, exists := s.limiters[ip]
		if !exists {
			limiter = rate.NewLimiter(s.rateLimit, s.burstLimit)
			s.limiters[ip] = limiter
		}
		s.limiterMu.Unlock()

		if !limiter.Allow() {
			s.appLogger.Info("Rate limit exceeded for IP: %s", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// Start serves HTTP until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.appLogger.Info("Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

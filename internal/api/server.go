// Package api exposes the push subscription endpoints, the live connection
// endpoint, health and metrics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ravenmail/internal/conf"
	"ravenmail/internal/events"
	"ravenmail/internal/models"
	"ravenmail/internal/push"
)

// Authenticator resolves the session cookie of a request
type Authenticator interface {
	ResolveRequest(r *http.Request) (*models.Identity, error)
}

// PushService is the delivery engine as seen by the API
type PushService interface {
	PublicKey() string
	Available() bool
	SendTestNotification(ctx context.Context, userID string) push.Result
	Stats(ctx context.Context, userID string, since time.Time) (*models.DeliveryStats, error)
}

// SubscriptionStore persists push subscriptions
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]models.Subscription, error)
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) error
}

// Publisher accepts events from mail sync workers
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Dependencies are the components served by the API. Events and
// IngestToken are optional; without both the ingest route is not mounted.
type Dependencies struct {
	Sessions      Authenticator
	Push          PushService
	Subscriptions SubscriptionStore
	Hub           http.Handler
	Events        Publisher
	IngestToken   string
}

// Server is the HTTP front end
type Server struct {
	cfg        conf.HTTPConfig
	production bool
	deps       Dependencies
	log        *zap.SugaredLogger
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the router
func NewServer(cfg conf.HTTPConfig, production bool, deps Dependencies, log *zap.SugaredLogger) *Server {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg,
		production: production,
		deps:       deps,
		log:        log,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))
	router.Use(corsMiddleware(s.cfg.AllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.deps.Hub != nil {
		router.GET("/ws", gin.WrapH(s.deps.Hub))
	}

	if s.deps.Events != nil && s.deps.IngestToken != "" {
		router.POST("/internal/events", requireToken(s.deps.IngestToken), s.ingestEvent)
	}

	pushGroup := router.Group("/api/push")
	pushGroup.GET("/vapid-public-key", s.vapidPublicKey)

	authed := pushGroup.Group("", requireSession(s.deps.Sessions))
	authed.POST("/subscribe", s.subscribe)
	authed.POST("/unsubscribe", s.unsubscribe)
	authed.GET("/subscriptions", s.listSubscriptions)
	authed.POST("/test", s.sendTest)
	authed.GET("/stats", s.stats)

	return router
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Infof("HTTP server listening on %s", s.cfg.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server shutdown complete")
	return nil
}

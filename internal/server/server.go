// internal/server/server.go

// Package server exposes the dispatch engine and subscription registry
// over HTTP.
package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"push-dispatch/internal/audit"
	"push-dispatch/internal/common/config"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
	"push-dispatch/internal/registry"
)

// Dispatcher is the engine surface the HTTP layer consumes.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.NotificationRequest, sel models.Selector, actor string) (*models.DispatchResult, error)
	DispatchSingle(ctx context.Context, subscriberID string, req *models.NotificationRequest) (*models.DeliveryOutcome, error)
}

// SubscriptionStore is the registry write surface for the public
// subscribe/unsubscribe routes.
type SubscriptionStore interface {
	Upsert(ctx context.Context, reg registry.Registration) (string, error)
	Unsubscribe(ctx context.Context, endpoint string) error
	StatusByEndpoint(ctx context.Context, endpoint string) (string, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// KeySealer seals browser keys before they reach the store.
type KeySealer interface {
	Encrypt(km models.KeyMaterial) (models.EncryptedBlob, error)
}

// Auditor covers the click callback and the admin stats view.
type Auditor interface {
	RecordClick(ctx context.Context, endpoint, notificationID, action string) error
	RecentSends(ctx context.Context, limit int) ([]audit.SendSummary, error)
}

// AdminStore looks up stored admin credentials.
type AdminStore interface {
	AdminPasswordHash(ctx context.Context, username string) (string, error)
}

// Server wires the HTTP routes to the engine and its collaborators.
type Server struct {
	router     *gin.Engine
	dispatcher Dispatcher
	store      SubscriptionStore
	sealer     KeySealer
	auditor    Auditor
	admins     AdminStore
	cfg        *config.Config
	log        logger.Logger
}

func New(cfg *config.Config, dispatcher Dispatcher, store SubscriptionStore, sealer KeySealer, auditor Auditor, admins AdminStore, log logger.Logger) *Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:     router,
		dispatcher: dispatcher,
		store:      store,
		sealer:     sealer,
		auditor:    auditor,
		admins:     admins,
		cfg:        cfg,
		log:        log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": s.cfg.App.Name})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.POST("/subscribe", s.handleSubscribe())
		api.POST("/unsubscribe", s.handleUnsubscribe())
		api.GET("/subscription/status", s.handleSubscriptionStatus())
		api.POST("/notification-click", s.handleNotificationClick())
		api.POST("/admin/login", s.handleAdminLogin())
	}

	authed := api.Group("")
	authed.Use(jwtAuth(s.cfg.Auth.JWTSecret))
	{
		authed.POST("/notify", s.handleNotify())
		authed.POST("/notify/test", s.handleNotifyTest())
		authed.GET("/admin/stats", s.handleAdminStats())
	}
}

// Router exposes the gin engine for http.Server and tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

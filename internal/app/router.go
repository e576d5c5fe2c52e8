package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/handlers"
	"github.com/imrishuroy/go-webhook-relay/internal/logging"
	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

// RouterConfig groups what the HTTP surface needs.
type RouterConfig struct {
	Logger   *zap.Logger
	Resolver tenant.Resolver
	Webhooks handlers.WebhookConfig
	Admin    handlers.AdminConfig
}

// NewRouter builds the gin engine: health, metrics, webhook ingestion and DLQ admin.
func NewRouter(rc RouterConfig) *gin.Engine {
	if rc.Logger == nil {
		rc.Logger = zap.NewNop()
	}
	if rc.Resolver == nil {
		rc.Resolver = tenant.HeaderResolver{}
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(rc.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", tenant.Middleware(rc.Resolver))
	handlers.RegisterWebhookRoutes(api, rc.Webhooks)
	handlers.RegisterAdminRoutes(api, rc.Admin)
	return r
}

// Router wires NewRouter from the app's components.
func (a *App) Router() *gin.Engine {
	return NewRouter(RouterConfig{
		Logger: a.Logger,
		Webhooks: handlers.WebhookConfig{
			Secrets: a.Config.Webhooks.Secrets,
			MaxSkew: a.Config.Webhooks.MaxSkew(),
			Guard:   a.Guard,
			Emitter: a.Bus,
			Audit:   a.Store,
			Clock:   a.Clock,
			Logger:  a.Logger.Named("webhooks"),
		},
		Admin: handlers.AdminConfig{
			Store:               a.Store,
			Requeuer:            a.Requeuer,
			DeadLetterRetention: a.DeadLetterRetention(),
			AuditRetention:      a.AuditRetention(),
			Authorize:           handlers.AdminToken(a.Config.Admin.Token),
			Logger:              a.Logger.Named("admin"),
		},
	})
}

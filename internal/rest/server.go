package rest

import (
	"net/http"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/config"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewServer(cfg config.Config, logger *zap.Logger, gatherer prometheus.Gatherer) (*gin.Engine, *http.Server) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r, srv
}

// RegisterRoutes mounts every controller under /api. Webhook routes are
// authorised by the license key in the path; the rest need a bearer token.
func RegisterRoutes(r *gin.Engine, auth *Authenticator, webhook *WebhookController, user *UserController, admin *AdminController) {
	api := r.Group("/api")
	webhook.RegisterWebhookRoutes(api)
	user.RegisterUserRoutes(api.Group("", auth.RequireUser()))
	admin.RegisterAdminRoutes(api.Group("/ib", auth.RequireAdmin()))
}

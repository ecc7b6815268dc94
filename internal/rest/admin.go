package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/broker"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/engine"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/scheduler"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultRevokedLimit = 50

// ProviderHealth describes the broker integrations for the health endpoint.
// Nil fields are reported as not configured.
type ProviderHealth struct {
	Mode        string
	Credentials *broker.CredentialPool
	Feed        *broker.HyperliquidFeed
}

// AdminController serves the introducing-broker administration endpoints.
type AdminController struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	audit     *store.NotificationStore
	health    ProviderHealth
	logger    *zap.Logger
}

func NewAdminController(e *engine.Engine, s *scheduler.Scheduler, audit *store.NotificationStore, health ProviderHealth, logger *zap.Logger) *AdminController {
	return &AdminController{engine: e, scheduler: s, audit: audit, health: health, logger: logger}
}

func (a *AdminController) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", a.handleStats)
	rg.POST("/check-activity/:userId", a.handleCheckActivity)
	rg.GET("/users-at-risk", a.handleUsersAtRisk)
	rg.GET("/revoked-users", a.handleRevokedUsers)
	rg.GET("/audit/:userId", a.handleAudit)
	rg.POST("/revoke/:userId", a.handleRevoke)
	rg.POST("/reactivate/:userId", a.handleReactivate)
	rg.POST("/issue/:userId", a.handleIssue)
	rg.POST("/force-sync", a.handleForceSync)
	rg.POST("/force-auto-revoke", a.handleForceAutoRevoke)
	rg.GET("/health", a.handleHealth)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// reason reads an optional JSON body; an empty body is fine.
func reason(c *gin.Context, fallback string) string {
	var req reasonRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	if req.Reason == "" {
		return fallback
	}
	return req.Reason
}

func (a *AdminController) handleStats(c *gin.Context) {
	stats, err := a.engine.Stats(c.Request.Context())
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"brokers": stats})
}

func (a *AdminController) handleCheckActivity(c *gin.Context) {
	ev, err := a.engine.Evaluate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (a *AdminController) handleUsersAtRisk(c *gin.Context) {
	users, err := a.engine.UsersAtRisk(c.Request.Context())
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (a *AdminController) handleRevokedUsers(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRevokedLimit)))
	if err != nil || limit <= 0 {
		limit = defaultRevokedLimit
	}
	users, err := a.engine.RevokedUsers(c.Request.Context(), limit)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (a *AdminController) handleAudit(c *gin.Context) {
	entries, err := a.audit.ListAudit(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *AdminController) handleRevoke(c *gin.Context) {
	lic, err := a.engine.Revoke(c.Request.Context(), c.Param("userId"), currentUser(c), reason(c, "Manual revocation by admin"))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "license": lic})
}

func (a *AdminController) handleReactivate(c *gin.Context) {
	lic, err := a.engine.Reactivate(c.Request.Context(), c.Param("userId"), currentUser(c), reason(c, ""))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "license": lic})
}

func (a *AdminController) handleIssue(c *gin.Context) {
	lic, err := a.engine.IssueLicense(c.Request.Context(), c.Param("userId"), currentUser(c), reason(c, "Issued by admin"))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "license": lic})
}

func (a *AdminController) handleForceSync(c *gin.Context) {
	a.sweep(c, a.scheduler.ActivitySweep)
}

func (a *AdminController) handleForceAutoRevoke(c *gin.Context) {
	a.sweep(c, a.scheduler.AutoRevokeSweep)
}

func (a *AdminController) sweep(c *gin.Context, run func(context.Context) (scheduler.SweepResult, error)) {
	res, err := run(c.Request.Context())
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	errs := []string{}
	if res.Errors != nil {
		for _, e := range res.Errors.Errors {
			errs = append(errs, e.Error())
		}
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "errors": errs})
}

func (a *AdminController) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":       "ok",
		"providerMode": a.health.Mode,
		"timestamp":    a.engine.Now().Format(time.RFC3339),
	}
	if a.health.Credentials != nil {
		body["exnessCredentials"] = a.health.Credentials.State()
	}
	if a.health.Feed != nil {
		body["hyperliquidSubscriptions"] = a.health.Feed.Subscriptions()
	}
	c.JSON(http.StatusOK, body)
}

package rest

import (
	"net/http"
	"strconv"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/engine"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/relay"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserController serves the signed-in user's own license, activity and orders.
type UserController struct {
	engine        *engine.Engine
	relay         *relay.Relay
	notifications *store.NotificationStore
	logger        *zap.Logger
}

func NewUserController(e *engine.Engine, r *relay.Relay, notifications *store.NotificationStore, logger *zap.Logger) *UserController {
	return &UserController{engine: e, relay: r, notifications: notifications, logger: logger}
}

func (u *UserController) RegisterUserRoutes(rg *gin.RouterGroup) {
	rg.POST("/license/create", u.handleCreateLicense)
	rg.GET("/license/status", u.handleLicenseStatus)
	rg.GET("/ib/user-activity", u.handleUserActivity)
	rg.GET("/trade-history", u.handleTradeHistory)
	rg.GET("/notifications", u.handleNotifications)
	rg.POST("/notifications/:id/read", u.handleMarkRead)
}

func (u *UserController) handleCreateLicense(c *gin.Context) {
	lic, err := u.engine.CreateLicense(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, u.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "license": lic})
}

func (u *UserController) handleLicenseStatus(c *gin.Context) {
	st, err := u.engine.Status(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, u.logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (u *UserController) handleUserActivity(c *gin.Context) {
	records, err := u.engine.UserActivity(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, u.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": records})
}

func (u *UserController) handleTradeHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("limit"))
	res, err := u.relay.History(c.Request.Context(), currentUser(c), page, size)
	if err != nil {
		writeError(c, u.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (u *UserController) handleNotifications(c *gin.Context) {
	list, err := u.notifications.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, u.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (u *UserController) handleMarkRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}
	if err := u.notifications.MarkRead(c.Request.Context(), currentUser(c), uint(id)); err != nil {
		writeError(c, u.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

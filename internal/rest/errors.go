package rest

import (
	"errors"
	"net/http"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/broker"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps a domain error to an HTTP status and a message that is safe
// to return. Unknown errors become a bare 500.
func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, domain.ErrInvalidLicense):
		return http.StatusForbidden, "license invalid or expired"
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, domain.ErrLicenseNotFound):
		return http.StatusNotFound, "license not found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "trade not found"
	case errors.Is(err, domain.ErrLicenseAlreadyActive):
		return http.StatusConflict, "user already has an active license"
	case errors.Is(err, domain.ErrNoVerifiedActivity):
		return http.StatusUnprocessableEntity, "no trading activity could be verified for the linked broker account"
	case errors.Is(err, broker.ErrUpstreamUnavailable), errors.Is(err, broker.ErrUnauthenticated),
		errors.Is(err, domain.ErrUnknownBroker):
		return http.StatusBadGateway, "broker activity could not be checked"
	case errors.Is(err, scheduler.ErrPassInProgress):
		return http.StatusConflict, "pass already running"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable, "license busy, retry later"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

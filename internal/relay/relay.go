// Package relay accepts trading signals for licensed users, queues them as
// pending orders for the user's trading terminal and records the terminal's
// execution feedback.
package relay

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/engine"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/metrics"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/coder/quartz"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PendingLimit caps how many orders one terminal poll returns.
	PendingLimit = 50

	DefaultHistoryPageSize = 50
	MaxHistoryPageSize     = 200
)

// Error kinds returned to signal senders. They never carry internal detail.
const (
	KindValidation     = "validation"
	KindInvalidLicense = "invalid_license"
	KindUnavailable    = "unavailable"
)

// SignalPublisher forwards accepted signals downstream.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, order domain.PendingOrder) error
}

type Relay struct {
	engine    *engine.Engine
	orders    *store.OrderStore
	publisher SignalPublisher
	validate  *validator.Validate
	clock     quartz.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New builds a Relay. publisher may be nil.
func New(e *engine.Engine, orders *store.OrderStore, publisher SignalPublisher, clock quartz.Clock, m *metrics.Metrics, logger *zap.Logger) *Relay {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Relay{
		engine:    e,
		orders:    orders,
		publisher: publisher,
		validate:  v,
		clock:     clock,
		metrics:   m,
		logger:    logger,
	}
}

// ProcessSignal validates sig, checks the license and queues the signal as a
// pending order. The returned id identifies the order. A malformed signal is
// rejected before the license is looked at, so it never changes state.
func (r *Relay) ProcessSignal(ctx context.Context, userID, licenseKey string, sig domain.Signal) (string, error) {
	sig.Instrument = strings.TrimSpace(sig.Instrument)
	sig.Action = domain.SignalAction(strings.ToUpper(strings.TrimSpace(string(sig.Action))))
	if err := r.validateSignal(sig); err != nil {
		r.metrics.Signal(KindValidation)
		return "", err
	}

	order := domain.PendingOrder{
		ID:         uuid.NewString(),
		UserID:     userID,
		Instrument: sig.Instrument,
		Action:     sig.Action,
		Volume:     sig.Volume,
		Price:      sig.Price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Status:     domain.OrderPending,
		CreatedAt:  r.clock.Now().UTC(),
	}
	_, err := r.engine.AuthorizeSignal(ctx, userID, licenseKey, func(tx *store.Tx, lic domain.License) error {
		order.LicenseID = lic.ID
		return tx.InsertOrder(order)
	})
	if err != nil {
		r.metrics.Signal(ErrorKind(err))
		if errors.Is(err, domain.ErrInvalidLicense) {
			r.logger.Warn("signal rejected, invalid license", zap.String("user_id", userID))
		} else {
			r.logger.Error("signal processing failed", zap.String("user_id", userID), zap.Error(err))
		}
		return "", err
	}
	r.metrics.Signal("accepted")
	r.logger.Info("signal accepted",
		zap.String("user_id", userID),
		zap.String("order_id", order.ID),
		zap.String("instrument", order.Instrument),
		zap.String("action", string(order.Action)))

	if r.publisher != nil {
		if err := r.publisher.PublishSignal(ctx, order); err != nil {
			r.logger.Warn("publishing relayed signal failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	return order.ID, nil
}

func (r *Relay) validateSignal(sig domain.Signal) error {
	if err := r.validate.Struct(sig); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return &domain.ValidationError{Field: "signal", Reason: err.Error()}
	}
	if !sig.Volume.IsPositive() {
		return &domain.ValidationError{Field: "volume", Reason: "must be greater than 0"}
	}
	if sig.Price != nil && sig.Price.IsNegative() {
		return &domain.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if sig.StopLoss != nil && sig.StopLoss.IsNegative() {
		return &domain.ValidationError{Field: "stopLoss", Reason: "must not be negative"}
	}
	if sig.TakeProfit != nil && sig.TakeProfit.IsNegative() {
		return &domain.ValidationError{Field: "takeProfit", Reason: "must not be negative"}
	}
	return nil
}

func fieldError(fe validator.FieldError) *domain.ValidationError {
	reason := "is invalid"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "oneof":
		reason = "must be one of " + fe.Param()
	}
	return &domain.ValidationError{Field: fe.Field(), Reason: reason}
}

// ErrorKind maps a relay error to the reason code shown to callers.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return KindValidation
	case errors.Is(err, domain.ErrInvalidLicense):
		return KindInvalidLicense
	default:
		return KindUnavailable
	}
}

// PendingOrders returns the orders waiting for the user's terminal, oldest
// first. The license is checked the same way a signal is.
func (r *Relay) PendingOrders(ctx context.Context, userID, licenseKey string) ([]domain.PendingOrder, error) {
	if _, err := r.engine.CheckLicense(ctx, userID, licenseKey); err != nil {
		return nil, err
	}
	return r.orders.Pending(ctx, userID, PendingLimit)
}

// RecordExecution applies the terminal's report to a pending order.
func (r *Relay) RecordExecution(ctx context.Context, report domain.ExecutionReport) error {
	report.OrderID = strings.TrimSpace(report.OrderID)
	report.Status = domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(report.Status))))
	if err := r.validate.Struct(report); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return &domain.ValidationError{Field: "report", Reason: err.Error()}
	}
	if err := r.orders.Complete(ctx, report, r.clock.Now()); err != nil {
		return err
	}
	r.logger.Info("order settled",
		zap.String("order_id", report.OrderID),
		zap.String("status", string(report.Status)),
		zap.String("ticket", report.TicketNumber))
	return nil
}

// HistoryPage is one page of a user's orders.
type HistoryPage struct {
	Orders     []domain.PendingOrder `json:"orders"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"pageSize"`
	Total      int64                 `json:"total"`
	TotalPages int64                 `json:"totalPages"`
}

// History pages through the user's orders, newest first.
func (r *Relay) History(ctx context.Context, userID string, page, size int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultHistoryPageSize
	}
	size = min(size, MaxHistoryPageSize)
	orders, total, err := r.orders.History(ctx, userID, page, size)
	if err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{
		Orders:     orders,
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + int64(size) - 1) / int64(size),
	}, nil
}

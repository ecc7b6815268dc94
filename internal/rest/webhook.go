package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WebhookController serves the signal source and the user's trading terminal.
type WebhookController struct {
	relay  *relay.Relay
	logger *zap.Logger
}

func NewWebhookController(r *relay.Relay, logger *zap.Logger) *WebhookController {
	return &WebhookController{relay: r, logger: logger}
}

func (w *WebhookController) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhook/:userId/:licenseKey", w.handleSignal)
	rg.GET("/trades/:userId/:licenseKey", w.handlePendingTrades)
	rg.POST("/trade-feedback", w.handleTradeFeedback)
}

// signalRequest accepts symbol as an alias of instrument.
type signalRequest struct {
	Instrument string           `json:"instrument"`
	Symbol     string           `json:"symbol"`
	Action     string           `json:"action"`
	Volume     decimal.Decimal  `json:"volume"`
	Price      *decimal.Decimal `json:"price"`
	StopLoss   *decimal.Decimal `json:"stopLoss"`
	TakeProfit *decimal.Decimal `json:"takeProfit"`
}

func (r signalRequest) signal() domain.Signal {
	instrument := r.Instrument
	if strings.TrimSpace(instrument) == "" {
		instrument = r.Symbol
	}
	return domain.Signal{
		Instrument: instrument,
		Action:     domain.SignalAction(r.Action),
		Volume:     r.Volume,
		Price:      r.Price,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
	}
}

type signalResponse struct {
	Accepted  bool   `json:"accepted"`
	SignalID  string `json:"signalId,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (w *WebhookController) handleSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, signalResponse{ErrorKind: relay.KindValidation, Error: "invalid request body"})
		return
	}
	id, err := w.relay.ProcessSignal(c.Request.Context(), c.Param("userId"), c.Param("licenseKey"), req.signal())
	if err != nil {
		kind := relay.ErrorKind(err)
		resp := signalResponse{ErrorKind: kind}
		status := http.StatusServiceUnavailable
		switch kind {
		case relay.KindValidation:
			status, resp.Error = http.StatusBadRequest, err.Error()
		case relay.KindInvalidLicense:
			status, resp.Error = http.StatusForbidden, "license invalid or expired"
		}
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, signalResponse{Accepted: true, SignalID: id})
}

func (w *WebhookController) handlePendingTrades(c *gin.Context) {
	orders, err := w.relay.PendingOrders(c.Request.Context(), c.Param("userId"), c.Param("licenseKey"))
	if err != nil {
		writeError(c, w.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trades": orders, "count": len(orders)})
}

// feedbackRequest tolerates numeric ids and tickets sent by terminals.
type feedbackRequest struct {
	TradeID      json.RawMessage `json:"tradeId"`
	Status       string          `json:"status"`
	TicketNumber json.RawMessage `json:"ticketNumber"`
}

func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func (w *WebhookController) handleTradeFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	report := domain.ExecutionReport{
		OrderID:      rawString(req.TradeID),
		Status:       domain.OrderStatus(req.Status),
		TicketNumber: rawString(req.TicketNumber),
	}
	if err := w.relay.RecordExecution(c.Request.Context(), report); err != nil {
		writeError(c, w.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

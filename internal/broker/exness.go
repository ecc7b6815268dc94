package broker

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	exnessClientsPath     = "/api/reports/clients/"
	exnessPerformancePath = "/api/reports/performance/"
)

// lotsPerTrade is the volume assumed per trade when estimating a trade count
// from the lots reported in the client snapshot.
var lotsPerTrade = decimal.RequireFromString("0.1")

// ExnessProvider reads the partner client snapshot and matches the account
// within it. The per-day performance report is the secondary source.
type ExnessProvider struct {
	baseURL string
	client  *http.Client
	creds   *CredentialPool
	logger  *zap.Logger
}

func NewExnessProvider(baseURL string, client *http.Client, creds *CredentialPool, logger *zap.Logger) *ExnessProvider {
	return &ExnessProvider{baseURL: baseURL, client: client, creds: creds, logger: logger}
}

func (p *ExnessProvider) Broker() domain.Broker { return domain.BrokerExness }

type exnessClientRow struct {
	ClientAccount flexString `json:"client_account"`
	VolumeLots    flexFloat  `json:"volume_lots"`
	VolumeMlnUSD  flexFloat  `json:"volume_mln_usd"`
	TradeFn       *string    `json:"trade_fn"`
	RegDate       string     `json:"reg_date"`
}

type exnessPerformanceRow struct {
	ClientAccount flexString `json:"client_account"`
	Date          string     `json:"date"`
	TradeVolume   flexFloat  `json:"trade_volume"`
	TradeCount    flexInt    `json:"trade_count"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (p *ExnessProvider) FetchActivity(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	summary, err := p.fromClients(ctx, account, w)
	if err == nil {
		return summary, nil
	}
	p.logger.Warn("exness client snapshot failed, trying performance report",
		zap.String("account", account), zap.Error(err))

	summary, err2 := p.fromPerformance(ctx, account, w)
	if err2 == nil {
		return summary, nil
	}
	// Report the credential problem when either source rejected us.
	if errors.Is(err, ErrUnauthenticated) && !errors.Is(err2, ErrUnauthenticated) {
		return domain.ZeroActivity(), err
	}
	return domain.ZeroActivity(), err2
}

func (p *ExnessProvider) authHeader(op string) (http.Header, string, error) {
	token, ok := p.creds.Current()
	if !ok {
		return nil, "", upstreamErr(domain.BrokerExness, op, KindUnauthenticated, errors.New("no usable credential"))
	}
	h := http.Header{}
	h.Set("Authorization", "JWT "+token)
	return h, token, nil
}

func (p *ExnessProvider) get(ctx context.Context, op, path string, query url.Values, out any) error {
	header, token, err := p.authHeader(op)
	if err != nil {
		return err
	}
	err = getJSON(ctx, p.client, domain.BrokerExness, op, p.baseURL+path, query, header, out)
	if errors.Is(err, ErrUnauthenticated) {
		p.creds.Invalidate(token)
		p.logger.Warn("exness credential rejected, rotating to backup", zap.String("op", op))
	}
	return err
}

func (p *ExnessProvider) fromClients(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	var resp listResponse[exnessClientRow]
	if err := p.get(ctx, "clients", exnessClientsPath, nil, &resp); err != nil {
		return domain.ZeroActivity(), err
	}
	for _, row := range resp.Data {
		if string(row.ClientAccount) == account {
			return summarizeExnessClient(row, w), nil
		}
	}
	return domain.ZeroActivity(), nil
}

func summarizeExnessClient(row exnessClientRow, w Window) domain.ActivitySummary {
	lots := float64(row.VolumeLots)
	s := domain.ActivitySummary{Volume: lots}
	if lots > 0 {
		trades := decimal.NewFromFloat(lots).Div(lotsPerTrade).Ceil().IntPart()
		s.TradeCount = max(trades, 1)
	}
	tradedInWindow := false
	if row.TradeFn != nil {
		if t, ok := parseTime(*row.TradeFn); ok {
			s.LastTradeDate = &t
			tradedInWindow = w.Contains(t)
		}
	}
	s.HasActivity = lots > 0 || float64(row.VolumeMlnUSD) > 0 || tradedInWindow
	return s
}

func (p *ExnessProvider) fromPerformance(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	query := url.Values{}
	query.Set("date_from", domain.DayKey(w.From))
	query.Set("date_to", domain.DayKey(w.To))

	var resp listResponse[exnessPerformanceRow]
	if err := p.get(ctx, "performance", exnessPerformancePath, query, &resp); err != nil {
		return domain.ZeroActivity(), err
	}
	s := domain.ZeroActivity()
	for _, row := range resp.Data {
		if string(row.ClientAccount) != account {
			continue
		}
		day, ok := parseTime(row.Date)
		if !ok || !w.Contains(day) {
			continue
		}
		s.TradeCount += int64(row.TradeCount)
		s.Volume += float64(row.TradeVolume)
		s.LastTradeDate = latest(s.LastTradeDate, day)
	}
	s.HasActivity = s.TradeCount > 0 || s.Volume > 0
	return s, nil
}

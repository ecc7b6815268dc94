package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/coder/quartz"
	"go.uber.org/zap"
)

const (
	puprimeHistoryPath     = "/trading/history"
	puprimePositionsPath   = "/trading/positions"
	puprimePerformancePath = "/partner/performance"
)

// PUPrimeProvider queries per-account trade history with HMAC-signed requests.
// Open positions count as activity. The partner performance summary is the
// secondary source.
type PUPrimeProvider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	clock     quartz.Clock
	logger    *zap.Logger
}

func NewPUPrimeProvider(baseURL, apiKey, apiSecret string, client *http.Client, clock quartz.Clock, logger *zap.Logger) *PUPrimeProvider {
	return &PUPrimeProvider{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    client,
		clock:     clock,
		logger:    logger,
	}
}

func (p *PUPrimeProvider) Broker() domain.Broker { return domain.BrokerPUPrime }

type puprimeTrade struct {
	Volume    flexFloat `json:"volume"`
	OpenTime  string    `json:"open_time"`
	CloseTime string    `json:"close_time"`
}

type puprimePerformance struct {
	Data struct {
		TradeCount    flexInt   `json:"trade_count"`
		Volume        flexFloat `json:"volume"`
		LastTradeDate string    `json:"last_trade_date"`
	} `json:"data"`
}

// sign returns the auth headers: X-SIGNATURE is hex(HMAC-SHA256(secret, apiKey+timestamp)).
func (p *PUPrimeProvider) sign() http.Header {
	ts := strconv.FormatInt(p.clock.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(p.apiSecret))
	mac.Write([]byte(p.apiKey + ts))
	h := http.Header{}
	h.Set("X-API-KEY", p.apiKey)
	h.Set("X-TIMESTAMP", ts)
	h.Set("X-SIGNATURE", hex.EncodeToString(mac.Sum(nil)))
	return h
}

func (p *PUPrimeProvider) FetchActivity(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	summary, err := p.fromHistory(ctx, account, w)
	if err == nil {
		return summary, nil
	}
	p.logger.Warn("puprime trade history failed, trying partner performance",
		zap.String("account", account), zap.Error(err))

	summary, err = p.fromPerformance(ctx, account, w)
	if err != nil {
		return domain.ZeroActivity(), err
	}
	return summary, nil
}

func (p *PUPrimeProvider) fromHistory(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	query := url.Values{}
	query.Set("account_id", account)
	query.Set("start_date", domain.DayKey(w.From))
	query.Set("end_date", domain.DayKey(w.To))

	var history listResponse[puprimeTrade]
	if err := getJSON(ctx, p.client, domain.BrokerPUPrime, "history", p.baseURL+puprimeHistoryPath, query, p.sign(), &history); err != nil {
		return domain.ZeroActivity(), err
	}

	var positions listResponse[map[string]any]
	posQuery := url.Values{}
	posQuery.Set("account_id", account)
	if err := getJSON(ctx, p.client, domain.BrokerPUPrime, "positions", p.baseURL+puprimePositionsPath, posQuery, p.sign(), &positions); err != nil {
		return domain.ZeroActivity(), err
	}

	s := domain.ActivitySummary{TradeCount: int64(len(history.Data))}
	for _, t := range history.Data {
		s.Volume += float64(t.Volume)
		stamp := t.CloseTime
		if stamp == "" {
			stamp = t.OpenTime
		}
		if at, ok := parseTime(stamp); ok {
			s.LastTradeDate = latest(s.LastTradeDate, at)
		}
	}
	s.HasActivity = s.TradeCount > 0 || len(positions.Data) > 0
	return s, nil
}

func (p *PUPrimeProvider) fromPerformance(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	query := url.Values{}
	query.Set("account_id", account)
	query.Set("start_date", domain.DayKey(w.From))
	query.Set("end_date", domain.DayKey(w.To))

	var perf puprimePerformance
	if err := getJSON(ctx, p.client, domain.BrokerPUPrime, "performance", p.baseURL+puprimePerformancePath, query, p.sign(), &perf); err != nil {
		return domain.ZeroActivity(), err
	}
	s := domain.ActivitySummary{
		TradeCount: int64(perf.Data.TradeCount),
		Volume:     float64(perf.Data.Volume),
	}
	if at, ok := parseTime(perf.Data.LastTradeDate); ok {
		s.LastTradeDate = &at
	}
	s.HasActivity = s.TradeCount > 0 || s.Volume > 0
	return s, nil
}

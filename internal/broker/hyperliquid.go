package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/0xRichardL/vibe-copy-trading/licensing/libs/numbers"
	"github.com/0xRichardL/vibe-copy-trading/licensing/libs/routine"
	"github.com/coder/quartz"
	hl "github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"
)

const (
	defaultPollInterval  = time.Second
	defaultRetryDelay    = 5 * time.Second
	defaultFillRetention = 30 * 24 * time.Hour
	stopGrace            = 10 * time.Second
)

// Fill is a normalized Hyperliquid order fill.
type Fill struct {
	ID      string
	Account string
	Coin    string
	Side    string
	Size    float64
	Price   float64
	Time    time.Time
}

// FillSubscriber streams fills for one account until ctx is done.
type FillSubscriber func(ctx context.Context, account string, onFill func(Fill)) error

// WebsocketSubscriber subscribes to Hyperliquid user fills over the public websocket.
func WebsocketSubscriber(wsURL string, logger *zap.Logger) FillSubscriber {
	return func(ctx context.Context, account string, onFill func(Fill)) error {
		ws := hl.NewWebsocketClient(wsURL)
		if err := ws.Connect(ctx); err != nil {
			return fmt.Errorf("connect websocket: %w", err)
		}
		defer func() {
			if err := ws.Close(); err != nil {
				logger.Warn("closing hyperliquid websocket", zap.String("account", account), zap.Error(err))
			}
		}()

		sub, err := ws.OrderFills(
			hl.OrderFillsSubscriptionParams{User: account},
			func(fills hl.WsOrderFills, err error) {
				if err != nil {
					logger.Warn("order fills callback error", zap.String("account", account), zap.Error(err))
					return
				}
				received := time.Now().UTC()
				for _, f := range fills.Fills {
					fill, err := normalizeFill(account, f, received)
					if err != nil {
						logger.Warn("normalize fill", zap.String("account", account), zap.Error(err))
						continue
					}
					onFill(fill)
				}
			},
		)
		if err != nil {
			return fmt.Errorf("subscribe to order fills: %w", err)
		}
		defer sub.Close()

		<-ctx.Done()
		return ctx.Err()
	}
}

// FillFetcher returns the account's recorded fills between from and to.
type FillFetcher func(ctx context.Context, account string, from, to time.Time) ([]Fill, error)

// InfoFillFetcher queries the Hyperliquid info endpoint for user fills by time.
func InfoFillFetcher(baseURL string, client *http.Client) FillFetcher {
	// Empty metadata keeps NewInfo from calling out; fill queries need no asset map.
	info := hl.NewInfo(context.Background(), baseURL, true, &hl.Meta{}, &hl.SpotMeta{}, nil,
		hl.InfoOptClientOptions(hl.ClientOptHTTPClient(client)))
	return func(ctx context.Context, account string, from, to time.Time) ([]Fill, error) {
		end := to.UnixMilli()
		raw, err := info.UserFillsByTime(ctx, account, from.UnixMilli(), &end, nil)
		if err != nil {
			return nil, err
		}
		fills := make([]Fill, 0, len(raw))
		for _, f := range raw {
			fill, err := normalizeFill(account, historicFill(f), to)
			if err != nil {
				continue
			}
			fills = append(fills, fill)
		}
		return fills, nil
	}
}

func historicFill(f hl.Fill) hl.WsOrderFill {
	return hl.WsOrderFill{
		Coin: f.Coin,
		Px:   f.Price,
		Sz:   f.Size,
		Side: f.Side,
		Time: f.Time,
		Hash: f.Hash,
		Oid:  f.Oid,
		Tid:  f.Tid,
	}
}

func normalizeFill(account string, f hl.WsOrderFill, receivedAt time.Time) (Fill, error) {
	if f.Coin == "" {
		return Fill{}, fmt.Errorf("missing coin in fill for account %s", account)
	}
	coin := strings.ToUpper(f.Coin)
	price, _ := numbers.ExtractFloat(f.Px)
	size, _ := numbers.ExtractFloat(f.Sz)
	ts := f.Time
	if ts == 0 {
		ts = receivedAt.UnixMilli()
	}

	sourceID := ""
	switch {
	case f.Hash != "":
		sourceID = f.Hash
	case f.Tid != 0:
		sourceID = fmt.Sprintf("tid:%d", f.Tid)
	case f.Oid != 0:
		sourceID = fmt.Sprintf("oid:%d", f.Oid)
	default:
		sourceID = fmt.Sprintf("fill:%s:%d", coin, ts)
	}
	sum := sha256.Sum256([]byte(account + "|" + coin + "|" + sourceID))

	return Fill{
		ID:      hex.EncodeToString(sum[:]),
		Account: account,
		Coin:    coin,
		Side:    strings.ToUpper(strings.TrimSpace(f.Side)),
		Size:    size,
		Price:   price,
		Time:    time.UnixMilli(ts).UTC(),
	}, nil
}

// HyperliquidFeed keeps one fill subscription per watched account and records
// the fills in memory for activity queries.
type HyperliquidFeed struct {
	watchlist *store.WatchlistStore
	subscribe FillSubscriber
	clock     quartz.Clock
	logger    *zap.Logger

	PollInterval  time.Duration
	RetryDelay    time.Duration
	FillRetention time.Duration

	once    sync.Once
	manager atomic.Pointer[routine.Manager]

	mu        sync.Mutex
	fills     map[string][]Fill
	seen      map[string]struct{}
	unwatched map[string]struct{}
}

func NewHyperliquidFeed(watchlist *store.WatchlistStore, subscribe FillSubscriber, clock quartz.Clock, logger *zap.Logger) *HyperliquidFeed {
	return &HyperliquidFeed{
		watchlist:     watchlist,
		subscribe:     subscribe,
		clock:         clock,
		logger:        logger,
		PollInterval:  defaultPollInterval,
		RetryDelay:    defaultRetryDelay,
		FillRetention: defaultFillRetention,
		fills:         make(map[string][]Fill),
		seen:          make(map[string]struct{}),
		unwatched:     make(map[string]struct{}),
	}
}

// Start hands every watched account to its own routine and blocks until ctx ends.
func (f *HyperliquidFeed) Start(ctx context.Context) error {
	f.once.Do(func() {
		f.manager.Store(routine.NewManager(ctx, f.clock))
	})
	manager := f.manager.Load()
	for {
		select {
		case <-ctx.Done():
			return f.stop(manager)
		default:
		}

		account, putBack, err := f.watchlist.Acquire(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNoAccounts) {
				if !f.wait(ctx, f.PollInterval) {
					return f.stop(manager)
				}
				continue
			}
			if ctx.Err() != nil {
				return f.stop(manager)
			}
			return fmt.Errorf("acquire watched account: %w", err)
		}

		err = manager.Start(routine.Task{
			ID: account,
			Handler: func(taskCtx context.Context) error {
				return f.subscribe(taskCtx, account, f.Record)
			},
			// Keeps a failing account from spinning straight back into the loop.
			Cooldown: f.RetryDelay,
			OnExit: func(id string, err error) {
				if err != nil {
					f.logger.Warn("hyperliquid subscription ended", zap.String("account", id), zap.Error(err))
				}
				if f.consumeUnwatched(id) {
					return
				}
				if err := putBack(); err != nil {
					f.logger.Error("put back watched account", zap.String("account", id), zap.Error(err))
				}
			},
		})
		if errors.Is(err, routine.ErrRoutineExists) {
			// Already streaming; the running routine returns the account on exit.
			continue
		}
		if err != nil {
			if perr := putBack(); perr != nil {
				f.logger.Error("put back watched account", zap.String("account", account), zap.Error(perr))
			}
			if errors.Is(err, routine.ErrStopping) {
				return f.stop(manager)
			}
			return fmt.Errorf("run subscription: %w", err)
		}
	}
}

// stop waits a bounded time for the subscriptions to close.
func (f *HyperliquidFeed) stop(manager *routine.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	if err := manager.StopAll(ctx); err != nil {
		return fmt.Errorf("stop hyperliquid subscriptions: %w", err)
	}
	return nil
}

func (f *HyperliquidFeed) wait(ctx context.Context, d time.Duration) bool {
	t := f.clock.NewTimer(d, "hyperliquid", "wait")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (f *HyperliquidFeed) consumeUnwatched(account string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.unwatched[account]; ok {
		delete(f.unwatched, account)
		return true
	}
	return false
}

// Subscribed reports whether the account has a live subscription.
func (f *HyperliquidFeed) Subscribed(account string) bool {
	m := f.manager.Load()
	return m != nil && m.Running(normalizeAccount(account))
}

// Subscriptions returns the accounts currently streaming.
func (f *HyperliquidFeed) Subscriptions() []string {
	m := f.manager.Load()
	if m == nil {
		return nil
	}
	return m.IDs()
}

// Watch queues the account for streaming.
func (f *HyperliquidFeed) Watch(ctx context.Context, account string) error {
	account = normalizeAccount(account)
	f.mu.Lock()
	delete(f.unwatched, account)
	f.mu.Unlock()
	return f.watchlist.Add(ctx, account)
}

// Unwatch stops streaming the account and forgets its fills.
func (f *HyperliquidFeed) Unwatch(ctx context.Context, account string) error {
	account = normalizeAccount(account)
	m := f.manager.Load()
	f.mu.Lock()
	running := m != nil && m.Running(account)
	if running {
		f.unwatched[account] = struct{}{}
	}
	for _, fill := range f.fills[account] {
		delete(f.seen, fill.ID)
	}
	delete(f.fills, account)
	f.mu.Unlock()

	if err := f.watchlist.Remove(ctx, account); err != nil {
		return err
	}
	if running {
		m.Stop(account)
	}
	return nil
}

// HandleEvent keeps the watchlist in line with Hyperliquid license changes.
func (f *HyperliquidFeed) HandleEvent(ctx context.Context, ev domain.LicenseEvent) error {
	if ev.Broker != domain.BrokerHyperliquid || ev.AccountNumber == "" {
		return nil
	}
	switch ev.Type {
	case domain.EventLicenseCreated, domain.EventLicenseReactivated:
		return f.Watch(ctx, ev.AccountNumber)
	case domain.EventLicenseRevoked:
		return f.Unwatch(ctx, ev.AccountNumber)
	}
	return nil
}

// Record stores a fill once, dropping fills past the retention horizon.
func (f *HyperliquidFeed) Record(fill Fill) {
	account := normalizeAccount(fill.Account)
	horizon := f.clock.Now().Add(-f.FillRetention)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.seen[fill.ID]; dup {
		return
	}
	kept := f.fills[account][:0]
	for _, existing := range f.fills[account] {
		if existing.Time.Before(horizon) {
			delete(f.seen, existing.ID)
			continue
		}
		kept = append(kept, existing)
	}
	if fill.Time.Before(horizon) {
		f.fills[account] = kept
		return
	}
	f.seen[fill.ID] = struct{}{}
	f.fills[account] = append(kept, fill)
}

// Summarize aggregates recorded fills inside the window. Volume is notional (size x price).
func (f *HyperliquidFeed) Summarize(account string, w Window) domain.ActivitySummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := domain.ZeroActivity()
	for _, fill := range f.fills[normalizeAccount(account)] {
		if !w.Contains(fill.Time) {
			continue
		}
		s.TradeCount++
		s.Volume += fill.Size * fill.Price
		s.LastTradeDate = latest(s.LastTradeDate, fill.Time)
	}
	s.HasActivity = s.TradeCount > 0
	return s
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// HyperliquidProvider answers activity queries from the live fill feed, and
// from a one-shot fill lookup for accounts that are not streaming yet.
type HyperliquidProvider struct {
	feed  *HyperliquidFeed
	fetch FillFetcher
}

// NewHyperliquidProvider builds a provider over feed. fetch may be nil, in
// which case unsubscribed accounts are reported as unavailable.
func NewHyperliquidProvider(feed *HyperliquidFeed, fetch FillFetcher) *HyperliquidProvider {
	return &HyperliquidProvider{feed: feed, fetch: fetch}
}

func (p *HyperliquidProvider) Broker() domain.Broker { return domain.BrokerHyperliquid }

// FetchActivity reads the live feed when the account is streaming. Otherwise
// it looks the fills up once and records them so later reads agree. It fails
// with KindUnavailable when neither source can answer, because an empty fill
// history would then prove nothing.
func (p *HyperliquidProvider) FetchActivity(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	if p.feed.Subscribed(account) {
		return p.feed.Summarize(account, w), nil
	}
	if p.fetch == nil {
		return domain.ZeroActivity(), upstreamErr(domain.BrokerHyperliquid, "fills", KindUnavailable, errors.New("no live subscription for account"))
	}
	fills, err := p.fetch(ctx, normalizeAccount(account), domain.StartOfDay(w.From), w.To)
	if err != nil {
		return domain.ZeroActivity(), upstreamErr(domain.BrokerHyperliquid, "fills", KindUnavailable, err)
	}
	for _, fill := range fills {
		p.feed.Record(fill)
	}
	return p.feed.Summarize(account, w), nil
}

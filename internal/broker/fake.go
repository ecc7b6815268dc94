package broker

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
)

type fakeResult struct {
	summary domain.ActivitySummary
	err     error
}

// FakeProvider produces deterministic activity for local runs and tests.
// Results derive from the seed, the account and the window's end day unless
// an override is set for the account.
type FakeProvider struct {
	broker domain.Broker
	seed   uint64

	mu        sync.Mutex
	overrides map[string]fakeResult
	calls     map[string]int
}

func NewFakeProvider(b domain.Broker, seed int64) *FakeProvider {
	return &FakeProvider{
		broker:    b,
		seed:      uint64(seed),
		overrides: make(map[string]fakeResult),
		calls:     make(map[string]int),
	}
}

func (p *FakeProvider) Broker() domain.Broker { return p.broker }

// Set pins the summary returned for account.
func (p *FakeProvider) Set(account string, s domain.ActivitySummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[account] = fakeResult{summary: s}
}

// Fail makes queries for account fail. A nil err fails as unavailable.
func (p *FakeProvider) Fail(account string, err error) {
	if err == nil {
		err = upstreamErr(p.broker, "fake", KindUnavailable, nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[account] = fakeResult{err: err}
}

// Calls returns how many times account was queried.
func (p *FakeProvider) Calls(account string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[account]
}

func (p *FakeProvider) FetchActivity(ctx context.Context, account string, w Window) (domain.ActivitySummary, error) {
	p.mu.Lock()
	p.calls[account]++
	res, overridden := p.overrides[account]
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.ZeroActivity(), upstreamErr(p.broker, "fake", KindUnavailable, err)
	}
	if overridden {
		if res.err != nil {
			return domain.ZeroActivity(), res.err
		}
		return res.summary, nil
	}
	return p.generate(account, w), nil
}

func (p *FakeProvider) generate(account string, w Window) domain.ActivitySummary {
	h := fnv.New64a()
	_, _ = h.Write([]byte(account + "|" + domain.DayKey(w.To)))
	r := rand.New(rand.NewPCG(p.seed, h.Sum64()))

	if r.Float64() >= 0.7 {
		return domain.ZeroActivity()
	}
	span := max(domain.CalendarDaysBetween(w.From, w.To), 0)
	last := domain.StartOfDay(w.To).AddDate(0, 0, -r.IntN(span+1)).Add(12 * time.Hour)
	if last.After(w.To) {
		last = w.To
	}
	return domain.ActivitySummary{
		HasActivity:   true,
		TradeCount:    int64(1 + r.IntN(20)),
		Volume:        math.Round((0.01+r.Float64()*5)*100) / 100,
		LastTradeDate: &last,
	}
}

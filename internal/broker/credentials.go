package broker

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
)

// CredentialPool rotates through a primary token and its backups. A token
// rejected by the upstream is benched for a cool-down, and tokens whose JWT
// exp claim has passed are skipped.
type CredentialPool struct {
	mu       sync.Mutex
	tokens   []string
	current  int
	benched  map[int]time.Time
	cooldown time.Duration
	clock    quartz.Clock
	parser   *jwt.Parser
}

// CredentialState summarises the pool for health reporting. It never exposes tokens.
type CredentialState struct {
	Total   int `json:"total"`
	Usable  int `json:"usable"`
	Current int `json:"current"`
}

func NewCredentialPool(tokens []string, clock quartz.Clock, cooldown time.Duration) *CredentialPool {
	return &CredentialPool{
		tokens:   tokens,
		benched:  make(map[int]time.Time),
		cooldown: cooldown,
		clock:    clock,
		parser:   jwt.NewParser(),
	}
}

// Current returns the first usable token starting from the active slot.
func (p *CredentialPool) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.tokens {
		idx := (p.current + i) % len(p.tokens)
		if p.usable(idx) {
			p.current = idx
			return p.tokens[idx], true
		}
	}
	return "", false
}

// Invalidate benches token and moves to the next slot.
func (p *CredentialPool) Invalidate(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx, t := range p.tokens {
		if t == token {
			p.benched[idx] = p.clock.Now()
			if idx == p.current {
				p.current = (idx + 1) % len(p.tokens)
			}
			return
		}
	}
}

func (p *CredentialPool) State() CredentialState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := CredentialState{Total: len(p.tokens), Current: p.current}
	for idx := range p.tokens {
		if p.usable(idx) {
			st.Usable++
		}
	}
	return st
}

func (p *CredentialPool) usable(idx int) bool {
	if at, ok := p.benched[idx]; ok {
		if p.clock.Since(at) < p.cooldown {
			return false
		}
		delete(p.benched, idx)
	}
	return !p.expired(p.tokens[idx])
}

// expired reports whether token is a JWT whose exp claim is in the past.
// Opaque tokens never expire locally.
func (p *CredentialPool) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := p.parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !p.clock.Now().Before(claims.ExpiresAt.Time)
}

package github

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"repoharvest/logger"
)

const (
	// DefaultQuota is GitHub's hourly ceiling for authenticated requests.
	DefaultQuota = 5000
	// AnonymousQuota is the far smaller ceiling for unauthenticated requests.
	AnonymousQuota = 60

	// lowQuotaThreshold triggers an operational warning on update.
	lowQuotaThreshold = 100

	// resetMargin is added to the provider's reset time before retrying,
	// absorbing clock skew between us and the API.
	resetMargin = 2 * time.Second
)

// Credential tracks the quota state of one API token. State is process-local
// and rebuilt from configuration at startup; the authoritative values arrive
// with every API response.
type Credential struct {
	Token     string
	Remaining int
	ResetAt   time.Time
}

// Anonymous reports whether this credential carries no token.
func (c *Credential) Anonymous() bool {
	return c.Token == ""
}

func (c *Credential) exhausted(now time.Time) bool {
	return c.Remaining == 0 && now.Before(c.ResetAt)
}

// Pool hands out the credential most likely to succeed right now. With all
// credentials exhausted, Select blocks until the soonest reset instead of
// failing: a hard quota wall becomes bounded latency.
type Pool struct {
	mu    sync.Mutex
	creds []*Credential
	quota int

	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPool creates a pool from the configured tokens. With zero tokens the
// pool degrades to a single anonymous credential.
func NewPool(tokens []string) *Pool {
	p := &Pool{quota: DefaultQuota, sleep: sleepCtx}
	for _, tok := range tokens {
		p.creds = append(p.creds, &Credential{Token: tok, Remaining: DefaultQuota})
	}
	if len(p.creds) == 0 {
		logger.Warn("no API tokens configured, running anonymously with a minimal quota")
		p.quota = AnonymousQuota
		p.creds = []*Credential{{Remaining: AnonymousQuota}}
	}
	return p
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Select returns the non-exhausted credential with the highest remaining
// quota. If every credential is exhausted it blocks until the soonest reset
// time plus a small margin, optimistically restores that credential's quota
// to the default ceiling, and returns it.
func (p *Pool) Select(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	now := time.Now()

	var best *Credential
	for _, c := range p.creds {
		if c.exhausted(now) {
			continue
		}
		if best == nil || c.Remaining > best.Remaining {
			best = c
		}
	}
	p.mu.Unlock()
	if best != nil {
		return best, nil
	}

	soonest := p.soonestReset()
	wait := time.Until(soonest.ResetAt) + resetMargin
	logger.Warn("all credentials exhausted, waiting for quota reset",
		zap.Time("reset_at", soonest.ResetAt),
		zap.Duration("wait", wait))

	if err := p.sleep(ctx, wait); err != nil {
		return nil, err
	}

	p.mu.Lock()
	soonest.Remaining = p.quota
	p.mu.Unlock()
	return soonest, nil
}

func (p *Pool) soonestReset() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	soonest := p.creds[0]
	for _, c := range p.creds[1:] {
		if c.ResetAt.Before(soonest.ResetAt) {
			soonest = c
		}
	}
	return soonest
}

// Update refreshes a credential's tracked state from response headers. Called
// after every response, success included, so the pool never drifts from the
// provider's authoritative view.
func (p *Pool) Update(token string, remaining int, resetAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.Token != token {
			continue
		}
		c.Remaining = remaining
		c.ResetAt = resetAt
		if remaining < lowQuotaThreshold {
			logger.Warn("credential quota running low",
				zap.String("token", tokenSuffix(token)),
				zap.Int("remaining", remaining),
				zap.Time("reset_at", resetAt))
		}
		return
	}
}

// MarkExhausted zeroes a credential's remaining count immediately. Used when
// a quota-exhaustion status arrives, since the accompanying header value may
// be stale.
func (p *Pool) MarkExhausted(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.Token == token {
			c.Remaining = 0
			if c.ResetAt.Before(time.Now()) {
				c.ResetAt = time.Now().Add(time.Minute)
			}
			return
		}
	}
}

// tokenSuffix returns a log-safe identifier for a token.
func tokenSuffix(token string) string {
	if token == "" {
		return "anonymous"
	}
	if len(token) <= 4 {
		return "****"
	}
	return "..." + token[len(token)-4:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

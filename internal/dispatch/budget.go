package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Budget is the admission policy one processing profile implies: how many
// probes may be in flight at once against one organization, and how many may
// be issued per minute.
type Budget struct {
	MaxConcurrent int `json:"max_concurrent" mapstructure:"max_concurrent"`
	ProbesPerMin  int `json:"probes_per_min" mapstructure:"probes_per_min"`
}

// DefaultBudgets maps every named processing profile to explicit numbers.
// These are configuration, not inference: conservative profiles get one
// connection and single-digit probes per minute because the cost of tripping
// a provider's defenses vastly exceeds slower throughput.
func DefaultBudgets() map[string]Budget {
	return map[string]Budget{
		"google_workspace_smtp":         {MaxConcurrent: 5, ProbesPerMin: 60},
		"microsoft_365_smtp":            {MaxConcurrent: 4, ProbesPerMin: 45},
		"consumer_smtp_careful":         {MaxConcurrent: 2, ProbesPerMin: 20},
		"standard_smtp":                 {MaxConcurrent: 4, ProbesPerMin: 40},
		"business_smtp_standard":        {MaxConcurrent: 3, ProbesPerMin: 30},
		"business_smtp_conservative":    {MaxConcurrent: 2, ProbesPerMin: 15},
		"unknown_mx_conservative":       {MaxConcurrent: 1, ProbesPerMin: 8},
		"unknown_mx_ultra_conservative": {MaxConcurrent: 1, ProbesPerMin: 3},
	}
}

// budgetFor falls back to the ultra-conservative budget for any profile
// missing from the table, same bias as the classifier's default.
func budgetFor(budgets map[string]Budget, profile string) Budget {
	if b, ok := budgets[profile]; ok && b.MaxConcurrent > 0 && b.ProbesPerMin > 0 {
		return b
	}
	return Budget{MaxConcurrent: 1, ProbesPerMin: 3}
}

// orgLimiter enforces one organization's budget: a semaphore for concurrent
// connections plus a token bucket for probe rate. Shared across requests so
// parallel batches cannot multiply the pressure on one provider.
type orgLimiter struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

func newOrgLimiter(b Budget) *orgLimiter {
	return &orgLimiter{
		sem:     make(chan struct{}, b.MaxConcurrent),
		limiter: rate.NewLimiter(rate.Limit(float64(b.ProbesPerMin)/60.0), b.MaxConcurrent),
	}
}

// acquire blocks until both a connection slot and a rate token are
// available, or the context is done.
func (l *orgLimiter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		<-l.sem
		return err
	}
	return nil
}

func (l *orgLimiter) release() {
	<-l.sem
}

// limiterPool hands out one limiter per organization key, process-wide.
type limiterPool struct {
	mu       sync.Mutex
	budgets  map[string]Budget
	limiters map[string]*orgLimiter
}

func newLimiterPool(budgets map[string]Budget) *limiterPool {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &limiterPool{
		budgets:  budgets,
		limiters: make(map[string]*orgLimiter),
	}
}

func (p *limiterPool) get(organization, profile string) *orgLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[organization]; ok {
		return l
	}
	l := newOrgLimiter(budgetFor(p.budgets, profile))
	p.limiters[organization] = l
	return l
}

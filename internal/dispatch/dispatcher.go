package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/probe"
	"github.com/mxverify/mxverify/internal/resolver"
)

// Resolver abstracts MX resolution so tests can inject fixed records.
type Resolver interface {
	Resolve(ctx context.Context, domain string) ([]string, error)
}

// Recorder receives probe outcomes for the adaptive learning loop.
type Recorder interface {
	RecordOutcome(mxDomain string, used classify.Classification, outcome *probe.Outcome)
}

// Observer gets notified of probe completions, recheck scheduling, and MX
// resolution outcomes, for metrics. All methods may be called concurrently.
type Observer interface {
	ProbeCompleted(organization string, status probe.Status, outcome *probe.Outcome, elapsed time.Duration)
	RecheckScheduled(organization string)
	MXResolved(outcome string)
}

// MX resolution outcomes reported to the Observer.
const (
	MXOutcomeResolved = "resolved"
	MXOutcomeNoMX     = "no_mx"
	MXOutcomeError    = "error"
)

// Result is the per-email outcome handed back to the persistence layer.
type Result struct {
	Email        string         `json:"email"`
	Status       probe.Status   `json:"status"`
	Reason       string         `json:"reason"`
	Organization string         `json:"organization"`
	MXDomain     string         `json:"mx_domain"`
	Outcome      *probe.Outcome `json:"outcome,omitempty"`
}

type Statistics struct {
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	CatchAll int `json:"catch_all"`
	Unknown  int `json:"unknown"`
}

func Summarize(results []Result) Statistics {
	var s Statistics
	for _, r := range results {
		switch r.Status {
		case probe.StatusValid:
			s.Valid++
		case probe.StatusInvalid:
			s.Invalid++
		case probe.StatusCatchAll:
			s.CatchAll++
		default:
			s.Unknown++
		}
	}
	return s
}

type Options struct {
	Budgets             map[string]Budget
	MaxRecheckAttempts  int
	Backoff             Backoff
	MaxEmailsPerRequest int
}

func DefaultOptions() Options {
	return Options{
		Budgets:             DefaultBudgets(),
		MaxRecheckAttempts:  2,
		Backoff:             DefaultBackoff(),
		MaxEmailsPerRequest: 10000,
	}
}

// ErrRejected is returned when a submission cannot be admitted at all, as
// opposed to individual emails resolving to unknown.
var ErrRejected = errors.New("submission rejected")

// Dispatcher turns a batch of emails into rate-limited per-organization
// probe work. Probing runs in parallel across organizations and is throttled
// within each organization by that organization's budget.
type Dispatcher struct {
	classifier *classify.Classifier
	resolver   Resolver
	prober     probe.Prober
	learning   Recorder
	observer   Observer
	logger     *zap.Logger
	pool       *limiterPool
	opts       Options

	// sleep is swappable so recheck tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	classifier *classify.Classifier,
	res Resolver,
	prober probe.Prober,
	learning Recorder,
	observer Observer,
	logger *zap.Logger,
	opts Options,
) *Dispatcher {
	if opts.MaxRecheckAttempts == 0 {
		opts.MaxRecheckAttempts = DefaultOptions().MaxRecheckAttempts
	}
	if opts.MaxEmailsPerRequest == 0 {
		opts.MaxEmailsPerRequest = DefaultOptions().MaxEmailsPerRequest
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	return &Dispatcher{
		classifier: classifier,
		resolver:   res,
		prober:     prober,
		learning:   learning,
		observer:   observer,
		logger:     logger,
		pool:       newLimiterPool(opts.Budgets),
		opts:       opts,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// task is one email bound to its destination infrastructure.
type task struct {
	index    int
	email    string
	mxHosts  []string
	mxDomain string
	class    classify.Classification
	outcome  *probe.Outcome
}

// Process runs one verification request to completion of its probe work.
// Progress transitions are reported through prog; the caller persists
// results and owns the final complete transition. Per-email faults never
// fail the request; only admission faults and cancellation return an error.
func (d *Dispatcher) Process(ctx context.Context, requestID string, emails []string, prog *Progress) ([]Result, error) {
	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: no emails in request", ErrRejected)
	}
	if len(emails) > d.opts.MaxEmailsPerRequest {
		return nil, fmt.Errorf("%w: %d emails exceeds the limit of %d",
			ErrRejected, len(emails), d.opts.MaxEmailsPerRequest)
	}

	if err := prog.Advance(StepProcessing); err != nil {
		return nil, err
	}

	results := make([]Result, len(emails))
	tasks := d.prepare(ctx, emails, results, prog)

	d.logger.Info("dispatching verification request",
		zap.String("request_id", requestID),
		zap.Int("emails", len(emails)),
		zap.Int("probe_tasks", len(tasks)),
	)

	if err := d.runPass(ctx, tasks, results, prog); err != nil {
		return nil, err
	}

	recheck := pendingRecheck(tasks)
	if len(recheck) > 0 {
		if err := prog.Advance(StepAntiGreylisting); err != nil {
			return nil, err
		}
		if err := d.runRechecks(ctx, requestID, recheck, results, prog); err != nil {
			return nil, err
		}
	}

	// Emails that exhausted their recheck budget stay provisional in the
	// counter; every result is final now.
	prog.setProcessed(len(emails))
	return results, ctx.Err()
}

// prepare normalizes, validates, resolves, and classifies, filling results
// for emails that never reach the network and returning probe tasks for the
// rest.
func (d *Dispatcher) prepare(ctx context.Context, emails []string, results []Result, prog *Progress) []*task {
	var tasks []*task

	for i, raw := range emails {
		email := strings.ToLower(strings.TrimSpace(raw))
		results[i] = Result{Email: email, Status: probe.StatusUnknown}

		if err := checkmail.ValidateFormat(email); err != nil {
			results[i].Status = probe.StatusInvalid
			results[i].Reason = "invalid email format"
			prog.addProcessed(1)
			continue
		}

		domain := email[strings.LastIndex(email, "@")+1:]
		mxHosts, err := d.resolver.Resolve(ctx, domain)
		if err != nil {
			if errors.Is(err, resolver.ErrNoMX) {
				results[i].Status = probe.StatusInvalid
				results[i].Reason = "domain has no mail servers"
				d.observeMX(MXOutcomeNoMX)
			} else {
				results[i].Status = probe.StatusUnknown
				results[i].Reason = "mail server lookup failed"
				d.observeMX(MXOutcomeError)
			}
			prog.addProcessed(1)
			continue
		}
		d.observeMX(MXOutcomeResolved)

		class := d.classifier.Classify(mxHosts[0])
		results[i].Organization = class.Organization
		mxDomain := classify.BaseDomain(mxHosts[0])
		results[i].MXDomain = mxDomain

		tasks = append(tasks, &task{
			index:    i,
			email:    email,
			mxHosts:  mxHosts,
			mxDomain: mxDomain,
			class:    class,
		})
	}

	return tasks
}

// runPass probes every task once: one goroutine per organization, each
// organization's tasks admitted FIFO through that organization's limiter.
func (d *Dispatcher) runPass(ctx context.Context, tasks []*task, results []Result, prog *Progress) error {
	groups := make(map[string][]*task)
	order := make([]string, 0)
	for _, t := range tasks {
		if _, ok := groups[t.class.Organization]; !ok {
			order = append(order, t.class.Organization)
		}
		groups[t.class.Organization] = append(groups[t.class.Organization], t)
	}

	var wg sync.WaitGroup
	for _, org := range order {
		orgTasks := groups[org]
		limiter := d.pool.get(org, orgTasks[0].class.ProcessingProfile)

		wg.Add(1)
		go func(org string, orgTasks []*task) {
			defer wg.Done()
			var inner sync.WaitGroup
			defer inner.Wait()
			for _, t := range orgTasks {
				if err := limiter.acquire(ctx); err != nil {
					return
				}
				inner.Add(1)
				go func(t *task) {
					defer inner.Done()
					defer limiter.release()
					d.probeOne(ctx, t, results, prog)
				}(t)
			}
		}(org, orgTasks)
	}
	wg.Wait()

	return ctx.Err()
}

func (d *Dispatcher) probeOne(ctx context.Context, t *task, results []Result, prog *Progress) {
	start := time.Now()
	outcome := d.prober.Probe(ctx, t.email, t.mxHosts)
	elapsed := time.Since(start)
	t.outcome = outcome

	if d.learning != nil {
		d.learning.RecordOutcome(t.mxDomain, t.class, outcome)
	}

	status, reason := probe.DeriveStatus(outcome)
	results[t.index].Status = status
	results[t.index].Reason = reason
	results[t.index].Outcome = outcome

	if outcome == nil || !outcome.RequiresRecheck {
		prog.addProcessed(1)
	}

	if d.observer != nil {
		d.observer.ProbeCompleted(t.class.Organization, status, outcome, elapsed)
	}
}

func (d *Dispatcher) observeMX(outcome string) {
	if d.observer != nil {
		d.observer.MXResolved(outcome)
	}
}

func pendingRecheck(tasks []*task) []*task {
	var pending []*task
	for _, t := range tasks {
		if t.outcome != nil && t.outcome.RequiresRecheck {
			pending = append(pending, t)
		}
	}
	return pending
}

// runRechecks re-probes provisional results with backoff until they resolve
// or the attempt budget is spent. Whatever is still provisional afterwards
// stays unknown.
func (d *Dispatcher) runRechecks(ctx context.Context, requestID string, pending []*task, results []Result, prog *Progress) error {
	for attempt := 0; attempt < d.opts.MaxRecheckAttempts && len(pending) > 0; attempt++ {
		delay := d.opts.Backoff.NextDelay(attempt)
		d.logger.Info("anti-greylisting recheck",
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt+1),
			zap.Int("pending", len(pending)),
			zap.Duration("delay", delay),
		)

		if err := d.sleep(ctx, delay); err != nil {
			return err
		}

		for _, t := range pending {
			if d.observer != nil {
				d.observer.RecheckScheduled(t.class.Organization)
			}
		}
		if err := d.runPass(ctx, pending, results, prog); err != nil {
			return err
		}
		pending = pendingRecheck(pending)
	}
	return nil
}

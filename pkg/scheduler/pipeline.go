// Package scheduler drives adopted requests to execution and overdue ones
// to cancellation. Three periodic jobs run on tickers; each is guarded
// against overlapping runs and re-checks every record's status before
// touching it, because a vote or an expiration can land between the index
// scan and the transition. Transitions additionally re-verify the persisted
// status inside the save transaction, so jobs on different goroutines
// cannot overwrite each other's results with stale scan copies.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/operation"
	"github.com/covault/station/pkg/request"
)

// Options tune the pipeline. Zero values get defaults.
type Options struct {
	SchedulingInterval time.Duration // Approved -> Scheduled -> execution, default 5s
	ExpirationInterval time.Duration // overdue sweep, default 60s
	ApprovalInterval   time.Duration // re-evaluation of stale pending requests, default 30s
	BatchSize          int           // records per job run, default 100
	MaxExecuteAttempts int           // dispatches per request before Failed, default 10
}

func (o *Options) withDefaults() {
	if o.SchedulingInterval <= 0 {
		o.SchedulingInterval = 5 * time.Second
	}
	if o.ExpirationInterval <= 0 {
		o.ExpirationInterval = 60 * time.Second
	}
	if o.ApprovalInterval <= 0 {
		o.ApprovalInterval = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxExecuteAttempts <= 0 {
		o.MaxExecuteAttempts = 10
	}
}

// Pipeline owns the background jobs.
type Pipeline struct {
	requests *request.Service
	repo     *request.Repository
	registry *operation.Registry
	clock    contracts.Clock
	log      *slog.Logger
	opts     Options

	schedulingLive atomic.Bool
	expirationLive atomic.Bool
	approvalLive   atomic.Bool

	adopted  metric.Int64Counter
	executed metric.Int64Counter
	expired  metric.Int64Counter
	failed   metric.Int64Counter
	jobTime  metric.Float64Histogram
}

func NewPipeline(
	requests *request.Service,
	repo *request.Repository,
	registry *operation.Registry,
	clock contracts.Clock,
	log *slog.Logger,
	meter metric.Meter,
	opts Options,
) (*Pipeline, error) {
	opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if meter == nil {
		meter = otel.Meter("covault.station")
	}
	p := &Pipeline{
		requests: requests, repo: repo, registry: registry,
		clock: clock, log: log.With("component", "scheduler"), opts: opts,
	}
	var err error
	if p.adopted, err = meter.Int64Counter("station.requests.adopted",
		metric.WithDescription("Requests adopted by the approval sweep"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if p.executed, err = meter.Int64Counter("station.requests.executed",
		metric.WithDescription("Requests executed to completion"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if p.expired, err = meter.Int64Counter("station.requests.expired",
		metric.WithDescription("Requests cancelled by the expiration sweep"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if p.failed, err = meter.Int64Counter("station.requests.failed",
		metric.WithDescription("Requests that reached the Failed state"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if p.jobTime, err = meter.Float64Histogram("station.scheduler.job.duration",
		metric.WithDescription("Scheduler job run duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return p, nil
}

// Run blocks until ctx is cancelled, ticking all three jobs.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	tick := func(interval time.Duration, job func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					job(ctx)
				}
			}
		}()
	}
	tick(p.opts.SchedulingInterval, p.RunScheduling)
	tick(p.opts.ExpirationInterval, p.RunExpiration)
	tick(p.opts.ApprovalInterval, p.RunApprovalSweep)
	p.log.InfoContext(ctx, "pipeline started",
		"scheduling_interval", p.opts.SchedulingInterval,
		"expiration_interval", p.opts.ExpirationInterval,
		"approval_interval", p.opts.ApprovalInterval)
	<-ctx.Done()
	wg.Wait()
	p.log.Info("pipeline stopped")
}

// RunApprovalSweep re-evaluates pending requests against current policy
// state. Membership edits and policy edits can make a stale ballot decisive
// without any new vote arriving.
func (p *Pipeline) RunApprovalSweep(ctx context.Context) {
	if !p.approvalLive.CompareAndSwap(false, true) {
		return
	}
	defer p.approvalLive.Store(false)
	defer p.observe(ctx, "approval_sweep", p.clock.Now())

	pending, err := p.repo.FindByStatus(ctx, contracts.RequestStatusCreated, p.opts.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "approval sweep scan", "error", err)
		return
	}
	for _, req := range pending {
		if req.Status != contracts.RequestStatusCreated {
			continue
		}
		before := req.Status
		if err := p.requests.Reevaluate(ctx, req, "system"); err != nil {
			p.log.ErrorContext(ctx, "approval sweep re-evaluation", "request_id", req.ID, "error", err)
			continue
		}
		if before != req.Status && req.Status == contracts.RequestStatusApproved {
			p.adopted.Add(ctx, 1)
		}
	}
}

// RunScheduling moves Approved requests to Scheduled, then executes every
// Scheduled request whose time has come and re-polls Processing ones.
func (p *Pipeline) RunScheduling(ctx context.Context) {
	if !p.schedulingLive.CompareAndSwap(false, true) {
		return
	}
	defer p.schedulingLive.Store(false)
	defer p.observe(ctx, "scheduling", p.clock.Now())

	approved, err := p.repo.FindByStatus(ctx, contracts.RequestStatusApproved, p.opts.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "scheduling scan", "error", err)
		return
	}
	for _, req := range approved {
		if req.Status != contracts.RequestStatusApproved {
			continue
		}
		if err := p.requests.Transition(ctx, req, contracts.RequestStatusScheduled, "queued for execution", "system"); err != nil {
			p.log.ErrorContext(ctx, "schedule request", "request_id", req.ID, "error", err)
		}
	}

	due, err := p.repo.FindScheduledDue(ctx, p.clock.Now(), p.opts.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "due scan", "error", err)
		return
	}
	for _, req := range due {
		if req.Status != contracts.RequestStatusScheduled {
			continue
		}
		if err := p.requests.Transition(ctx, req, contracts.RequestStatusProcessing, "executing", "system"); err != nil {
			p.log.ErrorContext(ctx, "begin processing", "request_id", req.ID, "error", err)
			continue
		}
		p.dispatch(ctx, req)
	}

	processing, err := p.repo.FindByStatus(ctx, contracts.RequestStatusProcessing, p.opts.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "processing scan", "error", err)
		return
	}
	for _, req := range processing {
		if req.Status != contracts.RequestStatusProcessing {
			continue
		}
		p.dispatch(ctx, req)
	}
}

// RunExpiration cancels pending requests whose deadline passed, cascading
// the cancellation into linked sub-entities.
func (p *Pipeline) RunExpiration(ctx context.Context) {
	if !p.expirationLive.CompareAndSwap(false, true) {
		return
	}
	defer p.expirationLive.Store(false)
	defer p.observe(ctx, "expiration", p.clock.Now())

	overdue, err := p.repo.FindExpiredBefore(ctx, p.clock.Now(), p.opts.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "expiration scan", "error", err)
		return
	}
	for _, req := range overdue {
		// Only requests still collecting votes expire; anything adopted is
		// already on its way to execution.
		if req.Status != contracts.RequestStatusCreated {
			continue
		}
		if err := p.requests.Expire(ctx, req); err != nil {
			p.log.ErrorContext(ctx, "expire request", "request_id", req.ID, "error", err)
			continue
		}
		p.expired.Add(ctx, 1)
	}
}

// dispatch runs one executor pass for a Processing request, counting the
// attempt against the retry budget.
func (p *Pipeline) dispatch(ctx context.Context, req *contracts.Request) {
	if req.ExecuteAttempts >= p.opts.MaxExecuteAttempts {
		p.fail(ctx, req, "retry budget exhausted")
		return
	}
	req.ExecuteAttempts++
	if err := p.requests.Save(ctx, req); err != nil {
		p.log.ErrorContext(ctx, "record execute attempt", "request_id", req.ID, "error", err)
		return
	}

	outcome, err := p.invoke(ctx, req)
	if err != nil {
		p.fail(ctx, req, err.Error())
		return
	}

	req.Operation = outcome.Operation
	switch outcome.State {
	case operation.OutcomeCompleted:
		if err := p.requests.Transition(ctx, req, contracts.RequestStatusCompleted, "executed", "system"); err != nil {
			p.log.ErrorContext(ctx, "complete request", "request_id", req.ID, "error", err)
			return
		}
		p.executed.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", string(req.Operation.Type))))
	case operation.OutcomeProcessing:
		// Dispatched but unconfirmed; the next scheduling tick re-polls.
		if err := p.requests.Save(ctx, req); err != nil {
			p.log.ErrorContext(ctx, "persist processing payload", "request_id", req.ID, "error", err)
		}
	}
}

// invoke shields the pipeline from handler panics.
func (p *Pipeline) invoke(ctx context.Context, req *contracts.Request) (out operation.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation handler panic: %v", r)
		}
	}()
	return p.registry.Execute(ctx, req)
}

func (p *Pipeline) fail(ctx context.Context, req *contracts.Request, reason string) {
	if err := p.requests.Fail(ctx, req, reason); err != nil {
		p.log.ErrorContext(ctx, "fail request", "request_id", req.ID, "error", err)
		return
	}
	p.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", string(req.Operation.Type))))
	p.log.WarnContext(ctx, "request failed", "request_id", req.ID, "reason", reason)
}

func (p *Pipeline) observe(ctx context.Context, job string, start time.Time) {
	p.jobTime.Record(ctx, p.clock.Now().Sub(start).Seconds(),
		metric.WithAttributes(attribute.String("job", job)))
}

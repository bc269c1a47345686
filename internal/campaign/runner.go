// Package campaign drives a platform's test campaign: it builds the
// dependency graph, plans batches from the history ledger, runs each action
// through an executor, and persists progress as it goes.
package campaign

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/compress"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/executor"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/history"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
	"github.com/ameyarj/pica-testing-sub000/internal/persist"
	"github.com/ameyarj/pica-testing-sub000/internal/registry"
	"github.com/ameyarj/pica-testing-sub000/internal/scheduler"
)

// DefaultBatchSize is used when a Strategy leaves BatchSize unset.
const DefaultBatchSize = 10

// Strategy controls a single run.
type Strategy struct {
	// BatchSize is the target number of actions per batch.
	BatchSize int
	// Fresh ignores the history ledger and starts from the first action.
	Fresh bool
	// MaxBatches stops the run after this many batches; 0 means no limit.
	MaxBatches int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = logging.OrNop(l).WithPhase("campaign") }
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRegistryCapacity sets the recent-action capacity of new registries.
func WithRegistryCapacity(n int) Option {
	return func(r *Runner) { r.capacity = n }
}

// Runner executes campaigns. It is safe to reuse across platforms but runs
// for the same platform must not overlap; see persist.RunLock.
type Runner struct {
	builder  *graph.Builder
	exec     executor.Executor
	state    *persist.Manager
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
	capacity int
}

// NewRunner creates a Runner.
func NewRunner(builder *graph.Builder, exec executor.Executor, state *persist.Manager, opts ...Option) *Runner {
	r := &Runner{
		builder: builder,
		exec:    exec,
		state:   state,
		logger:  logging.NopLogger(),
		tracer:  noop.NewTracerProvider().Tracer("picatest/campaign"),
		now:     time.Now,
	}
	if r.builder == nil {
		r.builder = graph.NewBuilder()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// continuation describes a batch resumed part way through.
type continuation struct {
	number   int
	start    int
	size     int
	outcomes []compress.Outcome
}

// covers reports whether b is the remainder of the continued batch.
func (c *continuation) covers(b scheduler.Batch) bool {
	return c != nil && c.number == b.Number && b.Start >= c.start && b.Start < c.start+c.size
}

// Run executes the platform's remaining batches. When ctx is cancelled the
// current batch is recorded as interrupted and the error wraps
// errors.ErrInterrupted; the report is still returned.
func (r *Runner) Run(ctx context.Context, platform string, actions []action.Action, strategy Strategy) (*Report, error) {
	if r.exec == nil || r.state == nil {
		return nil, errors.NewValidationError("runner needs an executor and a state manager")
	}
	if strategy.BatchSize <= 0 {
		strategy.BatchSize = DefaultBatchSize
	}

	runID := uuid.New().String()
	log := r.logger.WithPlatform(platform).With("run_id", runID)
	ctx, span := r.tracer.Start(ctx, "campaign.Run", trace.WithAttributes(
		attribute.String("picatest.platform", platform),
		attribute.String("picatest.run_id", runID),
		attribute.Int("picatest.actions", len(actions)),
	))
	defer span.End()

	report := &Report{
		RunID:     runID,
		Platform:  platform,
		StartedAt: r.now(),
		Total:     len(actions),
	}

	g := r.builder.Build(ctx, actions, platform)
	report.GraphMode = g.Mode
	report.Repairs = g.Repairs

	batches, reg, carry := r.plan(ctx, platform, g, actions, strategy, report)
	if strategy.MaxBatches > 0 && len(batches) > strategy.MaxBatches {
		batches = batches[:strategy.MaxBatches]
	}
	log.Info("campaign planned",
		"batches", len(batches),
		"graph_mode", string(g.Mode),
		"repairs", g.Repairs.Total(),
		"resume_source", string(report.ResumeSource),
		"start_index", report.StartIndex,
	)

	for _, b := range batches {
		var c *continuation
		if carry.covers(b) {
			c = carry
		}
		br, err := r.runBatch(ctx, platform, b, reg, c)
		report.add(br)
		if err != nil {
			report.Interrupted = true
			report.FinishedAt = r.now()
			span.RecordError(err)
			span.SetStatus(codes.Error, "interrupted")
			log.Warn("campaign interrupted", "batch", b.Number, "resume_index", br.ResumeIndex)
			return report, err
		}
	}

	report.FinishedAt = r.now()
	span.SetAttributes(
		attribute.Int("picatest.executed", report.Executed),
		attribute.Int("picatest.succeeded", report.Succeeded),
	)
	log.Info("campaign finished",
		"batches", len(report.Batches),
		"executed", report.Executed,
		"succeeded", report.Succeeded,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

// plan resolves where the run starts and seeds the registry from the most
// authoritative stored state.
func (r *Runner) plan(ctx context.Context, platform string, g *graph.DependencyGraph, actions []action.Action, strategy Strategy, report *Report) ([]scheduler.Batch, *registry.Registry, *continuation) {
	h := r.state.LoadHistory(ctx, platform)
	reg := registry.New(r.capacity)

	if strategy.Fresh {
		if err := r.state.ClearResumeState(context.WithoutCancel(ctx), platform); err != nil {
			r.logger.WithPlatform(platform).Warn("clearing earlier resume state failed", "error", err.Error())
		}
		rp := scheduler.Fresh(h)
		report.ResumeSource = persist.SourceNone
		report.StartIndex = rp.StartIndex
		return scheduler.Plan(g, actions, strategy.BatchSize, rp), reg, nil
	}

	rp := scheduler.ResolveResume(h, r.logger.WithPlatform(platform))
	rs := r.state.LoadResumeState(ctx, platform)
	reg = registry.Merge(reg, rs.Context)
	report.ResumeSource = rs.Source

	var carry *continuation
	switch {
	case rp.Interrupted && rs.Interrupt != nil && rs.Interrupt.BatchNumber == rp.BatchNumber:
		rec := rs.Interrupt
		carry = &continuation{
			number:   rec.BatchNumber,
			start:    rec.Start,
			size:     rec.Size,
			outcomes: append([]compress.Outcome(nil), rec.ExecutedActions...),
		}
	case !rp.Interrupted && rs.Checkpoint != nil && rs.Checkpoint.BatchNumber == rp.BatchNumber:
		// The process stopped without recording an interrupt; continue the
		// batch after its last checkpointed action.
		cp := rs.Checkpoint
		start := cp.GlobalIndex - cp.ActionIndex
		end := start + cp.TotalActions
		if cp.NextGlobalIndex() >= end {
			r.finishFromCheckpoint(ctx, platform, cp, start, reg)
			rp = scheduler.ResumePoint{BatchNumber: cp.BatchNumber + 1, StartIndex: end}
			break
		}
		rp.Interrupted = true
		rp.StartIndex = cp.NextGlobalIndex()
		rp.BatchEnd = end
		carry = &continuation{
			number:   cp.BatchNumber,
			start:    start,
			size:     cp.TotalActions,
			outcomes: append([]compress.Outcome(nil), cp.Outcomes...),
		}
		r.logger.WithPlatform(platform).Info("continuing batch from checkpoint",
			"batch", cp.BatchNumber,
			"start_index", rp.StartIndex,
		)
	}

	report.StartIndex = rp.StartIndex
	report.Ambiguous = rp.Ambiguous
	return scheduler.Plan(g, actions, strategy.BatchSize, rp), reg, carry
}

// finishFromCheckpoint records a batch whose last action was checkpointed
// but which stopped before its result was saved.
func (r *Runner) finishFromCheckpoint(ctx context.Context, platform string, cp *persist.Checkpoint, start int, reg *registry.Registry) {
	saved := r.state.SaveBatchResult(context.WithoutCancel(ctx), persist.BatchResult{
		Platform:    platform,
		BatchNumber: cp.BatchNumber,
		Start:       start,
		Size:        cp.TotalActions,
		Outcomes:    cp.Outcomes,
		Context:     reg.Clone(),
	})
	r.logger.WithPlatform(platform).WithBatch(cp.BatchNumber).Info("recorded batch completed before restart",
		"range", history.FormatRange(start, cp.TotalActions),
		"outcomes", len(cp.Outcomes),
		"history_only", saved.HistoryOnly,
	)
}

// runBatch executes one batch. It returns an error only when ctx was
// cancelled, after the interrupt has been recorded.
func (r *Runner) runBatch(ctx context.Context, platform string, b scheduler.Batch, reg *registry.Registry, c *continuation) (BatchReport, error) {
	log := r.logger.WithPlatform(platform).WithBatch(b.Number)
	ctx, span := r.tracer.Start(ctx, "campaign.Batch", trace.WithAttributes(
		attribute.Int("picatest.batch", b.Number),
		attribute.String("picatest.range", b.Range()),
	))
	defer span.End()

	start, size := b.Start, b.Len()
	var outcomes []compress.Outcome
	if c != nil {
		start, size = c.start, c.size
		outcomes = c.outcomes
	}
	br := BatchReport{Number: b.Number, Start: start, Size: size, Resumed: c != nil}

	// Writes outlive a cancellation so finished work is always recorded.
	saveCtx := context.WithoutCancel(ctx)
	began := r.now()
	log.Info("batch started", "range", b.Range(), "actions", b.Len(), "resumed", br.Resumed)

	for i, a := range b.Actions {
		global := b.Start + i
		if ctx.Err() != nil {
			return r.interrupt(ctx, platform, b, br, outcomes, reg, global, span)
		}

		res, err := r.exec.Execute(ctx, a, reg)
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupt(ctx, platform, b, br, outcomes, reg, global, span)
			}
			res = action.Result{Success: false, Error: err.Error()}
		}

		reg.Update(a, res)
		o := compress.NewOutcome(a, global, res, r.now())
		outcomes = append(outcomes, o)
		br.Executed++
		if res.Success {
			br.Succeeded++
			log.Debug("action succeeded", "action_id", a.ID, "index", global)
		} else {
			log.Info("action failed", "action_id", a.ID, "index", global, "error", res.Error)
		}

		r.state.SaveIncremental(saveCtx, persist.Checkpoint{
			Platform:     platform,
			BatchNumber:  b.Number,
			ActionIndex:  global - start,
			GlobalIndex:  global,
			TotalActions: size,
			Context:      reg.Clone(),
			Outcomes:     outcomes,
		})
	}

	saved := r.state.SaveBatchResult(saveCtx, persist.BatchResult{
		Platform:    platform,
		BatchNumber: b.Number,
		Start:       start,
		Size:        size,
		Outcomes:    outcomes,
		Context:     reg,
		Duration:    r.now().Sub(began),
	})
	br.Compressed = saved.Compressed
	br.HistoryOnly = saved.HistoryOnly
	br.Duration = r.now().Sub(began)
	br.ResumeIndex = b.End()

	span.SetAttributes(
		attribute.Int("picatest.succeeded", br.Succeeded),
		attribute.Bool("picatest.compressed", br.Compressed),
	)
	log.Info("batch completed",
		"executed", br.Executed,
		"succeeded", br.Succeeded,
		"compressed", br.Compressed,
		"history_only", br.HistoryOnly,
		"duration_ms", br.Duration.Milliseconds(),
	)
	return br, nil
}

// interrupt records the batch as stopped before global and returns
// ErrInterrupted. The save runs on a context that outlives the cancellation.
func (r *Runner) interrupt(ctx context.Context, platform string, b scheduler.Batch, br BatchReport, outcomes []compress.Outcome, reg *registry.Registry, global int, span trace.Span) (BatchReport, error) {
	cause := context.Cause(ctx)
	reason := "cancelled"
	if cause != nil {
		reason = cause.Error()
	}

	var last string
	if n := len(outcomes); n > 0 {
		last = outcomes[n-1].ActionID
	}
	saveCtx := context.WithoutCancel(ctx)
	saved := r.state.SaveInterrupt(saveCtx, persist.InterruptRecord{
		Platform:        platform,
		BatchNumber:     b.Number,
		Start:           br.Start,
		Size:            br.Size,
		ExecutedActions: outcomes,
		Context:         reg.Clone(),
		Recovery: persist.Recovery{
			CanResume:        true,
			LastAction:       last,
			CompletedActions: len(outcomes),
			TotalActions:     br.Size,
			ResumeIndex:      global,
		},
		Reason:        reason,
		InterruptedAt: r.now(),
	})

	br.Interrupted = true
	br.ResumeIndex = global
	br.HistoryOnly = saved.HistoryOnly
	span.SetAttributes(attribute.Int("picatest.resume_index", global))
	return br, errors.Wrapf(errors.ErrInterrupted, "batch %d stopped at action %d", b.Number, global+1)
}

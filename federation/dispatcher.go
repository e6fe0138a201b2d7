package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/internal/pool"
	"github.com/BaSui01/catalogflow/types"
)

const tracerName = "github.com/BaSui01/catalogflow/federation"

// Options holds the collaborators shared by the strategies.
type Options struct {
	Config   Config
	Pool     *pool.GoroutinePool
	Logger   *zap.Logger
	Observer Observer
}

// dispatcher submits one query per source to the shared pool and waits on
// the resulting futures.
type dispatcher struct {
	strategy string
	cfg      Config
	pool     *pool.GoroutinePool
	logger   *zap.Logger
	observer Observer
	tracer   trace.Tracer
}

func newDispatcher(strategy string, opts Options) *dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "federation"), zap.String("strategy", strategy))

	p := opts.Pool
	if p == nil {
		p = pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig())
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &dispatcher{
		strategy: strategy,
		cfg:      opts.Config.Normalize(logger),
		pool:     p,
		logger:   logger,
		observer: observer,
		tracer:   otel.Tracer(tracerName),
	}
}

// sourceTask is one dispatched source query.
type sourceTask struct {
	source    catalog.Source
	future    *pool.Future
	submitErr error
	started   time.Time
	cancel    context.CancelFunc

	// response is written by the task before its future completes.
	response *catalog.SourceResponse
}

// prepare validates the inputs and builds the dispatch plan. Nil sources are
// skipped and duplicate ids are ignored after the first occurrence.
func (d *dispatcher) prepare(sources []catalog.Source, req *catalog.QueryRequest, rewrite bool) (*plan, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}

	seen := make(map[string]struct{}, len(sources))
	distinct := make([]catalog.Source, 0, len(sources))
	for _, s := range sources {
		if s == nil {
			continue
		}
		id := s.ID()
		if _, dup := seen[id]; dup {
			d.logger.Warn("duplicate source in federated query, ignoring", zap.String("source_id", id))
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, s)
	}
	if len(distinct) == 0 {
		return nil, types.NewNoSourcesError()
	}

	offset := EffectiveOffset(req.Query.StartIndex, d.cfg.MaxStartIndex)
	p := &plan{
		original: req,
		modified: req,
		sources:  distinct,
		offset:   offset,
		pageSize: req.Query.PageSize,
	}
	if !rewrite {
		return p, nil
	}

	start, size, rewritten := RewriteWindow(offset, req.Query.PageSize, len(distinct))
	if rewritten {
		p.rewritten = true
		p.modified = req.WithQuery(req.Query.WithWindow(start, size))
		d.logger.Debug("rewrote query window for federation",
			zap.Int("offset", offset),
			zap.Int("page_size", req.Query.PageSize),
			zap.Int("modified_page_size", size),
			zap.Int("sources", len(distinct)))
	}
	return p, nil
}

// dispatch submits one task per source. A zero deadline means no timeout.
func (d *dispatcher) dispatch(ctx context.Context, p *plan, deadline time.Time) []*sourceTask {
	tasks := make([]*sourceTask, 0, len(p.sources))
	for _, src := range p.sources {
		t := &sourceTask{source: src, started: time.Now()}
		tasks = append(tasks, t)

		var taskCtx context.Context
		if d.cfg.CancelOnTimeout && !deadline.IsZero() {
			taskCtx, t.cancel = context.WithDeadline(ctx, deadline)
		} else {
			taskCtx, t.cancel = context.WithCancel(ctx)
		}

		req := p.modified
		future, err := d.pool.Go(taskCtx, func(ctx context.Context) error {
			defer t.cancel()
			return d.runSource(ctx, t, req)
		})
		if err != nil {
			t.cancel()
			t.submitErr = fmt.Errorf("submit source query: %w", err)
			d.logger.Warn("source query rejected by worker pool",
				zap.String("source_id", src.ID()), zap.Error(err))
			continue
		}
		t.future = future
		d.logger.Debug("dispatched source query", zap.String("source_id", src.ID()))
	}
	return tasks
}

func (d *dispatcher) runSource(ctx context.Context, t *sourceTask, req *catalog.QueryRequest) error {
	ctx, span := d.tracer.Start(ctx, "federation.source",
		trace.WithAttributes(
			attribute.String("catalog.source_id", t.source.ID()),
			attribute.Int("catalog.start_index", req.Query.StartIndex),
			attribute.Int("catalog.page_size", req.Query.PageSize),
		))
	defer span.End()

	resp, err := t.source.Query(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if resp == nil {
		resp = &catalog.SourceResponse{}
	}
	span.SetAttributes(
		attribute.Int64("catalog.hits", resp.Hits),
		attribute.Int("catalog.returned", len(resp.Results)),
	)
	t.response = resp
	return nil
}

// await waits for t until deadline or ctx ends. A zero deadline waits as
// long as ctx allows.
func (d *dispatcher) await(ctx context.Context, t *sourceTask, deadline time.Time) (resp *catalog.SourceResponse, timedOut bool, err error) {
	if t.submitErr != nil {
		return nil, false, t.submitErr
	}

	waitCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	err = t.future.Wait(waitCtx)
	select {
	case <-t.future.Done():
		err = t.future.Err()
		if err == nil {
			return t.response, false, nil
		}
		return nil, errors.Is(err, context.DeadlineExceeded), err
	default:
	}

	// Stopped waiting while the source was still running.
	if d.cfg.CancelOnTimeout {
		t.cancel()
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, true, types.NewTimeoutError(
			fmt.Sprintf("source %s did not respond before the deadline", t.source.ID())).
			WithSource(t.source.ID())
	}
	return nil, false, err
}

// record logs and reports the outcome of one source and returns its status.
func (d *dispatcher) record(t *sourceTask, resp *catalog.SourceResponse, timedOut bool, err error) catalog.SiteStatus {
	id := t.source.ID()
	status := catalog.SiteStatus{SourceID: id, Elapsed: time.Since(t.started)}
	ev := SourceEvent{
		Strategy: d.strategy,
		SourceID: id,
		Elapsed:  status.Elapsed,
		TimedOut: timedOut,
		Err:      err,
	}
	if err != nil {
		d.logger.Warn("source query failed",
			zap.String("source_id", id),
			zap.Bool("timed_out", timedOut),
			zap.Duration("elapsed", status.Elapsed),
			zap.Error(err))
	} else {
		status.Successful = true
		status.Hits = resp.Hits
		status.ResultsReturned = len(resp.Results)
		ev.Hits = resp.Hits
		ev.Returned = len(resp.Results)
		d.logger.Debug("source query completed",
			zap.String("source_id", id),
			zap.Int64("hits", resp.Hits),
			zap.Int("returned", len(resp.Results)),
			zap.Duration("elapsed", status.Elapsed))
	}
	d.observer.SourceCompleted(ev)
	return status
}

// failureDetail converts a source failure into a processing detail.
func failureDetail(sourceID string, timedOut bool, err error) catalog.ProcessingDetail {
	return catalog.ProcessingDetail{
		SourceID: sourceID,
		Error:    err.Error(),
		TimedOut: timedOut,
	}
}

// sourceDetails copies the diagnostics a source attached to its own response.
func sourceDetails(sourceID string, resp *catalog.SourceResponse) []catalog.ProcessingDetail {
	out := make([]catalog.ProcessingDetail, 0, len(resp.ProcessingDetails))
	for _, pd := range resp.ProcessingDetails {
		if pd.SourceID == "" {
			pd.SourceID = sourceID
		}
		out = append(out, pd)
	}
	return out
}

func siteList(tasks []*sourceTask) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.source.ID()
	}
	return ids
}

func (d *dispatcher) startSpan(ctx context.Context, p *plan) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "federation.federate",
		trace.WithAttributes(
			attribute.String("catalog.strategy", d.strategy),
			attribute.Int("catalog.sources", len(p.sources)),
			attribute.Int("catalog.offset", p.offset),
			attribute.Int("catalog.page_size", p.pageSize),
			attribute.Bool("catalog.rewritten", p.rewritten),
		))
}

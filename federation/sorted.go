package federation

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/catalogflow/catalog"
)

// SortedStrategy waits for every source under one shared deadline, merges
// their results with a stable sort and trims the merged list to the
// requested window.
type SortedStrategy struct {
	d *dispatcher
}

// NewSortedStrategy creates a sorted strategy.
func NewSortedStrategy(opts Options) *SortedStrategy {
	return &SortedStrategy{d: newDispatcher(StrategySorted, opts)}
}

// Name returns the strategy name.
func (s *SortedStrategy) Name() string { return StrategySorted }

// Federate dispatches req to sources and returns the response being filled.
func (s *SortedStrategy) Federate(ctx context.Context, sources []catalog.Source, req *catalog.QueryRequest) (*catalog.QueryResponse, error) {
	p, err := s.d.prepare(sources, req, true)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var deadline time.Time
	if timeout := req.Query.Timeout(); timeout > 0 {
		deadline = start.Add(timeout)
	}

	ctx, span := s.d.startSpan(ctx, p)
	tasks := s.d.dispatch(ctx, p, deadline)

	resp := catalog.NewQueryResponse(req)
	resp.MarkUnavailable(req.Unavailable)
	finish := func(failed int) {
		returned := resp.Len()
		span.SetAttributes(attribute.Int("catalog.returned", returned), attribute.Int("catalog.failed", failed))
		span.End()
		s.d.observer.FederationCompleted(FederationEvent{
			Strategy: StrategySorted,
			Sources:  len(tasks),
			Failed:   failed,
			Returned: returned,
			Hits:     resp.Hits(),
			Elapsed:  time.Since(start),
		})
	}

	if !p.rewritten {
		go s.monitor(ctx, p, tasks, deadline, resp, finish)
		return resp, nil
	}

	merged := catalog.NewQueryResponse(p.modified)
	failedCh := make(chan int, 1)
	go s.monitor(ctx, p, tasks, deadline, merged, func(failed int) { failedCh <- failed })
	go func() {
		s.applyOffset(p, merged, resp)
		finish(<-failedCh)
	}()
	return resp, nil
}

// monitor waits on each source in turn under the shared deadline, merges
// what arrived and closes out.
func (s *SortedStrategy) monitor(ctx context.Context, p *plan, tasks []*sourceTask, deadline time.Time, out *catalog.QueryResponse, done func(failed int)) {
	var (
		results []catalog.Result
		hits    int64
		failed  int
	)
	for _, t := range tasks {
		resp, timedOut, err := s.d.await(ctx, t, deadline)
		status := s.d.record(t, resp, timedOut, err)
		out.SetSiteStatus(status)
		if err != nil {
			failed++
			out.AddProcessingDetail(failureDetail(t.source.ID(), timedOut, err))
			continue
		}
		for _, pd := range sourceDetails(t.source.ID(), resp) {
			out.AddProcessingDetail(pd)
		}
		results = append(results, resp.Results...)
		hits += resp.Hits
	}

	slices.SortStableFunc(results, NewComparator(p.original.Query.SortBy))
	if size := p.modifiedPageSize(); size > 0 && len(results) > size {
		results = results[:size]
	}

	out.SetHits(hits)
	out.SetProperty(catalog.PropertySiteList, siteList(tasks))
	trace.SpanFromContext(ctx).AddEvent("merged", trace.WithAttributes(attribute.Int("catalog.merged", len(results))))
	out.AddResults(results, true)
	done(failed)
}

// applyOffset consumes the merged list in order, skips the first offset-1
// entries, emits up to pageSize entries and closes out.
func (s *SortedStrategy) applyOffset(p *plan, merged, out *catalog.QueryResponse) {
	defer out.Close()

	skip := p.offset - 1
	emitted := 0
	for {
		// merged is always closed by the monitor, so this never blocks forever.
		res, ok, _ := merged.Next(context.Background())
		if !ok {
			break
		}
		if skip > 0 {
			skip--
			continue
		}
		if p.pageSize > 0 && emitted >= p.pageSize {
			continue
		}
		out.AddResult(res)
		emitted++
	}
	out.CopyMetadataFrom(merged)
}

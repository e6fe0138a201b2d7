package federation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/BaSui01/catalogflow/catalog"
)

// FifoStrategy appends results in the order sources respond.
//
// Deprecated: FifoStrategy ignores the query timeout and performs no offset
// correction. Use SortedStrategy unless first-result latency matters more
// than ordering.
type FifoStrategy struct {
	d *dispatcher
}

// NewFifoStrategy creates a FIFO strategy.
func NewFifoStrategy(opts Options) *FifoStrategy {
	return &FifoStrategy{d: newDispatcher(StrategyFifo, opts)}
}

// Name returns the strategy name.
func (f *FifoStrategy) Name() string { return StrategyFifo }

// Federate dispatches the unmodified request to every source. The response is
// closed exactly once, after every dispatched source has finished.
func (f *FifoStrategy) Federate(ctx context.Context, sources []catalog.Source, req *catalog.QueryRequest) (*catalog.QueryResponse, error) {
	p, err := f.d.prepare(sources, req, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := f.d.startSpan(ctx, p)
	tasks := f.d.dispatch(ctx, p, time.Time{})

	resp := catalog.NewQueryResponse(req)
	resp.MarkUnavailable(req.Unavailable)
	resp.SetProperty(catalog.PropertySiteList, siteList(tasks))

	var (
		mu       sync.Mutex
		returned int
		failed   atomic.Int32
		pending  atomic.Int32
	)
	pending.Store(int32(len(tasks)))

	for _, t := range tasks {
		go func(t *sourceTask) {
			// Unbounded wait: cancellation reaches the source through ctx and
			// the source is expected to return.
			r, timedOut, err := f.d.await(context.Background(), t, time.Time{})
			status := f.d.record(t, r, timedOut, err)

			mu.Lock()
			resp.SetSiteStatus(status)
			if err != nil {
				failed.Add(1)
				resp.AddProcessingDetail(failureDetail(t.source.ID(), timedOut, err))
			} else {
				for _, pd := range sourceDetails(t.source.ID(), r) {
					resp.AddProcessingDetail(pd)
				}
				resp.AddHits(r.Hits)
				for _, res := range r.Results {
					if p.pageSize > 0 && returned >= p.pageSize {
						break
					}
					resp.AddResult(res)
					returned++
				}
			}
			mu.Unlock()

			if pending.Add(-1) == 0 {
				resp.Close()
				span.SetAttributes(attribute.Int("catalog.returned", resp.Len()))
				span.End()
				f.d.observer.FederationCompleted(FederationEvent{
					Strategy: StrategyFifo,
					Sources:  len(tasks),
					Failed:   int(failed.Load()),
					Returned: resp.Len(),
					Hits:     resp.Hits(),
					Elapsed:  time.Since(start),
				})
			}
		}(t)
	}
	return resp, nil
}

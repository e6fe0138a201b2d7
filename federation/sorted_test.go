package federation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/internal/pool"
	"github.com/BaSui01/catalogflow/testutil"
	"github.com/BaSui01/catalogflow/testutil/fixtures"
	"github.com/BaSui01/catalogflow/testutil/mocks"
	"github.com/BaSui01/catalogflow/types"
)

// recordingObserver counts federation events.
type recordingObserver struct {
	mu         sync.Mutex
	sources    []SourceEvent
	federation []FederationEvent
}

func (o *recordingObserver) SourceCompleted(ev SourceEvent) {
	o.mu.Lock()
	o.sources = append(o.sources, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) FederationCompleted(ev FederationEvent) {
	o.mu.Lock()
	o.federation = append(o.federation, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) federationEvents() []FederationEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]FederationEvent(nil), o.federation...)
}

func newTestOptions(t *testing.T) Options {
	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 16, QueueSize: 64})
	t.Cleanup(p.Close)
	return Options{
		Config: DefaultConfig(),
		Pool:   p,
		Logger: zaptest.NewLogger(t),
	}
}

func request(start, size int) *catalog.QueryRequest {
	return catalog.NewQueryRequest(catalog.Query{StartIndex: start, PageSize: size})
}

func TestSorted_MergesByRelevance(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	a := mocks.NewMockSource("a").WithResults(
		fixtures.ScoredResult("a", "a1", 0.4),
		fixtures.ScoredResult("a", "a2", 0.2),
	).WithHits(10)
	b := mocks.NewMockSource("b").WithResults(
		fixtures.ScoredResult("b", "b1", 0.9),
		fixtures.ScoredResult("b", "b2", 0.3),
	).WithHits(5)

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{a, b}, request(1, 10))
	require.NoError(t, err)

	results := testutil.CollectResults(t, resp)
	assert.Equal(t, []string{"b1", "a1", "b2", "a2"}, testutil.ResultIDs(results))
	assert.EqualValues(t, 15, resp.Hits())
	assert.Empty(t, resp.ProcessingDetails())

	sites, ok := resp.Property(catalog.PropertySiteList)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, sites)

	statuses := resp.SiteStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, catalog.SiteStatus{SourceID: "a", Hits: 10, ResultsReturned: 2, Successful: true, Elapsed: statuses[0].Elapsed}, statuses[0])

	byID, ok := resp.Property(catalog.PropertySiteStatus)
	require.True(t, ok)
	require.IsType(t, map[string]catalog.SiteStatus{}, byID)
	assert.Equal(t, statuses[0], byID.(map[string]catalog.SiteStatus)["a"])
	assert.EqualValues(t, 5, byID.(map[string]catalog.SiteStatus)["b"].Hits)
}

func TestSorted_OffsetCorrection(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	a := mocks.NewMockSource("a").WithResults(
		fixtures.ScoredResult("a", "a1", 0.95),
		fixtures.ScoredResult("a", "a2", 0.75),
		fixtures.ScoredResult("a", "a3", 0.55),
		fixtures.ScoredResult("a", "a4", 0.35),
	)
	b := mocks.NewMockSource("b").WithResults(
		fixtures.ScoredResult("b", "b1", 0.9),
		fixtures.ScoredResult("b", "b2", 0.7),
		fixtures.ScoredResult("b", "b3", 0.5),
		fixtures.ScoredResult("b", "b4", 0.3),
	)

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{a, b}, request(2, 3))
	require.NoError(t, err)
	results := testutil.CollectResults(t, resp)

	for _, src := range []*mocks.MockSource{a, b} {
		calls := src.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, 1, calls[0].Query.StartIndex)
		assert.Equal(t, 4, calls[0].Query.PageSize)
	}

	// Merged: a1 b1 a2 b2 | a3 ... truncated to 4, skip 1, emit 3.
	assert.Equal(t, []string{"b1", "a2", "b2"}, testutil.ResultIDs(results))
	assert.EqualValues(t, 8, resp.Hits())
	_, ok := resp.Property(catalog.PropertySiteList)
	assert.True(t, ok)
	byID, ok := resp.Property(catalog.PropertySiteStatus)
	require.True(t, ok)
	assert.Len(t, byID, 2)
}

func TestSorted_SingleSourcePassesQueryThrough(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	src := mocks.NewMockSource("only").WithResults(fixtures.Results("only", 3)...)

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{src}, request(3, 2))
	require.NoError(t, err)
	testutil.CollectResults(t, resp)

	calls := src.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 3, calls[0].Query.StartIndex)
	assert.Equal(t, 2, calls[0].Query.PageSize)
}

func TestSorted_TruncatesToPageSize(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	a := mocks.NewMockSource("a").WithResults(fixtures.Results("a", 5)...)
	b := mocks.NewMockSource("b").WithResults(fixtures.Results("b", 5)...)

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{a, b}, request(1, 3))
	require.NoError(t, err)
	assert.Len(t, testutil.CollectResults(t, resp), 3)

	resp, err = s.Federate(testutil.TestContext(t), []catalog.Source{a, b}, request(1, 0))
	require.NoError(t, err)
	assert.Len(t, testutil.CollectResults(t, resp), 10, "zero page size is unbounded")
}

func TestSorted_TimeoutBecomesProcessingDetail(t *testing.T) {
	opts := newTestOptions(t)
	obs := &recordingObserver{}
	opts.Observer = obs
	s := NewSortedStrategy(opts)

	fast := mocks.NewMockSource("fast").WithResults(fixtures.Results("fast", 2)...)
	stuck := mocks.NewMockSource("stuck").WithBlock()

	req := request(1, 10)
	req.Query.TimeoutMillis = 50

	start := time.Now()
	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{stuck, fast}, req)
	require.NoError(t, err)
	results := testutil.CollectResults(t, resp)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"fast-1", "fast-2"}, testutil.ResultIDs(results))

	details := resp.ProcessingDetails()
	require.Len(t, details, 1)
	assert.Equal(t, "stuck", details[0].SourceID)
	assert.True(t, details[0].TimedOut)

	testutil.AssertEventuallyTrue(t, func() bool { return stuck.Cancelled() == 1 }, time.Second)
	testutil.AssertEventuallyTrue(t, func() bool { return len(obs.federationEvents()) == 1 }, time.Second)
	assert.Equal(t, 1, obs.federationEvents()[0].Failed)
}

func TestSorted_TimeoutWithoutCancellationLetsSourceFinish(t *testing.T) {
	opts := newTestOptions(t)
	opts.Config.CancelOnTimeout = false
	s := NewSortedStrategy(opts)

	slow := mocks.NewMockSource("slow").WithDelay(150 * time.Millisecond).WithResults(fixtures.Results("slow", 1)...)
	req := request(1, 10)
	req.Query.TimeoutMillis = 20

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{slow}, req)
	require.NoError(t, err)
	assert.Empty(t, testutil.CollectResults(t, resp))
	require.Len(t, resp.ProcessingDetails(), 1)
	assert.True(t, resp.ProcessingDetails()[0].TimedOut)

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, slow.Cancelled())
}

func TestSorted_SharedDeadlineDoesNotReset(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	a := mocks.NewMockSource("a").WithDelay(40 * time.Millisecond).WithResults(fixtures.Results("a", 1)...)
	b := mocks.NewMockSource("b").WithDelay(250 * time.Millisecond).WithResults(fixtures.Results("b", 1)...)
	c := mocks.NewMockSource("c").WithDelay(250 * time.Millisecond).WithResults(fixtures.Results("c", 1)...)

	req := request(1, 10)
	req.Query.TimeoutMillis = 120

	start := time.Now()
	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{a, b, c}, req)
	require.NoError(t, err)
	results := testutil.CollectResults(t, resp)

	assert.Less(t, time.Since(start), 240*time.Millisecond)
	assert.Equal(t, []string{"a-1"}, testutil.ResultIDs(results))
	assert.Len(t, resp.ProcessingDetails(), 2)
}

func TestSorted_FailuresDoNotAbort(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	ok := mocks.NewMockSource("ok").WithResults(fixtures.Results("ok", 2)...)
	bad := mocks.NewMockSource("bad").WithError(errors.New("connection refused"))
	panicky := mocks.NewMockSource("panicky").WithQueryFunc(func(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error) {
		panic("driver bug")
	})

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{bad, ok, panicky}, request(1, 10))
	require.NoError(t, err)
	assert.Len(t, testutil.CollectResults(t, resp), 2)

	details := resp.ProcessingDetails()
	require.Len(t, details, 2)
	assert.Equal(t, "bad", details[0].SourceID)
	assert.Contains(t, details[0].Error, "connection refused")
	assert.False(t, details[0].TimedOut)
	assert.Equal(t, "panicky", details[1].SourceID)
	assert.Contains(t, details[1].Error, "driver bug")
}

func TestSorted_SourceReportedDetailsAreKept(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	src := mocks.NewMockSource("warn").
		WithResults(fixtures.Results("warn", 1)...).
		WithProcessingDetails(catalog.ProcessingDetail{Warnings: []string{"partial index"}})

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{src}, request(1, 10))
	require.NoError(t, err)
	testutil.CollectResults(t, resp)

	require.Len(t, resp.ProcessingDetails(), 1)
	assert.Equal(t, "warn", resp.ProcessingDetails()[0].SourceID)
	assert.Equal(t, []string{"partial index"}, resp.ProcessingDetails()[0].Warnings)
}

func TestSorted_SkipsNilAndDuplicateSources(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	a := mocks.NewMockSource("a").WithResults(fixtures.Results("a", 1)...)
	a2 := mocks.NewMockSource("a").WithResults(fixtures.Results("other", 1)...)

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{nil, a, a, a2, nil}, request(1, 10))
	require.NoError(t, err)

	assert.Equal(t, []string{"a-1"}, testutil.ResultIDs(testutil.CollectResults(t, resp)))
	assert.Equal(t, 1, a.CallCount())
	assert.Zero(t, a2.CallCount())
}

func TestSorted_CallerErrors(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))

	_, err := s.Federate(context.Background(), nil, request(1, 10))
	assert.True(t, types.IsErrorCode(err, types.ErrNoSources))

	_, err = s.Federate(context.Background(), []catalog.Source{nil, nil}, request(1, 10))
	assert.True(t, types.IsErrorCode(err, types.ErrNoSources))

	_, err = s.Federate(context.Background(), []catalog.Source{mocks.NewMockSource("a")}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestSorted_PoolRejectionBecomesProcessingDetail(t *testing.T) {
	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	// Occupy the worker and the queue slot.
	_, err := p.Go(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started
	_, err = p.Go(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	s := NewSortedStrategy(Options{Config: DefaultConfig(), Pool: p})
	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{mocks.NewMockSource("x")}, request(1, 10))
	require.NoError(t, err)
	assert.Empty(t, testutil.CollectResults(t, resp))

	details := resp.ProcessingDetails()
	require.Len(t, details, 1)
	assert.Contains(t, details[0].Error, pool.ErrPoolFull.Error())
	close(release)
}

func TestSorted_CallerCancellation(t *testing.T) {
	s := NewSortedStrategy(newTestOptions(t))
	stuck := mocks.NewMockSource("stuck").WithBlock()

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := s.Federate(ctx, []catalog.Source{stuck}, request(1, 10))
	require.NoError(t, err)
	cancel()

	assert.Empty(t, testutil.CollectResults(t, resp))
	details := resp.ProcessingDetails()
	require.Len(t, details, 1)
	assert.False(t, details[0].TimedOut)
}

func TestSorted_ClampsOffsetToMaxStartIndex(t *testing.T) {
	opts := newTestOptions(t)
	opts.Config.MaxStartIndex = 3
	s := NewSortedStrategy(opts)

	a := mocks.NewMockSource("a").WithResults(fixtures.Results("a", 5)...)
	b := mocks.NewMockSource("b").WithResults(fixtures.Results("b", 5)...)

	resp, err := s.Federate(testutil.TestContext(t), []catalog.Source{a, b}, request(1000, 2))
	require.NoError(t, err)
	results := testutil.CollectResults(t, resp)

	assert.Equal(t, 4, a.Calls()[0].Query.PageSize)
	assert.Len(t, results, 2)
}

func TestStrategies_RecordUnavailableBeforeDispatch(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		start    int
	}{
		{"sorted", NewSortedStrategy(newTestOptions(t)), 1},
		{"sorted rewritten", NewSortedStrategy(newTestOptions(t)), 2},
		{"fifo", NewFifoStrategy(newTestOptions(t)), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mocks.NewMockSource("a").WithDelay(50 * time.Millisecond).WithResults(fixtures.Results("a", 2)...)
			b := mocks.NewMockSource("b").WithResults(fixtures.Results("b", 2)...)
			req := request(tt.start, 10)
			req.Unavailable = []string{"down"}

			resp, err := tt.strategy.Federate(testutil.TestContext(t), []catalog.Source{a, b}, req)
			require.NoError(t, err)

			require.False(t, resp.Closed())
			details := resp.ProcessingDetails()
			require.Len(t, details, 1)
			assert.Equal(t, "down", details[0].SourceID)

			testutil.CollectResults(t, resp)
			assert.Len(t, resp.ProcessingDetails(), 1)
			var down []catalog.SiteStatus
			for _, s := range resp.SiteStatuses() {
				if s.SourceID == "down" {
					down = append(down, s)
				}
			}
			require.Len(t, down, 1)
			assert.False(t, down[0].Successful)
			assert.Len(t, resp.SiteStatuses(), 3)
		})
	}
}

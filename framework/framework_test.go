package framework

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
	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/federation"
	"github.com/BaSui01/catalogflow/internal/pool"
	"github.com/BaSui01/catalogflow/source/memory"
	"github.com/BaSui01/catalogflow/testutil"
	"github.com/BaSui01/catalogflow/testutil/fixtures"
	"github.com/BaSui01/catalogflow/testutil/mocks"
	"github.com/BaSui01/catalogflow/types"
)

func newTestFramework(t *testing.T, cfg Config, srcs ...catalog.Source) *Framework {
	t.Helper()
	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 16, QueueSize: 64})
	t.Cleanup(p.Close)

	reg := NewRegistry(zaptest.NewLogger(t))
	for _, s := range srcs {
		require.NoError(t, reg.Register(s))
	}
	if cfg.Federation.MaxStartIndex == 0 {
		cfg.Federation = federation.DefaultConfig()
	}
	fw, err := New(reg, cfg, federation.Options{Pool: p, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return fw
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.FederationConfig{
		Strategy:            "fifo",
		MaxStartIndex:       500,
		CancelOnTimeout:     true,
		LocalSourceID:       "local",
		DefaultTimeout:      3 * time.Second,
		AvailabilityTimeout: time.Second,
	})
	assert.Equal(t, "fifo", cfg.Strategy)
	assert.Equal(t, 500, cfg.Federation.MaxStartIndex)
	assert.True(t, cfg.Federation.CancelOnTimeout)
	assert.Equal(t, "local", cfg.LocalSourceID)
	assert.Equal(t, 3*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, time.Second, cfg.AvailabilityTimeout)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, Config{}, federation.Options{})
	assert.Error(t, err)

	_, err = New(NewRegistry(nil), Config{Strategy: "random"}, federation.Options{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestFramework_QueryNamedSources(t *testing.T) {
	a := mocks.NewMockSource("a").WithResults(fixtures.Results("a", 2)...).WithHits(2)
	b := mocks.NewMockSource("b").WithResults(fixtures.Results("b", 3)...).WithHits(3)
	c := mocks.NewMockSource("c").WithResults(fixtures.Results("c", 1)...)
	fw := newTestFramework(t, Config{}, a, b, c)

	req := catalog.NewQueryRequest(catalog.Query{StartIndex: 1, PageSize: 10})
	req.SourceIDs = []string{"a", "b", "a"}
	resp, err := fw.Query(testutil.TestContext(t), req)
	require.NoError(t, err)

	results := testutil.CollectResults(t, resp)
	assert.Len(t, results, 5)
	assert.Equal(t, int64(5), resp.Hits())
	assert.Equal(t, 1, a.CallCount())
	assert.Equal(t, 0, c.CallCount())
}

func TestFramework_QueryUnknownSource(t *testing.T) {
	fw := newTestFramework(t, Config{}, mocks.NewMockSource("a"))

	req := catalog.NewQueryRequest(catalog.Query{PageSize: 10})
	req.SourceIDs = []string{"nope"}
	_, err := fw.Query(context.Background(), req)
	assert.True(t, types.IsErrorCode(err, types.ErrSourceNotFound))
}

func TestFramework_QueryLocalByDefault(t *testing.T) {
	local := mocks.NewMockSource("local").WithResults(fixtures.Results("local", 2)...)
	other := mocks.NewMockSource("other").WithResults(fixtures.Results("other", 2)...)
	fw := newTestFramework(t, Config{LocalSourceID: "local"}, local, other)

	resp, err := fw.Query(testutil.TestContext(t), catalog.NewQueryRequest(catalog.Query{PageSize: 10}))
	require.NoError(t, err)
	assert.Len(t, testutil.CollectResults(t, resp), 2)
	assert.Equal(t, 1, local.CallCount())
	assert.Equal(t, 0, other.CallCount())
}

func TestFramework_QueryWithoutLocalSource(t *testing.T) {
	fw := newTestFramework(t, Config{LocalSourceID: "local"}, mocks.NewMockSource("a"))

	_, err := fw.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{}))
	assert.True(t, types.IsErrorCode(err, types.ErrNoSources))
}

func TestFramework_QueryEnterprise(t *testing.T) {
	a := mocks.NewMockSource("a").WithResults(fixtures.Results("a", 2)...)
	b := mocks.NewMockSource("b").WithResults(fixtures.Results("b", 2)...)
	fw := newTestFramework(t, Config{Strategy: federation.StrategyFifo}, a, b)

	req := catalog.NewQueryRequest(catalog.Query{PageSize: 10})
	req.Enterprise = true
	resp, err := fw.Query(testutil.TestContext(t), req)
	require.NoError(t, err)
	assert.Len(t, testutil.CollectResults(t, resp), 4)
	assert.Equal(t, federation.StrategyFifo, fw.StrategyName())
}

func TestFramework_QueryEnterpriseEmptyRegistry(t *testing.T) {
	fw := newTestFramework(t, Config{})

	req := catalog.NewQueryRequest(catalog.Query{})
	req.Enterprise = true
	_, err := fw.Query(context.Background(), req)
	assert.True(t, types.IsErrorCode(err, types.ErrNoSources))
}

func TestFramework_QuerySkipsUnavailable(t *testing.T) {
	up := mocks.NewMockSource("up").WithResults(fixtures.Results("up", 2)...)
	down := mocks.NewMockSource("down").WithAvailability(false).WithResults(fixtures.Results("down", 2)...)
	fw := newTestFramework(t, Config{}, up, down)

	req := catalog.NewQueryRequest(catalog.Query{PageSize: 10})
	req.SourceIDs = []string{"up", "down"}
	resp, err := fw.Query(testutil.TestContext(t), req)
	require.NoError(t, err)

	assert.Len(t, testutil.CollectResults(t, resp), 2)
	assert.Equal(t, 0, down.CallCount())

	details := resp.ProcessingDetails()
	require.Len(t, details, 1)
	assert.Equal(t, "down", details[0].SourceID)

	var status *catalog.SiteStatus
	for _, s := range resp.SiteStatuses() {
		if s.SourceID == "down" {
			s := s
			status = &s
		}
	}
	require.NotNil(t, status)
	assert.False(t, status.Successful)
}

func TestFramework_QueryAllUnavailable(t *testing.T) {
	down := mocks.NewMockSource("down").WithAvailability(false)
	fw := newTestFramework(t, Config{}, down)

	req := catalog.NewQueryRequest(catalog.Query{PageSize: 10})
	req.SourceIDs = []string{"down"}
	resp, err := fw.Query(testutil.TestContext(t), req)
	require.NoError(t, err)

	assert.True(t, resp.Closed())
	assert.Zero(t, resp.Len())
	require.Len(t, resp.ProcessingDetails(), 1)
}

func TestFramework_QueryInvalid(t *testing.T) {
	fw := newTestFramework(t, Config{}, mocks.NewMockSource("a"))

	_, err := fw.Query(context.Background(), nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	bad := catalog.NewQueryRequest(catalog.Query{SortBy: &catalog.SortBy{Property: "title", Order: "SIDEWAYS"}})
	_, err = fw.Query(context.Background(), bad)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestFramework_QueryAppliesDefaultTimeout(t *testing.T) {
	a := mocks.NewMockSource("a")
	fw := newTestFramework(t, Config{LocalSourceID: "a", DefaultTimeout: 1500 * time.Millisecond}, a)

	resp, err := fw.Query(testutil.TestContext(t), catalog.NewQueryRequest(catalog.Query{PageSize: 5}))
	require.NoError(t, err)
	testutil.CollectResults(t, resp)

	calls := a.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(1500), calls[0].Query.TimeoutMillis)

	// an explicit timeout wins
	resp, err = fw.Query(testutil.TestContext(t), catalog.NewQueryRequest(catalog.Query{PageSize: 5, TimeoutMillis: 200}))
	require.NoError(t, err)
	testutil.CollectResults(t, resp)
	calls = a.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(200), calls[1].Query.TimeoutMillis)
}

func TestFramework_QueryLocalIgnoresRouting(t *testing.T) {
	local := mocks.NewMockSource("local").WithResults(fixtures.Results("local", 1)...)
	remote := mocks.NewMockSource("remote").WithResults(fixtures.Results("remote", 1)...)
	fw := newTestFramework(t, Config{LocalSourceID: "local"}, local, remote)

	req := catalog.NewQueryRequest(catalog.Query{PageSize: 10})
	req.SourceIDs = []string{"remote"}
	req.Enterprise = true
	resp, err := fw.QueryLocal(testutil.TestContext(t), req)
	require.NoError(t, err)
	testutil.CollectResults(t, resp)

	assert.Equal(t, 1, local.CallCount())
	assert.Equal(t, 0, remote.CallCount())
	assert.Equal(t, []string{"remote"}, req.SourceIDs)
}

func TestFramework_Sources(t *testing.T) {
	up := memory.New("up", memory.WithTitle("Up"))
	down := memory.New("down")
	down.SetAvailable(false)
	fw := newTestFramework(t, Config{}, up, down)

	descs := fw.Sources(testutil.TestContext(t))
	require.Len(t, descs, 2)
	assert.Equal(t, "up", descs[0].ID)
	assert.Equal(t, "Up", descs[0].Title)
	assert.True(t, descs[0].Available)
	assert.False(t, descs[1].Available)

	d, err := fw.Source(testutil.TestContext(t), "down")
	require.NoError(t, err)
	assert.False(t, d.Available)

	_, err = fw.Source(testutil.TestContext(t), "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrSourceNotFound))
}

func TestFramework_IngestAndDelete(t *testing.T) {
	local := memory.New("local")

	var mu sync.Mutex
	var recorded []int
	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 4, QueueSize: 8})
	t.Cleanup(p.Close)
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(local))
	fw, err := New(reg, Config{LocalSourceID: "local"}, federation.Options{Pool: p},
		WithIngestRecorder(func(sourceID string, n int, err error) {
			mu.Lock()
			recorded = append(recorded, n)
			mu.Unlock()
		}))
	require.NoError(t, err)
	ctx := testutil.TestContext(t)

	created, err := fw.Ingest(ctx, []*catalog.Metacard{{Title: "one"}, {ID: "two", Title: "two"}})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NotEmpty(t, created[0].ID)
	assert.Equal(t, "local", created[1].SourceID)
	assert.Equal(t, 2, local.Len())
	assert.Equal(t, []int{2}, recorded)

	resp, err := fw.Query(ctx, catalog.NewQueryRequest(catalog.Query{PageSize: 10}))
	require.NoError(t, err)
	assert.Len(t, testutil.CollectResults(t, resp), 2)

	n, err := fw.Delete(ctx, []string{"two", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, local.Len())
}

func TestFramework_IngestErrors(t *testing.T) {
	fw := newTestFramework(t, Config{LocalSourceID: "ro"}, mocks.NewMockSource("ro"))
	ctx := context.Background()

	_, err := fw.Ingest(ctx, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = fw.Ingest(ctx, []*catalog.Metacard{{Title: "x"}})
	assert.True(t, types.IsErrorCode(err, types.ErrIngestNotSupported))

	_, err = fw.Delete(ctx, []string{"x"})
	assert.True(t, types.IsErrorCode(err, types.ErrIngestNotSupported))

	_, err = fw.Delete(ctx, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	missing := newTestFramework(t, Config{LocalSourceID: "gone"})
	_, err = missing.Ingest(ctx, []*catalog.Metacard{{Title: "x"}})
	assert.True(t, types.IsErrorCode(err, types.ErrSourceNotFound))
}

func TestFramework_Reconfigure(t *testing.T) {
	fw := newTestFramework(t, Config{Strategy: federation.StrategySorted}, mocks.NewMockSource("a"))
	assert.Equal(t, federation.StrategySorted, fw.StrategyName())

	require.NoError(t, fw.Reconfigure(Config{Strategy: federation.StrategyFifo, LocalSourceID: "a"}))
	assert.Equal(t, federation.StrategyFifo, fw.StrategyName())

	err := fw.Reconfigure(Config{Strategy: "bogus"})
	require.Error(t, err)
	assert.Equal(t, federation.StrategyFifo, fw.StrategyName())
}

func TestFramework_QuerySourceFailureIsPartial(t *testing.T) {
	ok := mocks.NewMockSource("ok").WithResults(fixtures.Results("ok", 1)...)
	bad := mocks.NewMockSource("bad").WithError(errors.New("boom"))
	fw := newTestFramework(t, Config{}, ok, bad)

	req := catalog.NewQueryRequest(catalog.Query{PageSize: 10})
	req.SourceIDs = []string{"ok", "bad"}
	resp, err := fw.Query(testutil.TestContext(t), req)
	require.NoError(t, err)

	assert.Len(t, testutil.CollectResults(t, resp), 1)
	require.NotEmpty(t, resp.ProcessingDetails())
	assert.Equal(t, "bad", resp.ProcessingDetails()[0].SourceID)
}

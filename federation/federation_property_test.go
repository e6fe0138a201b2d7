package federation

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/internal/pool"
	"github.com/BaSui01/catalogflow/testutil/mocks"
)

// drawSources builds 1-5 sources with a few results each. Scores come from a
// small set so ties are common.
func drawSources(rt *rapid.T) ([]catalog.Source, []catalog.Result) {
	n := rapid.IntRange(1, 5).Draw(rt, "sources")
	var (
		sources []catalog.Source
		all     []catalog.Result
	)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%d", i)
		count := rapid.IntRange(0, 6).Draw(rt, id+"_count")
		results := make([]catalog.Result, count)
		for j := range results {
			score := rapid.SampledFrom([]float64{0.1, 0.25, 0.5, 0.75, 1}).Draw(rt, fmt.Sprintf("%s_score_%d", id, j))
			results[j] = catalog.Result{
				Metacard:       &catalog.Metacard{ID: fmt.Sprintf("%s-%d", id, j), SourceID: id},
				RelevanceScore: catalog.Float64(score),
			}
		}
		all = append(all, results...)
		sources = append(sources, mocks.NewMockSource(id).WithResults(results...))
	}
	return sources, all
}

func collect(t require.TestingT, resp *catalog.QueryResponse) []catalog.Result {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []catalog.Result
	for {
		r, ok, err := resp.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func propertyStrategy(t *testing.T) *SortedStrategy {
	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 8, QueueSize: 64})
	t.Cleanup(p.Close)
	return NewSortedStrategy(Options{Config: DefaultConfig(), Pool: p})
}

// TestProperty_Sorted_WindowMatchesGlobalSort checks that the sorted strategy
// returns exactly the requested window of the globally sorted result set,
// never more than the page size, with non-increasing relevance.
func TestProperty_Sorted_WindowMatchesGlobalSort(t *testing.T) {
	s := propertyStrategy(t)

	rapid.Check(t, func(rt *rapid.T) {
		sources, all := drawSources(rt)
		offset := rapid.IntRange(1, 12).Draw(rt, "offset")
		pageSize := rapid.IntRange(-1, 10).Draw(rt, "pageSize")

		resp, err := s.Federate(context.Background(), sources, request(offset, pageSize))
		require.NoError(rt, err)
		got := collect(rt, resp)

		expected := slices.Clone(all)
		slices.SortStableFunc(expected, NewComparator(nil))
		if len(sources) > 1 || offset == 1 {
			// A single source applies its own offset; the mock ignores it.
			lo := min(offset-1, len(expected))
			expected = expected[lo:]
		}
		if pageSize > 0 && len(expected) > pageSize {
			expected = expected[:pageSize]
		}

		require.Equal(rt, ids(expected), ids(got))
		if pageSize > 0 {
			require.LessOrEqual(rt, len(got), pageSize)
		}
		for i := 1; i < len(got); i++ {
			require.GreaterOrEqual(rt, *got[i-1].RelevanceScore, *got[i].RelevanceScore)
		}
		require.EqualValues(rt, len(all), resp.Hits())
	})
}

// TestProperty_Sorted_Idempotent checks that identical calls produce identical
// ordering and hit counts.
func TestProperty_Sorted_Idempotent(t *testing.T) {
	s := propertyStrategy(t)

	rapid.Check(t, func(rt *rapid.T) {
		sources, _ := drawSources(rt)
		pageSize := rapid.IntRange(0, 20).Draw(rt, "pageSize")
		offset := rapid.IntRange(1, 5).Draw(rt, "offset")

		first, err := s.Federate(context.Background(), sources, request(offset, pageSize))
		require.NoError(rt, err)
		second, err := s.Federate(context.Background(), sources, request(offset, pageSize))
		require.NoError(rt, err)

		require.Equal(rt, ids(collect(rt, first)), ids(collect(rt, second)))
		require.Equal(rt, first.Hits(), second.Hits())
	})
}

// TestProperty_Fifo_NeverExceedsPageSize checks the FIFO cap and that the
// response always closes.
func TestProperty_Fifo_NeverExceedsPageSize(t *testing.T) {
	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: 8, QueueSize: 64})
	t.Cleanup(p.Close)
	f := NewFifoStrategy(Options{Config: DefaultConfig(), Pool: p})

	rapid.Check(t, func(rt *rapid.T) {
		sources, all := drawSources(rt)
		pageSize := rapid.IntRange(-2, 10).Draw(rt, "pageSize")

		resp, err := f.Federate(context.Background(), sources, request(1, pageSize))
		require.NoError(rt, err)
		got := collect(rt, resp)

		want := len(all)
		if pageSize > 0 {
			want = min(want, pageSize)
		}
		require.Len(rt, got, want)
		require.True(rt, resp.Closed())
	})
}

// Feature: federation, offset/page-size rewriting
func TestProperty_RewriteWindow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("rewritten size never shrinks the page", prop.ForAll(
		func(offset, pageSize, sources int) bool {
			_, size, _ := RewriteWindow(offset, pageSize, sources)
			return size >= pageSize
		},
		gen.IntRange(-5, 100000),
		gen.IntRange(-5, 100000),
		gen.IntRange(0, 20),
	))

	properties.Property("rewrite only when offset > 1 and sources > 1", prop.ForAll(
		func(offset, pageSize, sources int) bool {
			start, size, rewritten := RewriteWindow(offset, pageSize, sources)
			if offset > 1 && sources > 1 {
				return rewritten && start == 1 &&
					(pageSize <= 0 && size == pageSize || pageSize > 0 && size == offset+pageSize-1)
			}
			return !rewritten && start == offset && size == pageSize
		},
		gen.IntRange(0, 50000),
		gen.IntRange(-5, 1000),
		gen.IntRange(0, 20),
	))

	properties.Property("effective offset stays in [1, max]", prop.ForAll(
		func(start, limit int) bool {
			off := EffectiveOffset(start, limit)
			return off >= 1 && off <= limit
		},
		gen.IntRange(-100, 200000),
		gen.IntRange(1, 100000),
	))

	properties.TestingRun(t)
}

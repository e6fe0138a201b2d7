package federation

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/catalogflow/catalog"
)

func TestResolveSortKind(t *testing.T) {
	assert.Equal(t, SortTemporal, ResolveSortKind(catalog.PropertyEffective))
	assert.Equal(t, SortTemporal, ResolveSortKind(catalog.PropertyModified))
	assert.Equal(t, SortDistance, ResolveSortKind(catalog.PropertyDistance))
	assert.Equal(t, SortRelevance, ResolveSortKind(catalog.PropertyRelevance))
	assert.Equal(t, SortRelevance, ResolveSortKind("title"))
	assert.Equal(t, "temporal", SortTemporal.String())
}

func scored(id string, score *float64) catalog.Result {
	return catalog.Result{Metacard: &catalog.Metacard{ID: id}, RelevanceScore: score}
}

func ids(results []catalog.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Metacard.ID
	}
	return out
}

func TestComparator_RelevanceDefaultsToDescending(t *testing.T) {
	results := []catalog.Result{
		scored("low", catalog.Float64(0.1)),
		scored("none", nil),
		scored("high", catalog.Float64(0.9)),
		scored("tie-a", catalog.Float64(0.5)),
		scored("tie-b", catalog.Float64(0.5)),
	}
	slices.SortStableFunc(results, NewComparator(nil))
	assert.Equal(t, []string{"high", "tie-a", "tie-b", "low", "none"}, ids(results))
}

func TestComparator_MissingValuesSortLastAscending(t *testing.T) {
	results := []catalog.Result{
		scored("none", nil),
		scored("high", catalog.Float64(0.9)),
		scored("low", catalog.Float64(0.1)),
	}
	slices.SortStableFunc(results, NewComparator(&catalog.SortBy{Property: "relevance", Order: catalog.Ascending}))
	assert.Equal(t, []string{"low", "high", "none"}, ids(results))
}

func TestComparator_Temporal(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Nanosecond)
	results := []catalog.Result{
		{Metacard: &catalog.Metacard{ID: "old", Effective: &t1}},
		{Metacard: &catalog.Metacard{ID: "none"}},
		{Metacard: &catalog.Metacard{ID: "new", Effective: &t2}},
	}
	slices.SortStableFunc(results, NewComparator(&catalog.SortBy{Property: catalog.PropertyEffective}))
	assert.Equal(t, []string{"new", "old", "none"}, ids(results))

	slices.SortStableFunc(results, NewComparator(&catalog.SortBy{Property: catalog.PropertyEffective, Order: catalog.Ascending}))
	assert.Equal(t, []string{"old", "new", "none"}, ids(results))
}

func TestComparator_Distance(t *testing.T) {
	results := []catalog.Result{
		{Metacard: &catalog.Metacard{ID: "far"}, Distance: catalog.Float64(900)},
		{Metacard: &catalog.Metacard{ID: "none"}},
		{Metacard: &catalog.Metacard{ID: "near"}, Distance: catalog.Float64(10)},
	}
	slices.SortStableFunc(results, NewComparator(&catalog.SortBy{Property: catalog.PropertyDistance, Order: catalog.Ascending}))
	assert.Equal(t, []string{"near", "far", "none"}, ids(results))
}

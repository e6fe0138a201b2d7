package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuery_Window(t *testing.T) {
	q := Query{StartIndex: 0, PageSize: -1, TimeoutMillis: 0}
	assert.Equal(t, 1, q.Offset())
	assert.True(t, q.Unbounded())
	assert.Zero(t, q.Timeout())

	q2 := q.WithWindow(5, 10)
	assert.Equal(t, 5, q2.Offset())
	assert.Equal(t, 0, q.StartIndex, "original must stay untouched")

	assert.Equal(t, 1500*time.Millisecond, Query{TimeoutMillis: 1500}.Timeout())
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, Query{Filter: Any()}.Validate())
	assert.Error(t, Query{Filter: &Filter{Op: "nope"}}.Validate())
	assert.Error(t, Query{SortBy: &SortBy{Property: "x", Order: "SIDEWAYS"}}.Validate())
}

func TestParseSortOrder(t *testing.T) {
	assert.Equal(t, Ascending, ParseSortOrder("asc"))
	assert.Equal(t, Ascending, ParseSortOrder(" Ascending "))
	assert.Equal(t, Descending, ParseSortOrder(""))
	assert.Equal(t, Descending, ParseSortOrder("garbage"))
}

func TestQueryRequest_WithQueryCopies(t *testing.T) {
	req := &QueryRequest{Query: Query{StartIndex: 3}, Properties: map[string]any{"k": 1}}
	c := req.WithQuery(req.Query.WithWindow(1, 9))
	c.Properties["k"] = 2

	assert.Equal(t, 3, req.Query.StartIndex)
	assert.Equal(t, 1, req.Properties["k"])
	assert.Equal(t, 9, c.Query.PageSize)
}

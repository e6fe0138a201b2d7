package catalog

import (
	"strings"
	"time"

	"github.com/BaSui01/catalogflow/types"
)

// SortOrder is the direction of a sort.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// ParseSortOrder 解析排序方向，未指定或无法识别时返回 DESC
func ParseSortOrder(s string) SortOrder {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASC", "ASCENDING":
		return Ascending
	default:
		return Descending
	}
}

// SortBy names the property results are ordered by.
type SortBy struct {
	Property string    `json:"property"`
	Order    SortOrder `json:"order,omitempty"`
}

// Query is an immutable description of what to search for and which window
// of the result set to return. StartIndex is 1-based.
type Query struct {
	Filter        *Filter `json:"filter,omitempty"`
	StartIndex    int     `json:"start_index"`
	PageSize      int     `json:"page_size"`
	SortBy        *SortBy `json:"sort_by,omitempty"`
	TimeoutMillis int64   `json:"timeout_ms,omitempty"`
}

// Offset returns the 1-based start index, treating anything below 1 as 1.
func (q Query) Offset() int {
	if q.StartIndex < 1 {
		return 1
	}
	return q.StartIndex
}

// Unbounded reports whether the page size places no limit on the result count.
func (q Query) Unbounded() bool {
	return q.PageSize <= 0
}

// Timeout returns the query timeout. Zero means no timeout.
func (q Query) Timeout() time.Duration {
	if q.TimeoutMillis < 1 {
		return 0
	}
	return time.Duration(q.TimeoutMillis) * time.Millisecond
}

// WithWindow returns a copy of q with a different start index and page size.
func (q Query) WithWindow(startIndex, pageSize int) Query {
	q.StartIndex = startIndex
	q.PageSize = pageSize
	return q
}

// Validate checks the filter tree and the sort specification.
func (q Query) Validate() error {
	if q.Filter != nil {
		if err := q.Filter.Validate(); err != nil {
			return types.NewInvalidRequestError("invalid filter").WithCause(err)
		}
	}
	if q.SortBy != nil && q.SortBy.Order != "" &&
		q.SortBy.Order != Ascending && q.SortBy.Order != Descending {
		return types.NewInvalidRequestError("invalid sort order: " + string(q.SortBy.Order))
	}
	return nil
}

// QueryRequest wraps a Query with routing information.
type QueryRequest struct {
	Query      Query          `json:"query"`
	SourceIDs  []string       `json:"source_ids,omitempty"`
	Enterprise bool           `json:"enterprise,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`

	// Unavailable lists sources the caller left out because they reported
	// themselves unavailable. Strategies record them on the response before
	// any source is dispatched.
	Unavailable []string `json:"-"`
}

// NewQueryRequest creates a request for q.
func NewQueryRequest(q Query) *QueryRequest {
	return &QueryRequest{Query: q}
}

// WithQuery returns a shallow copy of the request carrying q instead.
func (r *QueryRequest) WithQuery(q Query) *QueryRequest {
	c := *r
	c.Query = q
	if r.Properties != nil {
		c.Properties = make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

package federation

import (
	"math"

	"github.com/BaSui01/catalogflow/catalog"
)

// EffectiveOffset returns the 1-based offset to use for a query, treating
// anything below 1 as 1 and clamping to maxStartIndex.
func EffectiveOffset(startIndex, maxStartIndex int) int {
	if startIndex < 1 {
		startIndex = 1
	}
	if maxStartIndex > 0 && startIndex > maxStartIndex {
		return maxStartIndex
	}
	return startIndex
}

// RewriteWindow computes the window each source is asked for.
//
// Sources cannot share a global offset, so when offset > 1 and more than one
// source is queried every source is asked for [1, offset+pageSize-1] and the
// aggregator trims the merged list afterwards. An unbounded page size stays
// unbounded; an overflowing size saturates at math.MaxInt.
func RewriteWindow(offset, pageSize, sourceCount int) (startIndex, size int, rewritten bool) {
	if offset <= 1 || sourceCount <= 1 {
		return offset, pageSize, false
	}
	if pageSize <= 0 {
		return 1, pageSize, true
	}
	if pageSize > math.MaxInt-offset+1 {
		return 1, math.MaxInt, true
	}
	return 1, offset + pageSize - 1, true
}

// plan is the dispatch plan of one federated call.
type plan struct {
	original  *catalog.QueryRequest
	modified  *catalog.QueryRequest
	sources   []catalog.Source
	offset    int
	pageSize  int
	rewritten bool
}

// modifiedPageSize is the size the merged list is truncated to. Zero or less
// means unbounded.
func (p *plan) modifiedPageSize() int {
	return p.modified.Query.PageSize
}

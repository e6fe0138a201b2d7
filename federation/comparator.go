package federation

import (
	"cmp"

	"github.com/BaSui01/catalogflow/catalog"
)

// SortKind selects how merged results are ordered.
type SortKind int

const (
	SortRelevance SortKind = iota
	SortTemporal
	SortDistance
)

func (k SortKind) String() string {
	switch k {
	case SortTemporal:
		return "temporal"
	case SortDistance:
		return "distance"
	default:
		return "relevance"
	}
}

// ResolveSortKind maps a sort property to its kind. Unknown properties sort
// by relevance.
func ResolveSortKind(property string) SortKind {
	switch property {
	case catalog.PropertyEffective, catalog.PropertyCreated, catalog.PropertyModified:
		return SortTemporal
	case catalog.PropertyDistance:
		return SortDistance
	default:
		return SortRelevance
	}
}

// Comparator orders two results. It is used with a stable sort so equal
// results keep their arrival order.
type Comparator func(a, b catalog.Result) int

// NewComparator builds the comparator for sortBy. A nil sortBy sorts by
// relevance, descending. Results missing the sort value always sort last.
func NewComparator(sortBy *catalog.SortBy) Comparator {
	kind := SortRelevance
	order := catalog.Descending
	property := catalog.PropertyRelevance
	if sortBy != nil {
		kind = ResolveSortKind(sortBy.Property)
		property = sortBy.Property
		if sortBy.Order == catalog.Ascending {
			order = catalog.Ascending
		}
	}

	var compareValues func(a, b catalog.Result) (c int, aok, bok bool)
	switch kind {
	case SortTemporal:
		compareValues = func(a, b catalog.Result) (int, bool, bool) {
			at, bt := a.Metacard.Time(property), b.Metacard.Time(property)
			if at == nil || bt == nil {
				return 0, at != nil, bt != nil
			}
			return at.Compare(*bt), true, true
		}
	case SortDistance:
		compareValues = func(a, b catalog.Result) (int, bool, bool) {
			return comparePtr(a.Distance, b.Distance)
		}
	default:
		compareValues = func(a, b catalog.Result) (int, bool, bool) {
			return comparePtr(a.RelevanceScore, b.RelevanceScore)
		}
	}

	return func(a, b catalog.Result) int {
		c, aok, bok := compareValues(a, b)
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return 1
		case !bok:
			return -1
		}
		if order == catalog.Ascending {
			return c
		}
		return -c
	}
}

func comparePtr(a, b *float64) (int, bool, bool) {
	if a == nil || b == nil {
		return 0, a != nil, b != nil
	}
	return cmp.Compare(*a, *b), true, true
}

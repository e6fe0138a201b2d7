package catalog

import "strings"

// ScoreResult builds the Result for m. Relevance is scored against the text
// terms of f, weighting title hits above hits elsewhere; distance is measured
// from the first dwithin point of f. Scores the filter gives no basis for are
// left nil.
func ScoreResult(m *Metacard, f *Filter) Result {
	res := Result{Metacard: m}

	if terms := f.Terms(); len(terms) > 0 {
		title := strings.ToLower(m.Title)
		var body strings.Builder
		body.WriteString(strings.ToLower(m.Metadata))
		for _, v := range m.Attributes {
			if s, ok := v.(string); ok {
				body.WriteByte(' ')
				body.WriteString(strings.ToLower(s))
			}
		}
		rest := body.String()

		var score float64
		for _, term := range terms {
			if strings.Contains(title, term) {
				score += 1
			}
			if strings.Contains(rest, term) {
				score += 0.5
			}
		}
		res.RelevanceScore = Float64(score / (1.5 * float64(len(terms))))
	}

	if anchor, ok := f.SpatialAnchor(); ok && m.Location != nil {
		res.Distance = Float64(m.Location.DistanceMeters(anchor))
	}
	return res
}

// Window returns the 1-based [startIndex, startIndex+pageSize) slice of
// results. A non-positive pageSize is unbounded.
func Window(results []Result, q Query) []Result {
	start := q.Offset() - 1
	if start >= len(results) {
		return nil
	}
	results = results[start:]
	if !q.Unbounded() && len(results) > q.PageSize {
		results = results[:q.PageSize]
	}
	return results
}

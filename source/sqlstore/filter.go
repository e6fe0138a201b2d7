package sqlstore

import (
	"math"
	"strings"
	"time"

	"github.com/BaSui01/catalogflow/catalog"
)

// columns maps metacard properties to their columns.
var columns = map[string]string{
	catalog.PropertyID:          "id",
	catalog.PropertySourceID:    "source_id",
	catalog.PropertyTitle:       "title",
	catalog.PropertyContentType: "content_type",
	catalog.PropertyMetadata:    "metadata",
	catalog.PropertyCreated:     "created",
	catalog.PropertyModified:    "modified",
	catalog.PropertyEffective:   "effective",
}

var temporalColumns = map[string]bool{"created": true, "modified": true, "effective": true}

var comparisonOps = map[catalog.FilterOp]string{
	catalog.OpEqual:          "=",
	catalog.OpGreater:        ">",
	catalog.OpGreaterOrEqual: ">=",
	catalog.OpLess:           "<",
	catalog.OpLessOrEqual:    "<=",
}

// whereClause is a translated filter. An empty sql means no restriction.
// exact is false when the clause selects a superset of the matches and the
// rows must be re-checked with Filter.Match.
type whereClause struct {
	sql   string
	args  []any
	exact bool
}

func (w whereClause) unrestricted() bool { return w.sql == "" }

func untranslatable() whereClause { return whereClause{exact: false} }

// translate converts f into a SQL where clause.
func translate(f *catalog.Filter) whereClause {
	if f == nil {
		return whereClause{exact: true}
	}
	switch f.Op {
	case catalog.OpAny:
		return whereClause{exact: true}

	case catalog.OpAnd:
		var parts []string
		var args []any
		exact := true
		for _, c := range f.Children {
			w := translate(c)
			exact = exact && w.exact
			if w.unrestricted() {
				continue
			}
			parts = append(parts, "("+w.sql+")")
			args = append(args, w.args...)
		}
		return whereClause{sql: strings.Join(parts, " AND "), args: args, exact: exact}

	case catalog.OpOr:
		var parts []string
		var args []any
		exact := true
		for _, c := range f.Children {
			w := translate(c)
			if w.unrestricted() {
				// One unrestricted branch makes the whole disjunction unrestricted.
				return whereClause{exact: w.exact}
			}
			exact = exact && w.exact
			parts = append(parts, "("+w.sql+")")
			args = append(args, w.args...)
		}
		return whereClause{sql: strings.Join(parts, " OR "), args: args, exact: exact}

	case catalog.OpNot:
		if len(f.Children) != 1 {
			return untranslatable()
		}
		w := translate(f.Children[0])
		if !w.exact || w.unrestricted() {
			return untranslatable()
		}
		// A NULL operand counts as a non-match, so its negation must select the row.
		return whereClause{sql: "CASE WHEN (" + w.sql + ") THEN 0 ELSE 1 END = 1", args: w.args, exact: true}

	case catalog.OpEqual, catalog.OpGreater, catalog.OpGreaterOrEqual, catalog.OpLess, catalog.OpLessOrEqual:
		col, ok := columns[f.Property]
		if !ok {
			return untranslatable()
		}
		value, ok := sqlValue(col, f.Value)
		if !ok {
			return untranslatable()
		}
		return whereClause{sql: present(col) + col + " " + comparisonOps[f.Op] + " ?", args: []any{value}, exact: true}

	case catalog.OpLike:
		pattern, _ := f.Value.(string)
		if strings.ContainsAny(pattern, "%_") {
			return untranslatable()
		}
		like := strings.ToLower(strings.NewReplacer("*", "%", "?", "_").Replace(pattern))
		if f.Property == catalog.PropertyAnyText {
			return whereClause{
				sql:   "LOWER(title) LIKE ? OR LOWER(metadata) LIKE ? OR LOWER(attributes) LIKE ?",
				args:  []any{like, like, "%" + strings.Trim(like, "%") + "%"},
				exact: false,
			}
		}
		col, ok := columns[f.Property]
		if !ok || temporalColumns[col] {
			return untranslatable()
		}
		return whereClause{sql: present(col) + "LOWER(" + col + ") LIKE ?", args: []any{like}, exact: true}

	case catalog.OpDuring:
		col, ok := columns[f.Property]
		if !ok || !temporalColumns[col] {
			return untranslatable()
		}
		var parts []string
		var args []any
		if f.From != nil {
			parts = append(parts, col+" >= ?")
			args = append(args, f.From.UTC())
		}
		if f.To != nil {
			parts = append(parts, col+" <= ?")
			args = append(args, f.To.UTC())
		}
		return whereClause{sql: strings.Join(parts, " AND "), args: args, exact: true}

	case catalog.OpDWithin:
		if f.Point == nil {
			return untranslatable()
		}
		// Bounding box prefilter; the exact great-circle check runs in memory.
		dLat := f.Meters / 111_320
		cos := math.Cos(f.Point.Lat * math.Pi / 180)
		dLon := 180.0
		if cos > 1e-6 {
			dLon = math.Min(180, f.Meters/(111_320*cos))
		}
		if f.Point.Lon-dLon < -180 || f.Point.Lon+dLon > 180 {
			return whereClause{
				sql:   "lat BETWEEN ? AND ?",
				args:  []any{f.Point.Lat - dLat, f.Point.Lat + dLat},
				exact: false,
			}
		}
		return whereClause{
			sql: "lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?",
			args: []any{
				f.Point.Lat - dLat, f.Point.Lat + dLat,
				f.Point.Lon - dLon, f.Point.Lon + dLon,
			},
			exact: false,
		}
	}
	return untranslatable()
}

// present guards text columns, whose empty value means the property is unset.
func present(col string) string {
	if temporalColumns[col] {
		return ""
	}
	return col + " <> '' AND "
}

func sqlValue(col string, v any) (any, bool) {
	if !temporalColumns[col] {
		switch v.(type) {
		case string, float64, int, int64:
			return v, true
		}
		return nil, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, false
		}
		return parsed.UTC(), true
	}
	return nil, false
}

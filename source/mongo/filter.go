package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/catalogflow/catalog"
)

const earthRadiusMeters = 6371008.8

var fields = map[string]string{
	catalog.PropertyID:          "_id",
	catalog.PropertySourceID:    "source_id",
	catalog.PropertyTitle:       "title",
	catalog.PropertyContentType: "content_type",
	catalog.PropertyMetadata:    "metadata",
	catalog.PropertyCreated:     "created",
	catalog.PropertyModified:    "modified",
	catalog.PropertyEffective:   "effective",
}

var temporalFields = map[string]bool{"created": true, "modified": true, "effective": true}

var comparisonOps = map[catalog.FilterOp]string{
	catalog.OpGreater:        "$gt",
	catalog.OpGreaterOrEqual: "$gte",
	catalog.OpLess:           "$lt",
	catalog.OpLessOrEqual:    "$lte",
}

// field returns the document path of a property. Unknown properties live
// under attributes.
func field(property string) string {
	if f, ok := fields[property]; ok {
		return f
	}
	return "attributes." + property
}

// translate converts f into a query document. exact is false when the
// document selects a superset of the matches.
func translate(f *catalog.Filter) (doc bson.D, exact bool) {
	if f == nil {
		return bson.D{}, true
	}
	switch f.Op {
	case catalog.OpAny:
		return bson.D{}, true

	case catalog.OpAnd, catalog.OpOr:
		op := "$and"
		if f.Op == catalog.OpOr {
			op = "$or"
		}
		parts := bson.A{}
		exact = true
		for _, c := range f.Children {
			d, e := translate(c)
			exact = exact && e
			if len(d) == 0 {
				if f.Op == catalog.OpOr {
					return bson.D{}, e
				}
				continue
			}
			parts = append(parts, d)
		}
		if len(parts) == 0 {
			return bson.D{}, exact
		}
		return bson.D{{Key: op, Value: parts}}, exact

	case catalog.OpNot:
		if len(f.Children) != 1 {
			return bson.D{}, false
		}
		d, e := translate(f.Children[0])
		if !e || len(d) == 0 {
			return bson.D{}, false
		}
		return bson.D{{Key: "$nor", Value: bson.A{d}}}, true

	case catalog.OpEqual:
		if f.Property == catalog.PropertyAnyText {
			return bson.D{}, false
		}
		path := field(f.Property)
		v, ok := value(path, f.Value)
		if !ok {
			return bson.D{}, false
		}
		return bson.D{{Key: path, Value: v}}, true

	case catalog.OpGreater, catalog.OpGreaterOrEqual, catalog.OpLess, catalog.OpLessOrEqual:
		path := field(f.Property)
		v, ok := value(path, f.Value)
		if !ok {
			return bson.D{}, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: comparisonOps[f.Op], Value: v}}}}, true

	case catalog.OpLike:
		pattern, _ := f.Value.(string)
		re := bson.Regex{Pattern: catalog.LikeRegexp(pattern), Options: "is"}
		if f.Property == catalog.PropertyAnyText {
			return bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "title", Value: re}},
				bson.D{{Key: "metadata", Value: re}},
			}}}, false
		}
		path := field(f.Property)
		if temporalFields[path] {
			return bson.D{}, false
		}
		return bson.D{{Key: path, Value: re}}, true

	case catalog.OpDuring:
		path := field(f.Property)
		if !temporalFields[path] {
			return bson.D{}, false
		}
		rng := bson.D{}
		if f.From != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: f.From.UTC()})
		}
		if f.To != nil {
			rng = append(rng, bson.E{Key: "$lte", Value: f.To.UTC()})
		}
		return bson.D{{Key: path, Value: rng}}, true

	case catalog.OpDWithin:
		if f.Point == nil {
			return bson.D{}, false
		}
		return bson.D{{Key: "location", Value: bson.D{{Key: "$geoWithin", Value: bson.D{
			{Key: "$centerSphere", Value: bson.A{
				bson.A{f.Point.Lon, f.Point.Lat},
				f.Meters / earthRadiusMeters,
			}},
		}}}}}, true
	}
	return bson.D{}, false
}

func value(path string, v any) (any, bool) {
	if !temporalFields[path] {
		return v, v != nil
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

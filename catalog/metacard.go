package catalog

import (
	"math"
	"time"
)

// Well-known metacard property names.
const (
	PropertyID          = "id"
	PropertySourceID    = "source_id"
	PropertyTitle       = "title"
	PropertyContentType = "content_type"
	PropertyCreated     = "created"
	PropertyModified    = "modified"
	PropertyEffective   = "effective"
	PropertyMetadata    = "metadata"
	PropertyLocation    = "location"
	PropertyAnyText     = "anyText"

	// Result-level properties used for sorting.
	PropertyDistance  = "distance"
	PropertyRelevance = "relevance"
)

// Metacard is a single catalog entry.
type Metacard struct {
	ID          string         `json:"id"`
	SourceID    string         `json:"source_id,omitempty"`
	Title       string         `json:"title,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Created     *time.Time     `json:"created,omitempty"`
	Modified    *time.Time     `json:"modified,omitempty"`
	Effective   *time.Time     `json:"effective,omitempty"`
	Location    *Point         `json:"location,omitempty"`
	Metadata    string         `json:"metadata,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Time returns the named temporal attribute, or nil when absent.
func (m *Metacard) Time(property string) *time.Time {
	if m == nil {
		return nil
	}
	switch property {
	case PropertyCreated:
		return m.Created
	case PropertyModified:
		return m.Modified
	case PropertyEffective:
		return m.Effective
	}
	if v, ok := m.Attributes[property]; ok {
		if t, ok := toTime(v); ok {
			return &t
		}
	}
	return nil
}

// Value resolves a property to its raw value.
func (m *Metacard) Value(property string) (any, bool) {
	if m == nil {
		return nil, false
	}
	switch property {
	case PropertyID:
		return m.ID, m.ID != ""
	case PropertySourceID:
		return m.SourceID, m.SourceID != ""
	case PropertyTitle:
		return m.Title, m.Title != ""
	case PropertyContentType:
		return m.ContentType, m.ContentType != ""
	case PropertyMetadata:
		return m.Metadata, m.Metadata != ""
	case PropertyCreated, PropertyModified, PropertyEffective:
		t := m.Time(property)
		if t == nil {
			return nil, false
		}
		return *t, true
	case PropertyLocation:
		if m.Location == nil {
			return nil, false
		}
		return *m.Location, true
	}
	v, ok := m.Attributes[property]
	return v, ok
}

// Clone returns a copy that shares no maps with m.
func (m *Metacard) Clone() *Metacard {
	if m == nil {
		return nil
	}
	c := *m
	if m.Attributes != nil {
		c.Attributes = make(map[string]any, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	if m.Location != nil {
		p := *m.Location
		c.Location = &p
	}
	return &c
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

const earthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between p and o.
func (p Point) DistanceMeters(o Point) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := o.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (o.Lon - p.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Result is one metacard returned by a source, with the scores the source computed.
// Nil scores mean the source did not compute them.
type Result struct {
	Metacard       *Metacard `json:"metacard"`
	RelevanceScore *float64  `json:"relevance,omitempty"`
	Distance       *float64  `json:"distance,omitempty"`
}

// Float64 returns a pointer to v, for building results.
func Float64(v float64) *float64 { return &v }

// SourceID returns the id of the source that produced the result.
func (r Result) SourceID() string {
	if r.Metacard == nil {
		return ""
	}
	return r.Metacard.SourceID
}

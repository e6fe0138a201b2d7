package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/catalogflow/catalog"
)

// geoPoint is a GeoJSON point. Coordinates are [lon, lat].
type geoPoint struct {
	Type        string     `bson:"type"`
	Coordinates [2]float64 `bson:"coordinates"`
}

// metacardDocument is the stored form of a metacard.
type metacardDocument struct {
	ID          string     `bson:"_id"`
	SourceID    string     `bson:"source_id,omitempty"`
	Title       string     `bson:"title,omitempty"`
	ContentType string     `bson:"content_type,omitempty"`
	Created     *time.Time `bson:"created,omitempty"`
	Modified    *time.Time `bson:"modified,omitempty"`
	Effective   *time.Time `bson:"effective,omitempty"`
	Location    *geoPoint  `bson:"location,omitempty"`
	Metadata    string     `bson:"metadata,omitempty"`
	Attributes  bson.M     `bson:"attributes,omitempty"`
}

func toDocument(m *catalog.Metacard) metacardDocument {
	doc := metacardDocument{
		ID:          m.ID,
		SourceID:    m.SourceID,
		Title:       m.Title,
		ContentType: m.ContentType,
		Created:     m.Created,
		Modified:    m.Modified,
		Effective:   m.Effective,
		Metadata:    m.Metadata,
	}
	if m.Location != nil {
		doc.Location = &geoPoint{Type: "Point", Coordinates: [2]float64{m.Location.Lon, m.Location.Lat}}
	}
	if len(m.Attributes) > 0 {
		doc.Attributes = bson.M{}
		for k, v := range m.Attributes {
			doc.Attributes[k] = v
		}
	}
	return doc
}

func (d metacardDocument) toMetacard() *catalog.Metacard {
	m := &catalog.Metacard{
		ID:          d.ID,
		SourceID:    d.SourceID,
		Title:       d.Title,
		ContentType: d.ContentType,
		Created:     utc(d.Created),
		Modified:    utc(d.Modified),
		Effective:   utc(d.Effective),
		Metadata:    d.Metadata,
	}
	if d.Location != nil {
		m.Location = &catalog.Point{Lat: d.Location.Coordinates[1], Lon: d.Location.Coordinates[0]}
	}
	if len(d.Attributes) > 0 {
		m.Attributes = make(map[string]any, len(d.Attributes))
		for k, v := range d.Attributes {
			m.Attributes[k] = v
		}
	}
	return m
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

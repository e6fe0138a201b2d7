package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/catalogflow/catalog"
)

// MetacardRecord is the row stored in the metacards table.
type MetacardRecord struct {
	ID          string     `gorm:"column:id;primaryKey;size:64"`
	SourceID    string     `gorm:"column:source_id;size:128;index"`
	Title       string     `gorm:"column:title;size:512;index"`
	ContentType string     `gorm:"column:content_type;size:128;index"`
	Created     *time.Time `gorm:"column:created;index"`
	Modified    *time.Time `gorm:"column:modified"`
	Effective   *time.Time `gorm:"column:effective;index"`
	Lat         *float64   `gorm:"column:lat"`
	Lon         *float64   `gorm:"column:lon"`
	Metadata    string     `gorm:"column:metadata;type:text"`
	Attributes  string     `gorm:"column:attributes;type:text"`
}

// TableName 返回表名
func (MetacardRecord) TableName() string { return "metacards" }

func toRecord(m *catalog.Metacard) (MetacardRecord, error) {
	rec := MetacardRecord{
		ID:          m.ID,
		SourceID:    m.SourceID,
		Title:       m.Title,
		ContentType: m.ContentType,
		Created:     utc(m.Created),
		Modified:    utc(m.Modified),
		Effective:   utc(m.Effective),
		Metadata:    m.Metadata,
	}
	if m.Location != nil {
		lat, lon := m.Location.Lat, m.Location.Lon
		rec.Lat, rec.Lon = &lat, &lon
	}
	if len(m.Attributes) > 0 {
		data, err := json.Marshal(m.Attributes)
		if err != nil {
			return rec, err
		}
		rec.Attributes = string(data)
	}
	return rec, nil
}

func (r MetacardRecord) toMetacard() (*catalog.Metacard, error) {
	m := &catalog.Metacard{
		ID:          r.ID,
		SourceID:    r.SourceID,
		Title:       r.Title,
		ContentType: r.ContentType,
		Created:     utc(r.Created),
		Modified:    utc(r.Modified),
		Effective:   utc(r.Effective),
		Metadata:    r.Metadata,
	}
	if r.Lat != nil && r.Lon != nil {
		m.Location = &catalog.Point{Lat: *r.Lat, Lon: *r.Lon}
	}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &m.Attributes); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

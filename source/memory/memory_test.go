package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/types"
)

func seed(t *testing.T, s *Source) {
	t.Helper()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var cards []*catalog.Metacard
	for i, title := range []string{"harbor survey", "river gauge", "harbor crane", "airfield map"} {
		eff := base.Add(time.Duration(i) * time.Hour)
		cards = append(cards, &catalog.Metacard{
			ID:        title,
			Title:     title,
			Effective: &eff,
			Location:  &catalog.Point{Lat: float64(i), Lon: 0},
		})
	}
	_, err := s.Create(context.Background(), cards)
	require.NoError(t, err)
}

func ids(rs []catalog.Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Metacard.ID
	}
	return out
}

func TestSource_QueryFiltersSortsAndWindows(t *testing.T) {
	s := New("local")
	seed(t, s)

	resp, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{
		Filter:     catalog.Like(catalog.PropertyTitle, "harbor*"),
		StartIndex: 1,
		PageSize:   10,
		SortBy:     &catalog.SortBy{Property: catalog.PropertyEffective},
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.Hits)
	assert.Equal(t, []string{"harbor crane", "harbor survey"}, ids(resp.Results))
	for _, r := range resp.Results {
		assert.Equal(t, "local", r.Metacard.SourceID)
		require.NotNil(t, r.RelevanceScore)
	}

	resp, err = s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{StartIndex: 2, PageSize: 2}))
	require.NoError(t, err)
	assert.EqualValues(t, 4, resp.Hits)
	assert.Equal(t, []string{"river gauge", "harbor crane"}, ids(resp.Results))
}

func TestSource_DistanceSort(t *testing.T) {
	s := New("local")
	seed(t, s)

	resp, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{
		Filter: catalog.DWithin(catalog.Point{Lat: 3, Lon: 0}, 250_000),
		SortBy: &catalog.SortBy{Property: catalog.PropertyDistance, Order: catalog.Ascending},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"airfield map", "harbor crane", "river gauge"}, ids(resp.Results))
}

func TestSource_CreateDeleteAndAvailability(t *testing.T) {
	s := New("local", WithTitle("Local"))
	created, err := s.Create(context.Background(), []*catalog.Metacard{{Title: "no id"}, nil})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.NotEmpty(t, created[0].ID)
	assert.NotNil(t, created[0].Created)

	n, err := s.Delete(context.Background(), []string{created[0].ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, s.Len())

	s.SetAvailable(false)
	assert.False(t, s.IsAvailable(context.Background()))
	assert.False(t, s.Describe().Available)
	_, err = s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{}))
	assert.True(t, types.IsErrorCode(err, types.ErrSourceUnavailable))
}

func TestSource_LatencyHonoursContext(t *testing.T) {
	s := New("slow", WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Query(ctx, catalog.NewQueryRequest(catalog.Query{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/types"
)

func newPeer(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := New(Config{ID: "peer", URL: srv.URL + "/", APIKey: "secret"}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func writeEnvelope(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSource_QueryForwardsLocalRequest(t *testing.T) {
	var got catalog.QueryRequest
	s := newPeer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, LocalQueryPath, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data": catalog.SourceResponse{
				Results: []catalog.Result{
					{Metacard: &catalog.Metacard{ID: "a", SourceID: "local"}, RelevanceScore: catalog.Float64(0.5)},
					{Metacard: &catalog.Metacard{ID: "b", SourceID: "local"}},
				},
				Hits: 7,
			},
		})
	})

	ctx := types.WithRequestID(context.Background(), "req-1")
	req := catalog.NewQueryRequest(catalog.Query{
		Filter:     catalog.Like(catalog.PropertyTitle, "harbor*"),
		StartIndex: 1,
		PageSize:   5,
		SortBy:     &catalog.SortBy{Property: catalog.PropertyEffective},
	})
	req.SourceIDs = []string{"peer", "other"}
	req.Enterprise = true

	resp, err := s.Query(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 7, resp.Hits)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, "peer", r.SourceID())
	}
	require.NotNil(t, resp.Results[0].RelevanceScore)
	assert.InDelta(t, 0.5, *resp.Results[0].RelevanceScore, 1e-9)

	assert.Empty(t, got.SourceIDs)
	assert.False(t, got.Enterprise)
	assert.Equal(t, 5, got.Query.PageSize)
	require.NotNil(t, got.Query.Filter)
	assert.Equal(t, catalog.OpLike, got.Query.Filter.Op)
	assert.Equal(t, []string{"peer", "other"}, req.SourceIDs)
}

func TestSource_QueryPropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var traceparent string
	s := newPeer(t, func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": catalog.SourceResponse{}})
	})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	_, err := s.Query(ctx, catalog.NewQueryRequest(catalog.Query{}))
	require.NoError(t, err)
	assert.Equal(t, "00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01", traceparent)
}

func TestSource_QueryErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		code      types.ErrorCode
		retryable bool
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   map[string]any{"success": false, "error": map[string]any{"code": "INVALID_REQUEST", "message": "invalid filter"}},
			code:   types.ErrInvalidRequest,
		},
		{
			name:      "unavailable",
			status:    http.StatusServiceUnavailable,
			body:      map[string]any{"success": false},
			code:      types.ErrSourceUnavailable,
			retryable: true,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      map[string]any{"success": false},
			code:      types.ErrRateLimited,
			retryable: true,
		},
		{
			name:   "unsuccessful envelope",
			status: http.StatusOK,
			body:   map[string]any{"success": false, "error": map[string]any{"message": "boom"}},
			code:   types.ErrSourceQueryFailed,
		},
		{
			name:   "missing data",
			status: http.StatusOK,
			body:   map[string]any{"success": true},
			code:   types.ErrSourceQueryFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newPeer(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.body)
			})
			_, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{}))
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, "peer", e.Source)
		})
	}
}

func TestSource_QueryErrorKeepsValidUTF8(t *testing.T) {
	body := "x" + strings.Repeat("é", 600)
	s := newPeer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})

	_, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{}))
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(e.Message))
	assert.True(t, strings.HasSuffix(e.Message, "é"))
	assert.Less(t, len(e.Message), len(body))
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "abc", truncateMessage("abc", 5))
	assert.Equal(t, "ab", truncateMessage("abé", 3))
	assert.Equal(t, "abé", truncateMessage("abé", 4))
	assert.Equal(t, "a\uFFFDb", truncateMessage("a\xffb", 10))
}

func TestSource_QueryHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	s := newPeer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Query(ctx, catalog.NewQueryRequest(catalog.Query{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSource_PeerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := New(Config{ID: "peer", URL: url}, nil, nil)
	require.NoError(t, err)
	_, err = s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{}))
	assert.True(t, types.IsErrorCode(err, types.ErrSourceUnavailable))
	assert.False(t, s.IsAvailable(context.Background()))
}

func TestSource_IsAvailable(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	s := newPeer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthPath, r.URL.Path)
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	assert.True(t, s.IsAvailable(context.Background()))
	healthy.Store(false)
	assert.False(t, s.IsAvailable(context.Background()))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{URL: "http://x"}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{ID: "x"}, nil, nil)
	assert.Error(t, err)

	s, err := New(Config{ID: "x", URL: "https://peer.example/"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://peer.example", s.cfg.URL)
	assert.Equal(t, DefaultTimeout, s.client.Timeout)
	assert.Equal(t, Kind, s.Describe().Kind)
}

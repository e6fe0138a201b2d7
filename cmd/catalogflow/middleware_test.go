package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// errorCode 解码统一错误响应中的错误码
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.False(t, body.Success)
	return body.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())
	w := serve(handler, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	serve(Chain(okHandler(), mark("a"), mark("b"), mark("c")), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})
	handler := RequestID()(inner)

	t.Run("generated", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get("X-Request-ID")
		assert.Len(t, id, 36)
		assert.Equal(t, id, seen)
	})

	t.Run("preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "client-id")
		w := serve(handler, r)
		assert.Equal(t, "client-id", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "client-id", seen)
	})
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), errorCode(t, w))
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		header     string
		query      string
		allowQuery bool
		wantStatus int
	}{
		{"valid header", "/api/v1/sources", "k1", "", false, http.StatusOK},
		{"second key", "/api/v1/sources", "k2", "", false, http.StatusOK},
		{"missing key", "/api/v1/sources", "", "", false, http.StatusUnauthorized},
		{"wrong key", "/api/v1/sources", "nope", "", false, http.StatusUnauthorized},
		{"skipped path", "/health", "", "", false, http.StatusOK},
		{"query allowed", "/api/v1/query/stream", "", "k1", true, http.StatusOK},
		{"query not allowed", "/api/v1/query/stream", "", "k1", false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKeyAuth([]string{"k1", "k2"}, skipAuthPaths, tt.allowQuery, zap.NewNop())(okHandler())

			target := tt.path
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			w := serve(handler, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, string(types.ErrUnauthorized), errorCode(t, w))
			}
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "catalogflow", Audience: "catalog"}

	var (
		tenant string
		user   string
		roles  []string
	)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, _ = types.TenantID(r.Context())
		user, _ = types.UserID(r.Context())
		roles, _ = types.Roles(r.Context())
	})
	handler := JWTAuth(cfg, skipAuthPaths, zap.NewNop())(inner)

	valid := jwt.MapClaims{
		"iss":       "catalogflow",
		"aud":       "catalog",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"tenant_id": "tenant-a",
		"user_id":   "user-1",
		"roles":     []string{"reader", "ingest"},
	}

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, cfg.Secret, valid))
		w := serve(handler, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "tenant-a", tenant)
		assert.Equal(t, "user-1", user)
		assert.Equal(t, []string{"reader", "ingest"}, roles)
	})

	expired := jwt.MapClaims{"iss": "catalogflow", "aud": "catalog", "exp": time.Now().Add(-time.Minute).Unix()}
	wrongIssuer := jwt.MapClaims{"iss": "other", "aud": "catalog", "exp": time.Now().Add(time.Hour).Unix()}

	rejects := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer not-a-token"},
		{"wrong secret", "Bearer " + signToken(t, "other", valid)},
		{"expired", "Bearer " + signToken(t, cfg.Secret, expired)},
		{"wrong issuer", "Bearer " + signToken(t, cfg.Secret, wrongIssuer)},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := serve(handler, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, string(types.ErrUnauthorized), errorCode(t, w))
		})
	}

	t.Run("skipped path", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestJWTAuth_RejectsOtherAlgorithms(t *testing.T) {
	handler := JWTAuth(config.JWTConfig{Secret: "s3cret"}, nil, zap.NewNop())(okHandler())

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"user_id": "u"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, serve(handler, r).Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 0.001, 2, zap.NewNop())(okHandler())

	request := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		return serve(handler, r)
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, request("10.0.0.1:1001").Code)
	w := request("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(types.ErrRateLimited), errorCode(t, w))

	// 其他 IP 使用独立的令牌桶
	assert.Equal(t, http.StatusOK, request("10.0.0.2:1000").Code)
}

func TestTenantRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := TenantRateLimiter(ctx, 0.001, 1, zap.NewNop())(okHandler())

	request := func(tenant string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1000"
		if tenant != "" {
			r = r.WithContext(types.WithTenantID(r.Context(), tenant))
		}
		return serve(handler, r).Code
	}

	assert.Equal(t, http.StatusOK, request("a"))
	assert.Equal(t, http.StatusTooManyRequests, request("a"))
	assert.Equal(t, http.StatusOK, request("b"))
	// 同一 IP 无租户时按 IP 计数
	assert.Equal(t, http.StatusOK, request(""))
	assert.Equal(t, http.StatusTooManyRequests, request(""))
}

func TestVisitorLimiter_Cleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newVisitorLimiter(ctx, 1, 0)

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.Equal(t, 1, l.size())
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://allowed.example"})(okHandler())

	t.Run("allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/query", nil)
		r.Header.Set("Origin", "https://allowed.example")
		w := serve(handler, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
		r.Header.Set("Origin", "https://allowed.example")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := serve(handler, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/query", nil)
		r.Header.Set("Origin", "https://evil.example")
		w := serve(handler, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
		r.Header.Set("Origin", "https://evil.example")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		assert.Equal(t, http.StatusForbidden, serve(handler, r).Code)
	})

	t.Run("no origins configured", func(t *testing.T) {
		h := CORS(nil)(okHandler())
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Header.Set("Origin", "https://allowed.example")
		w := serve(h, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/query", "/api/v1/query"},
		{"/api/v1/query/stream", "/api/v1/query/stream"},
		{"/api/v1/sources", "/api/v1/sources"},
		{"/api/v1/sources/archive-east", "/api/v1/sources/:id"},
		{"/api/v1/sources/", "/api/v1/sources/"},
		{"/api/v1/metacards/delete", "/api/v1/metacards/delete"},
		{"/api/v1/things/12345", "/api/v1/things/:id"},
		{"/api/v1/things/550e8400-e29b-41d4-a716-446655440000", "/api/v1/things/:id"},
		{"/unknown/path", "/unknown/path"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newStatusWriter(rec)

	w.WriteHeader(http.StatusAccepted)
	w.WriteHeader(http.StatusTeapot)
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusAccepted, w.statusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(5), w.bytesWritten)
	assert.Same(t, rec, w.Unwrap())

	// ResponseRecorder 不支持 Hijack
	_, _, err = w.Hijack()
	assert.Error(t, err)
}

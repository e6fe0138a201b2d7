package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/catalogflow/api/handlers"
	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/internal/metrics"
	"github.com/BaSui01/catalogflow/types"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个中间件位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// =============================================================================
// 响应包装
// =============================================================================

// statusWriter 记录状态码与响应大小。Unwrap 和 Hijack 让 websocket
// 升级可以穿过中间件拿到底层连接。
type statusWriter struct {
	http.ResponseWriter
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker. A hijacked connection is reported as 101.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil && !w.wroteHeader {
		w.statusCode = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// =============================================================================
// Recovery / RequestLogger
// =============================================================================

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					handlers.WriteErrorMessage(w, http.StatusInternalServerError,
						types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newStatusWriter(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id, ok := types.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			logger.Info("request", fields...)
		})
	}
}

// =============================================================================
// MetricsMiddleware
// =============================================================================

// MetricsMiddleware records HTTP request duration, status and sizes via the
// collector. Path labels are normalized to keep series cardinality bounded.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newStatusWriter(w)

			next.ServeHTTP(rw, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			collector.RecordHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				rw.statusCode,
				time.Since(start),
				requestSize,
				rw.bytesWritten,
			)
		})
	}
}

// pathSegmentPattern matches segments that look like generated identifiers:
// UUIDs, long hex strings or numbers.
var pathSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`,
)

// normalizePath maps request paths onto route labels. Source ids are free
// form, so anything below /api/v1/sources/ collapses to ":id".
//
//	/api/v1/sources/archive-east -> /api/v1/sources/:id
//	/api/v1/query/stream         -> /api/v1/query/stream (unchanged)
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics",
		"/api/v1/query", "/api/v1/query/local", "/api/v1/query/stream",
		"/api/v1/sources", "/api/v1/metacards", "/api/v1/metacards/delete",
		"/api/v1/config", "/api/v1/config/reload", "/api/v1/config/changes":
		return path
	}

	if rest, ok := strings.CutPrefix(path, "/api/v1/sources/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/v1/sources/:id"
	}

	segments := strings.Split(path, "/")
	normalized := false
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// OTelTracing
// =============================================================================

// OTelTracing creates a server span for each request using the global tracer
// provider, continuing any trace context carried by the request headers.
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			tracer := otel.Tracer("catalogflow/http")
			ctx, span := tracer.Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if id, ok := types.RequestID(ctx); ok {
				span.SetAttributes(attribute.String("request.id", id))
			}
			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := newStatusWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.statusCode))
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}
		})
	}
}

// =============================================================================
// 认证
// =============================================================================

// APIKeyAuth API Key 认证中间件
// skipPaths 中的路径不需要认证（如 /health, /ready, /version）
func APIKeyAuth(validKeys []string, skipPaths []string, allowQueryAPIKey bool, logger *zap.Logger) Middleware {
	keySet := make(map[string]struct{}, len(validKeys))
	for _, k := range validKeys {
		keySet[k] = struct{}{}
	}
	skipSet := toSet(skipPaths)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if allowQueryAPIKey && key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if _, ok := keySet[key]; !ok || key == "" {
				handlers.WriteErrorMessage(w, http.StatusUnauthorized,
					types.ErrUnauthorized, "invalid or missing API key", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JWTAuth validates HS256 bearer tokens and injects tenant_id, user_id and
// roles claims into the request context. skipPaths are exempt.
func JWTAuth(cfg config.JWTConfig, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := toSet(skipPaths)
	secret := []byte(cfg.Secret)

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(parserOpts...)

	keyFunc := func(token *jwt.Token) (any, error) {
		if len(secret) == 0 {
			return nil, fmt.Errorf("HMAC secret not configured")
		}
		return secret, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenStr == "" {
				handlers.WriteErrorMessage(w, http.StatusUnauthorized,
					types.ErrUnauthorized, "missing or malformed Authorization header", logger)
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc)
			if err != nil || !token.Valid {
				logger.Debug("JWT validation failed", zap.Error(err))
				handlers.WriteErrorMessage(w, http.StatusUnauthorized,
					types.ErrUnauthorized, "invalid or expired token", logger)
				return
			}

			ctx := r.Context()
			if tenantID, ok := claims["tenant_id"].(string); ok && tenantID != "" {
				ctx = types.WithTenantID(ctx, tenantID)
			}
			if userID, ok := claims["user_id"].(string); ok && userID != "" {
				ctx = types.WithUserID(ctx, userID)
			}
			if rolesRaw, ok := claims["roles"].([]any); ok {
				roles := make([]string, 0, len(rolesRaw))
				for _, role := range rolesRaw {
					if s, ok := role.(string); ok {
						roles = append(roles, s)
					}
				}
				if len(roles) > 0 {
					ctx = types.WithRoles(ctx, roles)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// =============================================================================
// 限流
// =============================================================================

// visitorLimiter 按 key 维护令牌桶，过期 key 由后台 goroutine 清理
type visitorLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorTTL 超过该时间未访问的 key 会被清理
const visitorTTL = 3 * time.Minute

func newVisitorLimiter(ctx context.Context, rps float64, burst int) *visitorLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &visitorLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
	go l.cleanup(ctx)
	return l
}

func (l *visitorLimiter) allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

func (l *visitorLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, v := range l.visitors {
				if time.Since(v.lastSeen) > visitorTTL {
					delete(l.visitors, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *visitorLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimiter 基于 IP 的请求限流中间件
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	limiter := newVisitorLimiter(ctx, rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientIP(r)) {
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests,
					types.ErrRateLimited, "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantRateLimiter 按 JWTAuth 注入的 tenant_id 限流，无租户时退回按 IP 限流
func TenantRateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	limiter := newVisitorLimiter(ctx, rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if tenantID, ok := types.TenantID(r.Context()); ok {
				key = "tenant:" + tenantID
			}
			if !limiter.allow(key) {
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests,
					types.ErrRateLimited, "tenant rate limit exceeded", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP 返回请求来源 IP
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// =============================================================================
// CORS / RequestID / SecurityHeaders
// =============================================================================

// CORS 跨域中间件
// allowedOrigins 为空时不设置 CORS 头，浏览器会拒绝跨域请求
func CORS(allowedOrigins []string) Middleware {
	originSet := toSet(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if origin != "" {
				if _, ok := originSet[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, X-Request-ID")
					w.Header().Set("Access-Control-Max-Age", "86400")
					w.Header().Add("Vary", "Origin")
				} else if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			}
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID 并写入 context，客户端提供时沿用
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

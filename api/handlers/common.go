package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/BaSui01/catalogflow/internal/pool"
	"github.com/BaSui01/catalogflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Source     string `json:"source,omitempty"`
	HTTPStatus int    `json:"-"` // 不序列化到 JSON
}

// MaxBodyBytes 普通请求体上限
const MaxBodyBytes = 1 << 20

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应，编码失败时返回 500
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteCreated 写入 201 响应
func WriteCreated(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	errorInfo := &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Message,
		Retryable:  err.Retryable,
		Source:     err.Source,
		HTTPStatus: status,
	}

	// 客户端错误记为 Warn，服务端错误记为 Error
	if logger != nil {
		log := logger.Error
		if status < http.StatusInternalServerError {
			log = logger.Warn
		}
		log("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     errorInfo,
		Timestamp: time.Now(),
	})
}

// WriteErr 写入任意错误，非 types.Error 的错误按超时或内部错误处理
func WriteErr(w http.ResponseWriter, err error, logger *zap.Logger) {
	WriteError(w, ToError(err), logger)
}

// ToError 将任意错误转换为 types.Error
func ToError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewTimeoutError("request timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrTimeout, "request cancelled").
			WithCause(err).
			WithHTTPStatus(http.StatusRequestTimeout)
	default:
		return types.NewInternalError("internal error").WithCause(err)
	}
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	err := types.NewError(code, message).WithHTTPStatus(status)
	WriteError(w, err, logger)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest, types.ErrNoSources:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrSourceNotFound:
		return http.StatusNotFound
	case types.ErrIngestNotSupported:
		return http.StatusNotImplemented
	case types.ErrRateLimited:
		return http.StatusTooManyRequests

	// 5xx 服务端错误
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrServiceUnavailable, types.ErrSourceUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrSourceQueryFailed:
		return http.StatusBadGateway
	case types.ErrInternalError, types.ErrStorageFailed:
		return http.StatusInternalServerError

	// 默认
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（MaxBodyBytes 限制 + 严格模式）
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	return DecodeJSONBodyLimit(w, r, dst, MaxBodyBytes, logger)
}

// DecodeJSONBodyLimit 以指定上限解码 JSON 请求体
func DecodeJSONBodyLimit(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		status := http.StatusBadRequest
		msg := "invalid JSON body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			msg = "request body too large"
		}
		apiErr := types.NewError(types.ErrInvalidRequest, msg).
			WithCause(err).
			WithHTTPStatus(status)
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		err := types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
		WriteError(w, err, logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap 返回底层 ResponseWriter，供 http.ResponseController 与 websocket 升级使用
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

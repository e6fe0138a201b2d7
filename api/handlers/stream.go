package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/api"
	"github.com/BaSui01/catalogflow/types"
)

// =============================================================================
// 📡 流式查询 Handler
// =============================================================================

// StreamConfig 流式查询配置
type StreamConfig struct {
	// OriginPatterns 允许跨域建立连接的 Origin 模式，为空时仅允许同源
	OriginPatterns []string
	// RequestTimeout 等待客户端发送查询请求的超时
	RequestTimeout time.Duration
	// WriteTimeout 单条消息的写超时
	WriteTimeout time.Duration
}

// DefaultStreamConfig 返回默认流式查询配置
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RequestTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// StreamHandler 通过 websocket 推送查询结果：客户端发送一条查询请求，
// 服务端按结果到达顺序逐条推送，最后发送一条汇总消息后关闭连接。
// 写操作只在处理 goroutine 中进行，不需要额外加锁。
type StreamHandler struct {
	catalog Catalog
	cfg     StreamConfig
	logger  *zap.Logger
}

// NewStreamHandler 创建流式查询处理器
func NewStreamHandler(c Catalog, cfg StreamConfig, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultStreamConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &StreamHandler{
		catalog: c,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "stream_handler")),
	}
}

// HandleStream 处理 websocket 流式查询
// @Summary 流式查询
// @Description 建立 websocket 连接后发送一条 api.QueryRequest，服务端逐条推送 api.StreamMessage
// @Tags 查询
// @Success 101 {object} api.StreamMessage "流式消息"
// @Security ApiKeyAuth
// @Router /api/v1/query/stream [get]
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept 已经写入了错误响应
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	status, reason := h.serve(ctx, conn)
	if err := conn.Close(status, reason); err != nil && !isClosed(err) {
		h.logger.Debug("websocket close", zap.Error(err))
	}
}

// serve 执行一次流式查询并返回关闭状态
func (h *StreamHandler) serve(ctx context.Context, conn *websocket.Conn) (websocket.StatusCode, string) {
	readCtx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	var req api.QueryRequest
	err := wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		if isClosed(err) {
			return websocket.StatusNormalClosure, ""
		}
		h.writeError(ctx, conn, types.NewInvalidRequestError("invalid query request").WithCause(err))
		return websocket.StatusPolicyViolation, "invalid query request"
	}

	// 客户端关闭连接时取消查询
	ctx = conn.CloseRead(ctx)

	start := time.Now()
	resp, err := h.catalog.Query(ctx, &req)
	if err != nil {
		h.writeError(ctx, conn, err)
		return websocket.StatusNormalClosure, "query rejected"
	}

	sent := 0
	for {
		res, ok, err := resp.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return websocket.StatusGoingAway, "client gone"
			}
			h.writeError(ctx, conn, err)
			return websocket.StatusInternalError, "stream failed"
		}
		if !ok {
			break
		}
		if err := h.write(ctx, conn, api.StreamMessage{Type: api.StreamResult, Result: &res}); err != nil {
			h.logger.Debug("stream write failed", zap.Error(err), zap.Int("sent", sent))
			return websocket.StatusGoingAway, "write failed"
		}
		sent++
	}

	summary := api.NewQueryResponse(resp, time.Since(start))
	summary.Results = nil
	summary.Returned = sent
	if err := h.write(ctx, conn, api.StreamMessage{Type: api.StreamSummary, Summary: &summary}); err != nil {
		return websocket.StatusGoingAway, "write failed"
	}

	h.logger.Debug("stream completed",
		zap.Int("sent", sent),
		zap.Int64("hits", summary.Hits),
		zap.Duration("elapsed", time.Since(start)),
	)
	return websocket.StatusNormalClosure, "done"
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, msg api.StreamMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}

func (h *StreamHandler) writeError(ctx context.Context, conn *websocket.Conn, err error) {
	e := ToError(err)
	h.logger.Warn("stream query failed", zap.String("code", string(e.Code)), zap.Error(e))
	_ = h.write(ctx, conn, api.StreamMessage{
		Type: api.StreamError,
		Error: &api.ErrorDetail{
			Code:       string(e.Code),
			Message:    e.Message,
			HTTPStatus: e.HTTPStatus,
			Retryable:  e.Retryable,
			Source:     e.Source,
		},
	})
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

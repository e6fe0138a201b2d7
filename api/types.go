package api

import (
	"time"

	"github.com/BaSui01/catalogflow/catalog"
)

// =============================================================================
// 查询类型
// =============================================================================

// QueryRequest 表示联邦查询请求，与 catalog.QueryRequest 的 JSON 形式一致。
// @Description 联邦查询请求结构
type QueryRequest = catalog.QueryRequest

// QueryResponse 表示查询结果。
// 字段名与 catalog.SourceResponse 兼容，远程节点可以直接解码本地查询的响应。
// @Description 查询响应结构
type QueryResponse struct {
	// 按请求窗口返回的结果
	Results []catalog.Result `json:"results"`
	// 所有数据源报告的命中总数
	Hits int64 `json:"hits"`
	// 实际返回的结果数
	Returned int `json:"returned"`
	// 数据源级别的失败与警告
	ProcessingDetails []catalog.ProcessingDetail `json:"processing_details,omitempty"`
	// 每个数据源的执行状态
	SiteStatuses []catalog.SiteStatus `json:"site_statuses,omitempty"`
	// 附加属性，例如参与查询的数据源列表
	Properties map[string]any `json:"properties,omitempty"`
	// 查询耗时（毫秒）
	ElapsedMillis int64 `json:"elapsed_ms"`
}

// NewQueryResponse 将已关闭的 catalog.QueryResponse 转换为 API 响应
func NewQueryResponse(resp *catalog.QueryResponse, elapsed time.Duration) QueryResponse {
	results := resp.Results()
	if results == nil {
		results = []catalog.Result{}
	}
	return QueryResponse{
		Results:           results,
		Hits:              resp.Hits(),
		Returned:          len(results),
		ProcessingDetails: resp.ProcessingDetails(),
		SiteStatuses:      resp.SiteStatuses(),
		Properties:        resp.Properties(),
		ElapsedMillis:     elapsed.Milliseconds(),
	}
}

// =============================================================================
// 流式查询类型
// =============================================================================

// StreamMessageType 流式消息类型
type StreamMessageType string

const (
	// StreamResult 单条结果
	StreamResult StreamMessageType = "result"
	// StreamSummary 结果发送完毕后的汇总，不含结果本身
	StreamSummary StreamMessageType = "summary"
	// StreamError 请求失败
	StreamError StreamMessageType = "error"
)

// StreamMessage 是 websocket 流式查询中服务端发送的一条消息。
// @Description 流式查询消息结构
type StreamMessage struct {
	Type    StreamMessageType `json:"type"`
	Result  *catalog.Result   `json:"result,omitempty"`
	Summary *QueryResponse    `json:"summary,omitempty"`
	Error   *ErrorDetail      `json:"error,omitempty"`
}

// =============================================================================
// 数据源与写入类型
// =============================================================================

// SourceListResponse 表示数据源列表。
// @Description 数据源列表响应
type SourceListResponse struct {
	// 数据源描述
	Sources []catalog.SourceDescriptor `json:"sources"`
}

// IngestRequest 表示写入本地数据源的请求。
// @Description Metacard 写入请求
type IngestRequest struct {
	// 待写入的 Metacard，未指定 id 时自动生成
	Metacards []*catalog.Metacard `json:"metacards" binding:"required"`
}

// IngestResponse 表示写入结果。
// @Description Metacard 写入响应
type IngestResponse struct {
	// 写入后的 Metacard
	Metacards []*catalog.Metacard `json:"metacards"`
	// 写入数量
	Count int `json:"count" example:"1"`
}

// DeleteRequest 表示删除请求。
// @Description Metacard 删除请求
type DeleteRequest struct {
	// 待删除的 Metacard id
	IDs []string `json:"ids" binding:"required"`
}

// DeleteResponse 表示删除结果。
// @Description Metacard 删除响应
type DeleteResponse struct {
	// 实际删除的数量
	Deleted int `json:"deleted" example:"1"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorResponse表示错误响应。
// @Description 错误响应结构
type ErrorResponse struct {
	// 错误详情
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"INVALID_REQUEST"`
	// 人类可读的错误消息
	Message string `json:"message" example:"Invalid request parameters"`
	// HTTP 状态码
	HTTPStatus int `json:"http_status,omitempty" example:"400"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty" example:"false"`
	// 返回错误的数据源
	Source string `json:"source,omitempty" example:"remote-1"`
}

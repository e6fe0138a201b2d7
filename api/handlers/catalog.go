package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/api"
	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/types"
)

// =============================================================================
// 🔎 目录查询 Handler
// =============================================================================

// maxIngestBytes 写入请求体上限
const maxIngestBytes = 16 << 20

// Catalog 是处理器依赖的目录框架能力
type Catalog interface {
	Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.QueryResponse, error)
	QueryLocal(ctx context.Context, req *catalog.QueryRequest) (*catalog.QueryResponse, error)
	Sources(ctx context.Context) []catalog.SourceDescriptor
	Source(ctx context.Context, id string) (catalog.SourceDescriptor, error)
	Ingest(ctx context.Context, cards []*catalog.Metacard) ([]*catalog.Metacard, error)
	Delete(ctx context.Context, ids []string) (int, error)
}

// CatalogHandler 目录查询、数据源与写入接口处理器
type CatalogHandler struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewCatalogHandler 创建目录处理器
func NewCatalogHandler(c Catalog, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{
		catalog: c,
		logger:  logger.With(zap.String("component", "catalog_handler")),
	}
}

// HandleQuery 处理联邦查询请求
// @Summary 联邦查询
// @Description 按请求中的数据源列表、企业查询标记或本地数据源执行联邦查询
// @Tags 查询
// @Accept json
// @Produce json
// @Param request body api.QueryRequest true "查询请求"
// @Success 200 {object} api.QueryResponse "查询结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "数据源不存在"
// @Security ApiKeyAuth
// @Router /api/v1/query [post]
func (h *CatalogHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, h.catalog.Query)
}

// HandleLocalQuery 处理仅本地数据源的查询，远程节点通过它访问本节点
// @Summary 本地查询
// @Tags 查询
// @Accept json
// @Produce json
// @Param request body api.QueryRequest true "查询请求"
// @Success 200 {object} api.QueryResponse "查询结果"
// @Security ApiKeyAuth
// @Router /api/v1/query/local [post]
func (h *CatalogHandler) HandleLocalQuery(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, h.catalog.QueryLocal)
}

type queryFunc func(ctx context.Context, req *catalog.QueryRequest) (*catalog.QueryResponse, error)

func (h *CatalogHandler) query(w http.ResponseWriter, r *http.Request, run queryFunc) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.QueryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	start := time.Now()
	resp, err := run(r.Context(), &req)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	if err := resp.Wait(r.Context()); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	out := api.NewQueryResponse(resp, time.Since(start))

	h.logger.Debug("query completed",
		zap.Int("returned", out.Returned),
		zap.Int64("hits", out.Hits),
		zap.Int("processing_details", len(out.ProcessingDetails)),
		zap.Duration("elapsed", time.Since(start)),
	)
	WriteSuccess(w, out)
}

// HandleListSources 返回全部数据源及其可用性
// @Summary 数据源列表
// @Tags 数据源
// @Produce json
// @Success 200 {object} api.SourceListResponse "数据源列表"
// @Security ApiKeyAuth
// @Router /api/v1/sources [get]
func (h *CatalogHandler) HandleListSources(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.SourceListResponse{Sources: h.catalog.Sources(r.Context())})
}

// HandleGetSource 返回单个数据源
// @Summary 数据源详情
// @Tags 数据源
// @Produce json
// @Param id path string true "数据源 ID"
// @Success 200 {object} catalog.SourceDescriptor "数据源"
// @Failure 404 {object} Response "数据源不存在"
// @Security ApiKeyAuth
// @Router /api/v1/sources/{id} [get]
func (h *CatalogHandler) HandleGetSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewInvalidRequestError("source id is required"), h.logger)
		return
	}
	desc, err := h.catalog.Source(r.Context(), id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, desc)
}

// HandleIngest 将 Metacard 写入本地数据源
// @Summary 写入 Metacard
// @Tags Metacard
// @Accept json
// @Produce json
// @Param request body api.IngestRequest true "写入请求"
// @Success 201 {object} api.IngestResponse "写入结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 501 {object} Response "本地数据源不支持写入"
// @Security ApiKeyAuth
// @Router /api/v1/metacards [post]
func (h *CatalogHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.IngestRequest
	if err := DecodeJSONBodyLimit(w, r, &req, maxIngestBytes, h.logger); err != nil {
		return
	}
	for i, mc := range req.Metacards {
		if mc == nil {
			WriteError(w, types.NewInvalidRequestError(fmt.Sprintf("metacard %d is null", i)), h.logger)
			return
		}
	}

	created, err := h.catalog.Ingest(r.Context(), req.Metacards)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteCreated(w, api.IngestResponse{Metacards: created, Count: len(created)})
}

// HandleDelete 从本地数据源删除 Metacard
// @Summary 删除 Metacard
// @Tags Metacard
// @Accept json
// @Produce json
// @Param request body api.DeleteRequest true "删除请求"
// @Success 200 {object} api.DeleteResponse "删除结果"
// @Security ApiKeyAuth
// @Router /api/v1/metacards/delete [post]
func (h *CatalogHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.DeleteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	n, err := h.catalog.Delete(r.Context(), req.IDs)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.DeleteResponse{Deleted: n})
}

package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/types"
)

// =============================================================================
// ⚙️ 配置管理 Handler
// =============================================================================

// ConfigManager 是配置处理器依赖的热重载能力
type ConfigManager interface {
	Current() *config.Config
	Reload(source string) ([]config.ConfigChange, error)
	Changes() []config.ConfigChange
	History() []config.ConfigSnapshot
	Version() int
}

// ConfigHandler 配置查询与热重载处理器
type ConfigHandler struct {
	manager ConfigManager
	logger  *zap.Logger
}

// ConfigData 配置接口响应数据
type ConfigData struct {
	Version         int                     `json:"version"`
	Message         string                  `json:"message,omitempty"`
	Config          *config.Config          `json:"config,omitempty"`
	Changes         []config.ConfigChange   `json:"changes,omitempty"`
	History         []config.ConfigSnapshot `json:"history,omitempty"`
	RequiresRestart bool                    `json:"requires_restart,omitempty"`
}

// NewConfigHandler 创建配置处理器
func NewConfigHandler(manager ConfigManager, logger *zap.Logger) *ConfigHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigHandler{
		manager: manager,
		logger:  logger.With(zap.String("component", "config_handler")),
	}
}

// HandleGetConfig 返回当前配置（敏感字段已脱敏）
// @Summary 获取当前配置
// @Tags 配置
// @Produce json
// @Success 200 {object} ConfigData "当前配置"
// @Security ApiKeyAuth
// @Router /api/v1/config [get]
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, ConfigData{
		Version: h.manager.Version(),
		Config:  h.manager.Current().Redacted(),
	})
}

// HandleReload 从配置文件重新加载配置
// @Summary 热重载配置
// @Description 重新读取配置文件，校验通过后替换数据源列表与联邦参数
// @Tags 配置
// @Produce json
// @Success 200 {object} ConfigData "重载结果"
// @Failure 400 {object} Response "配置无效"
// @Security ApiKeyAuth
// @Router /api/v1/config/reload [post]
func (h *ConfigHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	changes, err := h.manager.Reload("api")
	if err != nil {
		WriteError(w, types.NewInvalidRequestError("failed to reload configuration").WithCause(err), h.logger)
		return
	}

	data := ConfigData{
		Version: h.manager.Version(),
		Changes: redactChanges(changes),
		Message: "configuration unchanged",
	}
	if len(changes) > 0 {
		data.Message = "configuration reloaded"
	}
	for _, c := range changes {
		data.RequiresRestart = data.RequiresRestart || c.RequiresRestart
	}
	WriteSuccess(w, data)
}

// HandleChanges 返回最近的配置变更
// @Summary 配置变更历史
// @Tags 配置
// @Produce json
// @Param limit query int false "返回的最大变更数量" default(50)
// @Success 200 {object} ConfigData "配置变更"
// @Security ApiKeyAuth
// @Router /api/v1/config/changes [get]
func (h *ConfigHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	changes := h.manager.Changes()
	if len(changes) > limit {
		changes = changes[len(changes)-limit:]
	}
	WriteSuccess(w, ConfigData{
		Version: h.manager.Version(),
		Changes: redactChanges(changes),
		History: h.manager.History(),
	})
}

func redactChanges(changes []config.ConfigChange) []config.ConfigChange {
	out := make([]config.ConfigChange, len(changes))
	for i, c := range changes {
		if config.IsSensitive(c.Path) {
			c.OldValue, c.NewValue = nil, nil
		}
		out[i] = c
	}
	return out
}


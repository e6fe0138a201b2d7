/*
Package handlers 提供 catalogflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了联邦查询、本地查询、websocket 流式查询、数据源列表、
Metacard 写入、配置热重载以及健康检查的请求处理逻辑，
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - CatalogHandler：联邦查询、本地查询、数据源与 Metacard 写入
  - StreamHandler：websocket 流式查询，结果逐条推送后发送汇总
  - ConfigHandler：脱敏配置查询、热重载与变更历史
  - HealthHandler：服务健康检查（/health, /healthz, /ready）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码
  - HealthCheck：可插拔健康检查接口（数据库、Redis、本地数据源）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 本地查询响应与 catalog.SourceResponse 字段兼容，供远程数据源直接解码
*/
package handlers

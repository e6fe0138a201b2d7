/*
Package main 提供 CatalogFlow 服务端程序入口。

# 概述

cmd/catalogflow 是联邦目录查询服务的可执行入口，提供 HTTP API、
WebSocket 流式查询、数据库迁移、健康检查和版本查询等子命令。程序支持
YAML 配置文件加载、结构化日志（zap）、Prometheus 指标、OpenTelemetry
追踪以及配置热重载。

# 核心类型

  - Server：主服务器，持有数据源注册表、联邦框架及 HTTP、Metrics 双端口
  - ServerOption：可选依赖：日志级别、遥测、独立 Prometheus registry
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusWriter：包装 http.ResponseWriter 捕获状态码，支持 websocket 升级

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    Metrics、OTelTracing、CORS、APIKeyAuth、JWTAuth、按 IP 或租户限流
  - 配置热重载：数据源集合按差异重建，联邦策略与日志级别即时生效
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：停止热更新 → 关闭 HTTP → 关闭 Metrics → 释放数据源、
    工作池、缓存、数据库 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

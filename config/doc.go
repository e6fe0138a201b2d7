// Package config 提供 CatalogFlow 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、校验、文件监听与热重载。
// 数据源列表、联邦策略与日志级别可在运行时重载，其余字段变更需要重启。
package config

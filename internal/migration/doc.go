/*
包 migration 管理元数据卡片（metacards）表的 Schema 迁移，支持
PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，与 SQL 目录源的 GORM
模型保持同一表结构。生产环境推荐用迁移命令建表，再关闭目录源的
AutoMigrate。

# 核心类型

  - Migrator：迁移器接口，Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - DefaultMigrator：基于 golang-migrate 的默认实现。上下文取消时
    通过 GracefulStop 在两次迁移之间停止，进度日志写入 zap。
  - Config：数据库类型、连接 URL、可选驱动名、迁移表名与锁超时。
  - CLI：catalogflow migrate 子命令的终端输出层，Run 负责分发。

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig 从应用配置
创建迁移器，NewMigratorFromURL 直接使用连接 URL。
*/
package migration

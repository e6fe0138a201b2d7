/*
包 database 提供基于 GORM 的数据库连接池管理，供 SQL 目录源与
迁移命令共享同一套连接配置。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql、
纯 Go 的 sqlite 或 cgo 的 sqlite3），打开 GORM 实例并交给
PoolManager 管理。PoolManager 统一管理连接生命周期、空闲回收与
最大连接数限制，后台健康检查定时探活，异常时通过 zap 日志输出。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，PoolConfigFrom 从数据库配置派生。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁、
序列化失败、锁超时与连接中断做指数退避重试。SQL 目录源的
批量写入通过它提交。
*/
package database

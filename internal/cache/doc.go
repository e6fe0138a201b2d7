/*
包 cache 提供基于 Redis 的缓存管理能力，供联邦查询结果缓存使用。

# 概述

本包封装 go-redis 客户端，为上层提供统一的缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭，
支持可选 TLS 连接。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/Exists 基础操作、
    GetJSON/SetJSON 序列化方法，以及按前缀批量失效的 DeletePrefix。
  - Config：缓存配置，包含地址、键前缀、连接池大小、默认 TTL、
    TLS 开关与健康检查间隔。
  - Stats：命中、未命中、命中率与键数量。

# 错误语义

未命中返回 ErrCacheMiss，可用 IsCacheMiss 判断；关闭后的调用返回 ErrClosed。
*/
package cache

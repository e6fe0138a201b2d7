/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、联邦查询、
数据源与摄取四个维度。

# 概述

Collector 通过 promauto 注册到指定 Registerer，并实现
federation.Observer：联邦调度器每完成一个数据源和一次联邦查询
都会回调它。工作池、缓存与数据库连接等运行时状态通过
ObserveGauge / ObserveCounter 注册为按需采样的指标。

# 主要指标

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx..5xx。
  - 联邦查询：按策略统计查询数（complete/partial）、耗时、返回数、
    扇出源数与总命中数。
  - 数据源：按源统计查询数（success/error/timeout）、耗时与命中数。
  - 摄取：按源统计写入的 Metacard 数量。
*/
package metrics

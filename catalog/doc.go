/*
Package catalog 定义联邦目录的核心数据模型。

# 概述

catalog 不依赖任何上层包，为 federation、framework、source 与 api 提供统一契约：

  - Metacard / Result：目录条目及其查询结果（相关度、距离）
  - Query / QueryRequest：不可变的查询描述（过滤条件、起始位置、页大小、排序、超时）
  - Filter：可序列化的过滤表达式树，带内存求值器
  - Source：可查询的数据源能力（联邦的外部协作者）
  - QueryResponse：增量写入、一次性关闭的聚合响应，支持阻塞式流式读取

起始位置从 1 开始；PageSize <= 0 表示不限量；超时 < 1ms 表示不设超时。
*/
package catalog

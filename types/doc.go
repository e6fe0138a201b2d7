/*
Package types 提供 catalogflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 catalog、federation、
framework、api 等上层模块提供统一的错误码与 Context 传播工具。

# 主要能力

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Source 标记
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewNoSourcesError / NewSourceNotFoundError / NewTimeoutError
  - Context 传播：WithTraceID / WithRequestID / WithTenantID / WithUserID / WithRoles
*/
package types

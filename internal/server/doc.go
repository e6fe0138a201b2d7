/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，catalogflow 的 API
端口与 metrics 端口各由一个 Manager 承载。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供
    Start/StartTLS/Shutdown/WaitForShutdown 等生命周期方法。
  - Config：监听地址、读写与空闲超时、最大请求头、优雅关闭超时与
    最大并发连接数。ConfigFrom 从 config.ServerConfig 派生。

# 主要能力

  - 连接上限：MaxConns > 0 时监听器由 netutil.LimitListener 包装。
  - TLS：StartTLS 使用 tlsutil 的加固配置（TLS 1.2+，仅 AEAD）。
  - 优雅关闭：Shutdown 在超时内排空请求，重复调用为空操作。
  - 错误传播：Errors() 返回异步错误通道，供调用方监控服务异常。
*/
package server

// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package server 提供 imageflow HTTP 服务器的生命周期管理：非阻塞启动、
优雅关闭与系统信号监听。

# 核心类型

  - Manager：具名 HTTP 服务器（"api" 或 "metrics"），持有 http.Server、
    net.Listener 与异步错误通道。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时。
    同步生成接口要求 WriteTimeout 覆盖整个生成截止时间，默认 330s。

# 主要能力

  - Start 在后台 goroutine 中运行服务，ListenAddr 返回实际端口（支持 ":0"）。
  - Shutdown 在配置的超时内排空请求，重复调用无副作用。
  - WaitForShutdown 监听 SIGINT/SIGTERM、上下文取消或任一服务器异常，
    然后依次关闭传入的全部服务器。
*/
package server

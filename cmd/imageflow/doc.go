// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 imageflow 程序入口。

# 概述

cmd/imageflow 是图像生成编排服务的可执行入口，提供 HTTP API 服务、
命令行单次生成、ComfyUI 工作流模板管理、健康检查和版本查询等子命令。
配置按 默认值 → YAML → .env → 环境变量 的顺序加载，日志使用 zap，
指标通过 Prometheus 暴露，链路追踪使用 OpenTelemetry。

# 核心类型

  - App        ：模板库、后端、许可控制器与编排器的装配结果
  - Server     ：主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware ：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、generate、workflow、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、MetricsMiddleware、RateLimiter（基于 IP）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭 Telemetry
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

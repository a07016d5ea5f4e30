// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 imageflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了图像生成、工作流模板管理与健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 的 method + path 模式注册。

# 核心类型

  - GenerateHandler  ：图像生成（base64 返回、本地保存路径、警告）与后端状态
  - WorkflowHandler  ：模板列表、查看、导入、修改、调整尺寸、删除，以及 ComfyUI 检查点
  - HealthHandler    ：服务健康检查（/health, /healthz, /ready）
  - Response         ：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        ：结构化错误信息，含 code、category、hint、retryable
  - ResponseWriter   ：包装 http.ResponseWriter 以捕获状态码

# 错误映射

响应状态码只由 types.ErrorCode 决定：VALIDATION_ERROR → 400，
NOT_FOUND → 404，NODE_ERROR → 422，NOT_CONFIGURED/NOT_AVAILABLE → 503，
UPSTREAM_REJECTED/NETWORK_ERROR → 502，TIMEOUT → 504。
后端返回的状态码放在 error.upstream_status 中。
*/
package handlers

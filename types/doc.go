// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 imageflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、image、
generation、api 等上层模块提供统一的错误契约与 context 传播工具。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含上游 HTTP 状态码、Endpoint、
    Provider 标记，以及由编排层填充的 Category / Hint 用户指引
  - NOT_CONFIGURED / NOT_AVAILABLE：后端选择失败
  - VALIDATION_ERROR / NOT_FOUND：模板与请求错误
  - UPSTREAM_REJECTED / NODE_ERROR / TIMEOUT / NETWORK_ERROR：后端失败
  - PERSISTENCE_WARNING：本地保存失败，仅作为警告

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsErrorCode / IsRetryable
  - Context 传播：WithRequestID / WithProvider
*/
package types

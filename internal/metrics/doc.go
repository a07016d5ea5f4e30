// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、图像生成、准入控制与模板操作四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，同时实现 admission.Observer。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 生成指标：按 provider/status/category 统计生成次数、耗时、警告数，
    以及后端调用与轮询次数。
  - 准入指标：许可等待时间 Histogram 与占用数 Gauge，按 pool 分组。
  - 模板指标：list/view/import/modify/resize/delete 操作计数。
*/
package metrics

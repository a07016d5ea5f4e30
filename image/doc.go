// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 image 提供三个图像生成后端适配器，对上层暴露统一的 Provider 接口。

# 概述

每个适配器把一次 Request 转换为对应后端的 HTTP 调用序列，并返回
图像字节、MIME 类型与可选的警告。上游的原始失败会带上端点、状态码
与服务商信息包装为 types.Error，供编排层进一步分类。

# 适配器

  - PlatformProvider：托管平台。提交任务得到 generationId，按固定间隔
    轮询状态直至 completed 或 failed，整体截止时间默认 300 秒，完成后
    下载 imageUrl 指向的图像。
  - OpenAIProvider：OpenAI 兼容接口，单次同步调用。携带参考图时先并发
    下载参考图，再以 multipart 调用 /v1/images/edits。
  - ComfyUIProvider：本地 ComfyUI。深拷贝已保存的模板，识别节点角色，
    注入提示词与参考图，提交后每 2 秒轮询 /history 直至完成，再通过
    /view 获取首个输出图像。存储的模板永远不会被修改。

# 进度与超时

轮询型适配器在等待期间按 ProgressInterval 节流调用 ProgressFunc，
回调在独立 goroutine 中执行，其错误与 panic 只记录日志。超过截止
时间只产生一个 TIMEOUT 错误。
*/
package image

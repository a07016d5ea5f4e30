// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package generation 编排一次图像生成：选择后端、申请准入许可、调用适配器、
对失败进行分类并在本地保存结果。

# 后端选择

请求显式指定的后端优先；否则使用配置的默认后端；再否则按 platform、
openai、comfyui 的顺序选择第一个可用者。没有任何可用后端时返回
NOT_CONFIGURED，显式指定的后端不可用时返回 NOT_AVAILABLE。ComfyUI
仅在至少保存了一个工作流时视为可用。

# 准入

platform 与 openai 共享 remote 池（默认 4），comfyui 使用 local 池
（默认 1）。许可通过 admission.Controller.Do 获取与释放，任何退出
路径都会释放。

# 错误分类

Classify 按有序规则表对错误文本做子串匹配，首个命中的规则给出
Category 与 Hint。分类是尽力而为的，上游措辞变化时可能误判。

# 本地保存

成功的图像写入 <OutputDir>/<YYYY-MM-DD>_<8 位十六进制>.<ext>。
保存失败只作为结果上的警告，不影响生成成功。
*/
package generation

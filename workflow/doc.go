// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供 ComfyUI API 格式工作流模板的模型、存储与分析。

# 概述

模板是一个以节点 ID 为键的 JSON 对象，每个节点包含 class_type、inputs
以及可选的 _meta。节点与输入的顺序即文档顺序，解析与保存全程保持不变。
输入值在解析时一次性区分为字面量（Literal）或边引用（Edge，即
[源节点 ID, 输出槽位]），调用方无需再按形状自行判断。

# 核心接口与类型

  - Graph / Node / Value：有序图模型与输入值标签联合
  - NodeMap / Detect：启发式节点角色识别（采样器、正负提示词、
    参考图加载、Checkpoint、Latent 尺寸、输出节点），永不失败
  - Summary / Summarize：模板主要参数摘要
  - Store / FileStore：每个模板一个 <name>.json，原子写入
  - Catalog：列表、查看、导入、修改、调整尺寸、删除

# 主要能力

  - 检测规则按固定顺序执行，先匹配者优先
  - Describe 输出可编辑参数文本，标记生成时自动注入的节点
  - CalculateSize 按宽高比重排尺寸，保持像素总数并对齐到 8 的倍数
*/
package workflow

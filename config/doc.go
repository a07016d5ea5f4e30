// Package config 提供 imageflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → .env 文件 → 环境变量 的顺序叠加，
// 环境变量统一使用 IMAGEFLOW_ 前缀，例如 IMAGEFLOW_PLATFORM_API_KEY、
// IMAGEFLOW_COMFYUI_URL、IMAGEFLOW_GENERATION_OUTPUT_DIR。
// Validate 基于 validator 结构体标签做字段校验。
package config

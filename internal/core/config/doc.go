// Package config 解析并校验宿主应用下发的工作节点配置
//
// 宿主应用以 JSON 字符串提供配置，CLI 运行器可从 JSON 或 YAML 文件读取。
// 所有错误均为 types.KindConfig 类别，不重试。
package config

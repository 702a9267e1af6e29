// Package types 定义 proxy worker 的公共数据结构
//
// 这是最底层的包，不依赖任何内部包。所有类型都是值类型，
// 用于在各模块间以及 ABI 门面上传递数据。
//
// # 文件组织
//
//   - config.go  - WorkerConfig 宿主下发的隧道配置
//   - enums.go   - NATType, TunnelMode, WorkerState
//   - errors.go  - ErrorKind, WorkerError 错误分类与响应码
//   - session.go - TunnelSession 会话快照
//   - status.go  - WorkerStatus 状态快照
package types

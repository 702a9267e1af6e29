// Package metrics 提供工作节点的 Prometheus 指标
//
// 所有指标注册在私有 Registry 上，不污染全局 DefaultRegisterer：
//   - proxyworker_state{state}: 当前状态为 1，其余为 0
//   - proxyworker_relay_connections: 活跃中继连接数
//   - proxyworker_relay_bytes_total{direction}: 中继流量（in: 隧道 -> 本地，out: 本地 -> 隧道）
//   - proxyworker_relay_bytes_rate{direction}: 最近 60 秒平均速率
//   - proxyworker_negotiations_total{result}: 协商结果
//   - proxyworker_sessions_total{mode}: 建立的隧道会话
//   - proxyworker_reconnects_total: 重连成功次数
//
// *Metrics 的所有方法在 nil 接收者上为空操作，禁用指标时直接传 nil。
//
// # 使用
//
//	m := metrics.New(metrics.DefaultConfig())
//	http.Handle("/metrics", m.Handler())
//
// Metrics 实现 relay.Observer，可直接传给 relay.Listen。
package metrics

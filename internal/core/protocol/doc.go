// Package protocol 定义工作节点与代理服务器之间的隧道协议
//
// # 控制流
//
// 工作节点在 yamux 会话上打开的第一条流为控制流，承载以换行分隔的 JSON 消息：
//
//	register       -> 注册 {sn, token, tunnel_id, mode, nat_type}
//	register_ack   <- 注册结果 {ok, session_id, status, reason, heartbeat_ms}
//	heartbeat      -> 心跳 {seq, ts}
//	heartbeat_ack  <- 心跳响应 {seq, ts}
//
// # 中继流
//
// 每个本地连接对应一条中继流。流开头为一行 JSON 头 {conn_id, resume}，
// 之后双向传输帧：
//
//	[uvarint seq][uvarint len][payload]
//
// seq 来自会话级序列号计数器，新会话从 0 开始，单调递增。
package protocol

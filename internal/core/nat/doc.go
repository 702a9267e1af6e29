// Package nat 实现 NAT 穿透协商
//
// 按 nat_type 选择策略：
//
//	full_cone / unknown        直连，固定源端口（可选 NAT-PMP 映射）
//	restricted / port_restricted 先发送 STUN 探测打开返回路径，再直连注册
//	symmetric                  服务器中继，临时源端口
//
// 认证与配置错误立即返回；其余瞬时错误按指数退避重试，次数有限。
package nat

// Package stun 提供 STUN Binding 探测
//
// 受限锥形 NAT 下，工作节点在注册前从隧道源端口向代理服务器发送
// Binding Request，为返回路径打开映射，同时得到自身的公网映射地址。
// 代理服务器一侧使用 Responder 应答。
package stun

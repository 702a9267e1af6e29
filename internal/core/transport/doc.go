// Package transport 建立到代理服务器的 ws/wss 隧道连接
//
// 连接升级完成后以二进制消息承载 yamux 字节流。
// 固定源端口通过 SO_REUSEADDR/SO_REUSEPORT 绑定，
// 以便与本地中继监听端口共存，并在重连时复用。
package transport

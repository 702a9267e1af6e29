package transport

import (
	"context"
	"net"
)

// Listen 以端口复用方式监听 TCP
//
// 本地中继端口可能与固定源端口相同，两端都需要设置复用选项。
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseControl}
	return lc.Listen(ctx, "tcp", addr)
}

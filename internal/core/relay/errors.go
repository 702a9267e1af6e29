package relay

import "errors"

var (
	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("relay: listener closed")

	// ErrConnLimit 连接数达到上限
	ErrConnLimit = errors.New("relay: connection limit reached")
)

// InterruptMessage 隧道中断时写给本地对端的提示
const InterruptMessage = "tunnel interrupted\n"

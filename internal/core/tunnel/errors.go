package tunnel

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("tunnel: session closed")

	// ErrHeartbeatLost 连续心跳丢失
	ErrHeartbeatLost = errors.New("tunnel: heartbeat lost")
)

// RejectedError 服务器拒绝注册
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("tunnel: registration rejected (status %d): %s", e.Status, e.Reason)
}

// Unauthorized 是否为认证失败
func (e *RejectedError) Unauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

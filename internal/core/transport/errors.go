package transport

import "errors"

var (
	// ErrRejected 服务器拒绝了握手（认证失败）
	ErrRejected = errors.New("transport: handshake rejected")

	// ErrHandshake 握手失败
	ErrHandshake = errors.New("transport: handshake failed")
)

// HandshakeError 握手错误
type HandshakeError struct {
	Status int
	Cause  error
}

func (e *HandshakeError) Error() string {
	if e.Cause != nil {
		return "transport: handshake failed: " + e.Cause.Error()
	}
	return "transport: handshake failed"
}

// Unwrap 解包错误
func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

// Is 按状态码匹配 ErrRejected / ErrHandshake
func (e *HandshakeError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.Status == 401 || e.Status == 403
	case ErrHandshake:
		return true
	}
	return false
}

package types

import (
	"errors"
	"strings"
)

// ErrorKind 错误类别
//
// 所有对外错误都归入其中之一，由 ABI 门面映射为非 200 的响应码。
type ErrorKind string

const (
	// KindConfig JSON 缺失/格式错误，不重试
	KindConfig ErrorKind = "config"
	// KindAuth token/序列号被服务器拒绝，不重试
	KindAuth ErrorKind = "auth"
	// KindNegotiation 建立隧道时的瞬时网络错误，重试耗尽后上报
	KindNegotiation ErrorKind = "negotiation"
	// KindBind 本地端口不可用，不重试
	KindBind ErrorKind = "bind"
	// KindTunnelLost 心跳失败，内部重连，重连耗尽才上报
	KindTunnelLost ErrorKind = "tunnel_lost"
	// KindState 当前生命周期状态不允许该操作
	KindState ErrorKind = "state"
	// KindInternal 内部异常（panic 等）
	KindInternal ErrorKind = "internal"
)

// Code 返回 ABI 响应码
func (k ErrorKind) Code() int {
	switch k {
	case KindConfig:
		return 400
	case KindAuth:
		return 401
	case KindState:
		return 409
	case KindBind:
		return 423
	case KindNegotiation:
		return 502
	case KindTunnelLost:
		return 504
	default:
		return 500
	}
}

// Fatal 是否为不可重试的错误
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindConfig, KindAuth, KindBind:
		return true
	default:
		return false
	}
}

// WorkerError 工作节点错误
type WorkerError struct {
	Kind  ErrorKind
	Op    string
	Msg   string
	Cause error
}

// 哨兵错误，配合 errors.Is 按类别匹配
var (
	ErrConfig      = &WorkerError{Kind: KindConfig}
	ErrAuth        = &WorkerError{Kind: KindAuth}
	ErrNegotiation = &WorkerError{Kind: KindNegotiation}
	ErrBind        = &WorkerError{Kind: KindBind}
	ErrTunnelLost  = &WorkerError{Kind: KindTunnelLost}
	ErrState       = &WorkerError{Kind: KindState}
	ErrInternal    = &WorkerError{Kind: KindInternal}
)

func (e *WorkerError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap 解包错误
func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// Is 同类别的哨兵错误视为匹配
func (e *WorkerError) Is(target error) bool {
	t, ok := target.(*WorkerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Cause == nil
}

// NewError 创建工作节点错误
func NewError(kind ErrorKind, op, msg string, cause error) *WorkerError {
	return &WorkerError{Kind: kind, Op: op, Msg: msg, Cause: cause}
}

// KindOf 返回错误类别，非 WorkerError 视为内部错误
func KindOf(err error) ErrorKind {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindInternal
}

// CodeOf 返回错误对应的 ABI 响应码，nil 为 200
func CodeOf(err error) int {
	if err == nil {
		return 200
	}
	return KindOf(err).Code()
}

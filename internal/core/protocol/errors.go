package protocol

import "errors"

// 协议错误定义
var (
	// ErrFrameTooLarge 帧超过最大长度
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrSequenceRegression 帧序列号重复或回退
	ErrSequenceRegression = errors.New("protocol: sequence number did not increase")

	// ErrUnexpectedMessage 收到非预期的控制消息
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")

	// ErrInvalidHeader 中继流头无效
	ErrInvalidHeader = errors.New("protocol: invalid stream header")
)

package proxyworker

import "github.com/aro-network/go-proxyworker/pkg/types"

// 错误类别哨兵，配合 errors.Is 使用
var (
	ErrConfig      = types.ErrConfig
	ErrAuth        = types.ErrAuth
	ErrNegotiation = types.ErrNegotiation
	ErrBind        = types.ErrBind
	ErrTunnelLost  = types.ErrTunnelLost
	ErrState       = types.ErrState
	ErrInternal    = types.ErrInternal
)

// 响应码
const (
	CodeSuccess = 200
)

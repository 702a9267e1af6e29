package nat

import "github.com/aro-network/go-proxyworker/pkg/types"

// Strategy 穿透策略
type Strategy struct {
	// Mode 注册时声明的隧道模式
	Mode types.TunnelMode

	// Probe 注册前发送 STUN 探测
	Probe bool

	// SourcePort 隧道源端口，0 表示临时端口
	SourcePort int

	// MapPort 在网关上映射源端口（需启用 NAT-PMP）
	MapPort bool
}

// StrategyFor 按 NAT 类型选择策略
func StrategyFor(cfg types.WorkerConfig) Strategy {
	switch cfg.NATType {
	case types.NATTypeSymmetric:
		// 对称型 NAT 的映射端口不可预测，不尝试直连
		return Strategy{Mode: types.TunnelModeRelay}
	case types.NATTypeRestricted, types.NATTypePortRestricted:
		return Strategy{
			Mode:       types.TunnelModeDirect,
			Probe:      true,
			SourcePort: cfg.FixedPort,
		}
	default:
		return Strategy{
			Mode:       types.TunnelModeDirect,
			SourcePort: cfg.FixedPort,
			MapPort:    cfg.FixedPort > 0,
		}
	}
}

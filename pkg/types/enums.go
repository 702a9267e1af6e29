package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
//                              NATType - NAT 类型
// ============================================================================

// NATType NAT 类型
//
// 数值与宿主应用下发的 nat_type 字段一致。
type NATType int

const (
	// NATTypeUnknown 未知类型
	NATTypeUnknown NATType = iota
	// NATTypeFullCone 完全锥形 NAT（含公网静态 IP）
	NATTypeFullCone
	// NATTypeRestricted 受限锥形 NAT
	NATTypeRestricted
	// NATTypePortRestricted 端口受限锥形 NAT
	NATTypePortRestricted
	// NATTypeSymmetric 对称型 NAT
	NATTypeSymmetric
)

var natTypeNames = [...]string{"unknown", "full_cone", "restricted", "port_restricted", "symmetric"}

// String 返回 NAT 类型的字符串表示
func (n NATType) String() string {
	if n.Valid() {
		return natTypeNames[n]
	}
	return "unknown"
}

// Valid 检查取值是否在枚举范围内
func (n NATType) Valid() bool {
	return n >= NATTypeUnknown && n <= NATTypeSymmetric
}

// ParseNATType 解析 NAT 类型名称或数值
func ParseNATType(s string) (NATType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if v, err := strconv.Atoi(s); err == nil {
		if n := NATType(v); n.Valid() {
			return n, nil
		}
		return NATTypeUnknown, fmt.Errorf("nat_type out of range: %d", v)
	}
	for i, name := range natTypeNames {
		if s == name {
			return NATType(i), nil
		}
	}
	return NATTypeUnknown, fmt.Errorf("unknown nat_type %q", s)
}

// MarshalJSON 以数值输出，保持与宿主应用下发格式一致
func (n NATType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(n))), nil
}

// UnmarshalJSON 同时接受数值和名称
func (n *NATType) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := ParseNATType(s)
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// ============================================================================
//                              TunnelMode - 隧道模式
// ============================================================================

// TunnelMode 隧道建立方式
type TunnelMode string

const (
	// TunnelModeDirect 直连打洞，本地源端口可固定
	TunnelModeDirect TunnelMode = "direct"
	// TunnelModeRelay 服务端中继，不尝试直连打洞
	TunnelModeRelay TunnelMode = "relay"
)

// ModeForNAT 按 NAT 类型选择隧道模式
func ModeForNAT(n NATType) TunnelMode {
	if n == NATTypeSymmetric {
		return TunnelModeRelay
	}
	return TunnelModeDirect
}

// ============================================================================
//                              WorkerState - 工作节点状态
// ============================================================================

// WorkerState 工作节点生命周期状态
type WorkerState int

const (
	StateIdle WorkerState = iota
	StateStarting
	StateNegotiating
	StateTunneled
	StateRelaying
	StateReconnecting
	StateStopping
	StateFailed
)

var workerStateNames = [...]string{
	"idle", "starting", "negotiating", "tunneled", "relaying", "reconnecting", "stopping", "failed",
}

// String 返回状态名称
func (s WorkerState) String() string {
	if s >= StateIdle && s <= StateFailed {
		return workerStateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// IsRunning 判断状态是否属于运行中
//
// starting/negotiating/tunneled/relaying/reconnecting 为运行中；
// idle、stopping、failed 不是。
func (s WorkerState) IsRunning() bool {
	switch s {
	case StateStarting, StateNegotiating, StateTunneled, StateRelaying, StateReconnecting:
		return true
	default:
		return false
	}
}

// MarshalText 以名称输出
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析状态名称
func (s *WorkerState) UnmarshalText(text []byte) error {
	for i, name := range workerStateNames {
		if string(text) == name {
			*s = WorkerState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", text)
}

package types

import "time"

// TunnelSession 隧道会话快照
//
// 重连时整体替换，不在原对象上修改。
type TunnelSession struct {
	SessionID       string     `json:"session_id"`
	RemoteEndpoint  string     `json:"remote_endpoint"`
	Mode            TunnelMode `json:"mode"`
	EstablishedAt   time.Time  `json:"established_at"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
	Sequence        uint64     `json:"sequence_counter"`
}

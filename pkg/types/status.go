package types

// WorkerStatus 工作节点状态快照（只读）
type WorkerStatus struct {
	State             WorkerState `json:"state"`
	Running           bool        `json:"running"`
	Uptime            float64     `json:"uptime"` // 秒
	ActiveConnections int         `json:"active_connections"`
	TunnelSessionID   *string     `json:"tunnel_session_id"`
	LastError         *string     `json:"last_error"`
	LastErrorCode     int         `json:"last_error_code,omitempty"`

	PID        int        `json:"pid"`
	TunnelID   string     `json:"tunnel_id,omitempty"`
	LocalPort  int        `json:"local_port,omitempty"`
	FixedPort  int        `json:"fixed_port,omitempty"`
	NATType    string     `json:"nat_type,omitempty"`
	Mode       TunnelMode `json:"mode,omitempty"`
	StartTime  int64      `json:"start_time,omitempty"` // Unix 秒
	BytesIn    int64      `json:"bytes_in"`
	BytesOut   int64      `json:"bytes_out"`
	Reconnects int64      `json:"reconnects"`
}

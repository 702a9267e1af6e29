package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/aro-network/go-proxyworker/pkg/types"
)

// rawConfig 兼容字段别名的解码结构
type rawConfig struct {
	SN           string `json:"sn"`
	SerialNumber string `json:"serial_number"`
	Token        string `json:"token"`
	AuthToken    string `json:"auth_token"`

	TunnelID        string         `json:"tunnel_id"`
	ProxyServerIP   string         `json:"proxy_server_ip"`
	ProxyServerPort int            `json:"proxy_server_port"`
	LocalPort       int            `json:"local_port"`
	NATType         *types.NATType `json:"nat_type"`
	FixedPort       int            `json:"fixed_port"`

	DisableTLS bool   `json:"disable_tls"`
	TLSSecure  bool   `json:"tls_secure"`
	ServerName string `json:"server_name"`
}

// Parse 解析 JSON 配置并校验
func Parse(data []byte) (types.WorkerConfig, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return types.WorkerConfig{}, configError("empty configuration", nil)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.WorkerConfig{}, configError("malformed json", err)
	}

	cfg := types.WorkerConfig{
		SerialNumber:    firstNonEmpty(raw.SN, raw.SerialNumber),
		AuthToken:       firstNonEmpty(raw.Token, raw.AuthToken),
		TunnelID:        strings.TrimSpace(raw.TunnelID),
		ProxyServerIP:   strings.TrimSpace(raw.ProxyServerIP),
		ProxyServerPort: raw.ProxyServerPort,
		LocalPort:       raw.LocalPort,
		FixedPort:       raw.FixedPort,
		DisableTLS:      raw.DisableTLS,
		TLSSecure:       raw.TLSSecure,
		ServerName:      strings.TrimSpace(raw.ServerName),
	}
	if raw.NATType != nil {
		cfg.NATType = *raw.NATType
	}

	if err := Validate(cfg); err != nil {
		return types.WorkerConfig{}, err
	}
	return cfg, nil
}

// Validate 校验配置
//
// fixed_port 为可选项；为 0 时使用临时端口。
func Validate(cfg types.WorkerConfig) error {
	switch {
	case cfg.SerialNumber == "":
		return configError("missing field sn", nil)
	case cfg.AuthToken == "":
		return configError("missing field token", nil)
	case cfg.TunnelID == "":
		return configError("missing field tunnel_id", nil)
	case cfg.ProxyServerIP == "":
		return configError("missing field proxy_server_ip", nil)
	}

	if err := validateHost(cfg.ProxyServerIP); err != nil {
		return err
	}
	if !validPort(cfg.ProxyServerPort) {
		return configError(fmt.Sprintf("proxy_server_port out of range: %d", cfg.ProxyServerPort), nil)
	}
	if !validPort(cfg.LocalPort) {
		return configError(fmt.Sprintf("local_port out of range: %d", cfg.LocalPort), nil)
	}
	if cfg.FixedPort != 0 && !validPort(cfg.FixedPort) {
		return configError(fmt.Sprintf("fixed_port out of range: %d", cfg.FixedPort), nil)
	}
	if !cfg.NATType.Valid() {
		return configError(fmt.Sprintf("invalid nat_type: %d", int(cfg.NATType)), nil)
	}
	return nil
}

func validateHost(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	if strings.ContainsAny(host, ":/ \t") {
		return configError(fmt.Sprintf("invalid proxy_server_ip %q", host), nil)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func configError(msg string, cause error) error {
	return types.NewError(types.KindConfig, "parse config", msg, cause)
}

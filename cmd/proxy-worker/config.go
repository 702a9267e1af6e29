package main

import (
	"net"
	"os"
	"strconv"

	"github.com/aro-network/go-proxyworker/internal/core/config"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 环境变量（优先级高于配置文件，低于命令行参数）
const (
	envPrefix    = "PROXYWORKER_"
	envSN        = "SN"
	envToken     = "TOKEN"
	envTunnelID  = "TUNNEL_ID"
	envServerIP  = "SERVER_IP"
	envServerPrt = "SERVER_PORT"
	envLocalPort = "LOCAL_PORT"
)

// loadWorkerConfig 合并配置文件、环境变量与命令行参数
func loadWorkerConfig() (types.WorkerConfig, error) {
	var cfg types.WorkerConfig
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	applyEnvOverrides(&cfg)
	if err := applyFlags(&cfg); err != nil {
		return cfg, err
	}
	return cfg, config.Validate(cfg)
}

// applyEnvOverrides 应用环境变量
func applyEnvOverrides(cfg *types.WorkerConfig) {
	if v := os.Getenv(envPrefix + envSN); v != "" {
		cfg.SerialNumber = v
	}
	if v := os.Getenv(envPrefix + envToken); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv(envPrefix + envTunnelID); v != "" {
		cfg.TunnelID = v
	}
	if v := os.Getenv(envPrefix + envServerIP); v != "" {
		cfg.ProxyServerIP = v
	}
	if v := os.Getenv(envPrefix + envServerPrt); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ProxyServerPort = port
		}
	}
	if v := os.Getenv(envPrefix + envLocalPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.LocalPort = port
		}
	}
}

// applyFlags 应用显式设置的命令行参数
func applyFlags(cfg *types.WorkerConfig) error {
	if *sn != "" {
		cfg.SerialNumber = *sn
	}
	if *token != "" {
		cfg.AuthToken = *token
	}
	if *tunnelID != "" {
		cfg.TunnelID = *tunnelID
	}
	if *serverAddr != "" {
		host, portStr, err := net.SplitHostPort(*serverAddr)
		if err != nil {
			return types.NewError(types.KindConfig, "flags", "invalid -server", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return types.NewError(types.KindConfig, "flags", "invalid -server port", err)
		}
		cfg.ProxyServerIP = host
		cfg.ProxyServerPort = port
	}
	if *localPort != 0 {
		cfg.LocalPort = *localPort
	}
	if *natType != "" {
		n, err := types.ParseNATType(*natType)
		if err != nil {
			return types.NewError(types.KindConfig, "flags", "invalid -nat-type", err)
		}
		cfg.NATType = n
	}
	if *fixedPort != 0 {
		cfg.FixedPort = *fixedPort
	}
	if *disableTLS {
		cfg.DisableTLS = true
	}
	return nil
}

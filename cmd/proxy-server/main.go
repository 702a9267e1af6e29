// Package main 提供参考代理服务器
//
// 与工作节点使用同一套隧道协议，用于本地开发与联调：
//
//	proxy-server -listen 0.0.0.0:8000 -credentials X:T
//	proxy-server -listen 0.0.0.0:8443 -cert server.crt -key server.key -upstream 127.0.0.1:80
//
// 未指定 -upstream 时中继流回显收到的数据。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aro-network/go-proxyworker/internal/server"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
)

var log = logger.Logger("cmd")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	listen := flag.String("listen", "0.0.0.0:8000", "监听地址")
	credentials := flag.String("credentials", "", "允许的凭证 sn:token，逗号分隔（为空接受任意非空凭证）")
	upstream := flag.String("upstream", "", "中继流转发目标 host:port（为空回显）")
	heartbeat := flag.Duration("heartbeat", 0, "下发给工作节点的心跳间隔（0 = 由工作节点决定）")
	certFile := flag.String("cert", "", "TLS 证书文件")
	keyFile := flag.String("key", "", "TLS 私钥文件")
	enableSTUN := flag.Bool("stun", true, "在同一端口应答 UDP STUN")
	statsInterval := flag.Duration("stats-interval", 30*time.Second, "统计打印间隔")
	flag.Parse()

	cfg := server.DefaultConfig()
	cfg.ListenAddr = *listen
	cfg.Upstream = *upstream
	cfg.HeartbeatInterval = *heartbeat
	cfg.CertFile = *certFile
	cfg.KeyFile = *keyFile
	cfg.EnableSTUN = *enableSTUN
	creds, err := parseCredentials(*credentials)
	if err != nil {
		return err
	}
	cfg.Credentials = creds

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("启动代理服务器失败: %w", err)
	}
	defer func() { _ = srv.Close() }()

	fmt.Printf("代理服务器已启动: %s（按 Ctrl+C 停止）\n", srv.Addr())
	go reportStats(ctx, srv, *statsInterval)

	<-ctx.Done()
	fmt.Println("\n正在关闭代理服务器...")
	return nil
}

// parseCredentials 解析 sn:token 列表
func parseCredentials(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	creds := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		sn, token, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || sn == "" || token == "" {
			return nil, fmt.Errorf("invalid credential %q, want sn:token", pair)
		}
		creds[sn] = token
	}
	return creds, nil
}

// reportStats 定期报告统计信息
func reportStats(ctx context.Context, srv *server.Server, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("统计",
				"sessions", srv.Sessions(),
				"registrations", srv.Registrations(),
				"streams", srv.Streams(),
				"resumed", srv.ResumedStreams())
		}
	}
}

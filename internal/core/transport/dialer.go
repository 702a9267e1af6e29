package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aro-network/go-proxyworker/internal/util/logger"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

var log = logger.Logger("transport")

// TunnelPath 隧道升级路径
const TunnelPath = "/tunnel"

// Config 拨号配置
type Config struct {
	// DialTimeout TCP 连接超时
	DialTimeout time.Duration

	// HandshakeTimeout websocket 握手超时
	HandshakeTimeout time.Duration

	// ReadBufferSize / WriteBufferSize websocket 缓冲区大小
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  32 * 1024,
	}
}

// Dialer 隧道拨号器
type Dialer struct {
	config Config
}

// NewDialer 创建拨号器
func NewDialer(config Config) *Dialer {
	def := DefaultConfig()
	if config.DialTimeout <= 0 {
		config.DialTimeout = def.DialTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = def.ReadBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = def.WriteBufferSize
	}
	return &Dialer{config: config}
}

// TunnelURL 构造隧道 URL
//
//	{ws|wss}://{ip}:{port}/tunnel?tunnel.id={tunnel_id}
func TunnelURL(cfg types.WorkerConfig) *url.URL {
	scheme := "wss"
	if cfg.DisableTLS {
		scheme = "ws"
	}
	q := url.Values{}
	q.Set("tunnel.id", cfg.TunnelID)
	return &url.URL{
		Scheme:   scheme,
		Host:     cfg.ProxyAddr(),
		Path:     TunnelPath,
		RawQuery: q.Encode(),
	}
}

// BasicAuth 返回 sn:token 的 Basic 认证头
func BasicAuth(sn, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(sn+":"+token))
}

// Dial 建立隧道连接
//
// localPort > 0 时以该端口作为源端口；端口被占用时退回临时端口。
func (d *Dialer) Dial(ctx context.Context, cfg types.WorkerConfig, localPort int) (net.Conn, error) {
	conn, err := d.dial(ctx, cfg, localPort)
	if err != nil && localPort > 0 && isAddrError(err) {
		log.Warn("固定源端口不可用，使用临时端口",
			"fixed_port", localPort,
			"err", err)
		conn, err = d.dial(ctx, cfg, 0)
	}
	return conn, err
}

func (d *Dialer) dial(ctx context.Context, cfg types.WorkerConfig, localPort int) (net.Conn, error) {
	netDialer := &net.Dialer{
		Timeout: d.config.DialTimeout,
		Control: reuseControl,
	}
	if localPort > 0 {
		netDialer.LocalAddr = &net.TCPAddr{Port: localPort}
	}

	wsDialer := &websocket.Dialer{
		NetDialContext:   netDialer.DialContext,
		HandshakeTimeout: d.config.HandshakeTimeout,
		ReadBufferSize:   d.config.ReadBufferSize,
		WriteBufferSize:  d.config.WriteBufferSize,
	}
	if !cfg.DisableTLS {
		wsDialer.TLSClientConfig = &tls.Config{
			ServerName:         cfg.TLSServerName(),
			InsecureSkipVerify: !cfg.TLSSecure, //nolint:gosec // 自签名证书的代理服务器
			MinVersion:         tls.VersionTLS12,
		}
	}

	header := http.Header{}
	header.Set("Authorization", BasicAuth(cfg.SerialNumber, cfg.AuthToken))

	target := TunnelURL(cfg)
	ws, resp, err := wsDialer.DialContext(ctx, target.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &HandshakeError{Status: status, Cause: err}
	}

	log.Debug("隧道连接已建立",
		"url", target.Redacted(),
		"local", ws.LocalAddr().String())
	return NewConn(ws), nil
}

// isAddrError 源端口绑定或四元组冲突
func isAddrError(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EADDRNOTAVAIL)
}

// LocalPort 返回连接的本地端口
func LocalPort(conn net.Conn) int {
	if conn == nil {
		return 0
	}
	_, port, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

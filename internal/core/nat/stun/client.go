package stun

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/pion/stun"

	"github.com/aro-network/go-proxyworker/internal/util/logger"
)

var log = logger.Logger("nat.stun")

// Client STUN 探测客户端
type Client struct {
	timeout time.Duration
	retries int

	// 用于测试的钩子函数
	queryFunc func(server string, localPort int) (*net.UDPAddr, error)
}

// NewClient 创建 STUN 客户端
func NewClient(timeout time.Duration, retries int) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if retries <= 0 {
		retries = 2
	}
	return &Client{
		timeout: timeout,
		retries: retries,
	}
}

// SetQueryFunc 设置查询函数（用于测试）
func (c *Client) SetQueryFunc(f func(server string, localPort int) (*net.UDPAddr, error)) {
	c.queryFunc = f
}

// Probe 从 localPort 向 server 发送 Binding Request，返回映射地址
//
// localPort 为 0 时使用临时端口。
func (c *Client) Probe(ctx context.Context, server string, localPort int) (*net.UDPAddr, error) {
	if server == "" {
		return nil, ErrNoServer
	}
	if c.queryFunc != nil {
		return c.queryFunc(server, localPort)
	}

	var lastErr error = ErrTimeout
	for retry := 0; retry < c.retries; retry++ {
		addr, err := c.query(ctx, server, localPort)
		if err == nil {
			return addr, nil
		}
		lastErr = err
		log.Debug("STUN 探测失败",
			"server", server,
			"retry", retry,
			"err", err)

		// 指数退避
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<retry) * 100 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// query 查询单次
func (c *Client) query(ctx context.Context, server string, localPort int) (*net.UDPAddr, error) {
	// 1. 解析服务器地址
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, &STUNError{Message: "resolve server address", Cause: err}
	}

	// 2. 创建 UDP 连接，源端口被占用时退回临时端口
	conn, err := net.DialUDP("udp", &net.UDPAddr{Port: localPort}, raddr)
	if err != nil && localPort > 0 && errors.Is(err, syscall.EADDRINUSE) {
		conn, err = net.DialUDP("udp", nil, raddr)
	}
	if err != nil {
		return nil, &STUNError{Message: "dial server", Cause: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// 3. 设置超时
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	// 4. 构造并发送 Binding Request
	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, &STUNError{Message: "build request", Cause: err}
	}
	if _, err := req.WriteTo(conn); err != nil {
		return nil, &STUNError{Message: "send request", Cause: err}
	}

	// 5. 读取响应
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &STUNError{Message: "read response", Cause: err}
	}

	res := new(stun.Message)
	res.Raw = buf[:n]
	if err := res.Decode(); err != nil {
		return nil, &STUNError{Message: "decode response", Cause: err}
	}
	if res.TransactionID != req.TransactionID {
		return nil, &STUNError{Message: "transaction id mismatch"}
	}

	// 6. 提取 XOR-MAPPED-ADDRESS，退回 MAPPED-ADDRESS
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err != nil {
		var mappedAddr stun.MappedAddress
		if err := mappedAddr.GetFrom(res); err != nil {
			return nil, &STUNError{Message: "no mapped address in response", Cause: err}
		}
		return &net.UDPAddr{IP: mappedAddr.IP, Port: mappedAddr.Port}, nil
	}
	return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}

package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aro-network/go-proxyworker/internal/core/muxer/yamux"
	"github.com/aro-network/go-proxyworker/internal/core/nat/natpmp"
	"github.com/aro-network/go-proxyworker/internal/core/nat/stun"
	"github.com/aro-network/go-proxyworker/internal/core/transport"
	"github.com/aro-network/go-proxyworker/internal/core/tunnel"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

var log = logger.Logger("nat")

// Prober STUN 探测接口
type Prober interface {
	Probe(ctx context.Context, server string, localPort int) (*net.UDPAddr, error)
}

// PortMapper 网关端口映射接口
type PortMapper interface {
	MapPort(proto string, internalPort int, lifetime time.Duration) (natpmp.Mapping, error)
	Close() error
}

// Negotiator 隧道协商器
type Negotiator struct {
	config  Config
	dialer  *transport.Dialer
	factory *yamux.Factory
	prober  Prober

	mapperMu  sync.Mutex
	mapper    PortMapper
	newMapper func(ctx context.Context) (PortMapper, error)

	attempts atomic.Int64
}

// NewNegotiator 创建协商器
func NewNegotiator(config Config) *Negotiator {
	_ = config.Validate()
	prober := config.Prober
	if prober == nil {
		prober = stun.NewClient(config.ProbeTimeout, 2)
	}
	return &Negotiator{
		config:  config,
		dialer:  transport.NewDialer(config.Transport),
		factory: yamux.NewFactory(config.Muxer),
		prober:  prober,
		newMapper: func(ctx context.Context) (PortMapper, error) {
			return natpmp.Discover(ctx, natpmp.DefaultTimeout)
		},
	}
}

// SetProber 替换 STUN 探测器（用于测试）
func (n *Negotiator) SetProber(p Prober) {
	n.prober = p
}

// Attempts 返回累计握手尝试次数
func (n *Negotiator) Attempts() int64 {
	return n.attempts.Load()
}

// Negotiate 建立隧道会话
//
// 认证失败返回 KindAuth；服务器判定请求无效返回 KindConfig；
// 重试耗尽返回 KindNegotiation。ctx 取消时返回 ctx.Err()。
func (n *Negotiator) Negotiate(ctx context.Context, cfg types.WorkerConfig) (*tunnel.Session, error) {
	strategy := StrategyFor(cfg)
	log.Info("开始隧道协商",
		"nat_type", cfg.NATType.String(),
		"mode", strategy.Mode,
		"source_port", strategy.SourcePort,
		"probe", strategy.Probe)

	var lastErr error
	for attempt := 0; attempt < n.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := n.config.Backoff.Duration(attempt - 1)
			log.Debug("协商重试等待", "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-n.config.Clock.After(wait):
			}
		}

		sess, err := n.attempt(ctx, cfg, strategy)
		if err == nil {
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if types.KindOf(err).Fatal() {
			return nil, err
		}

		lastErr = err
		log.Warn("隧道协商失败",
			"attempt", attempt+1,
			"max", n.config.MaxAttempts,
			"err", err)
	}

	return nil, types.NewError(types.KindNegotiation, "negotiate",
		fmt.Sprintf("gave up after %d attempts", n.config.MaxAttempts), lastErr)
}

// attempt 执行一次完整握手
func (n *Negotiator) attempt(ctx context.Context, cfg types.WorkerConfig, s Strategy) (*tunnel.Session, error) {
	n.attempts.Add(1)

	var publicAddr string
	if s.Probe {
		publicAddr = n.probe(ctx, cfg, s)
	}
	if s.MapPort && n.config.EnableNATPMP {
		n.mapPort(ctx, s.SourcePort)
	}

	conn, err := n.dialer.Dial(ctx, cfg, s.SourcePort)
	if err != nil {
		if errors.Is(err, transport.ErrRejected) {
			return nil, types.NewError(types.KindAuth, "handshake", "credentials rejected", err)
		}
		return nil, types.NewError(types.KindNegotiation, "dial", cfg.ProxyAddr(), err)
	}

	mux, err := n.factory.NewMuxer(conn, false)
	if err != nil {
		_ = conn.Close()
		return nil, types.NewError(types.KindNegotiation, "mux", "", err)
	}

	sess, err := tunnel.Open(ctx, mux, cfg.ProxyAddr(), tunnel.Registration{
		SerialNumber: cfg.SerialNumber,
		Token:        cfg.AuthToken,
		TunnelID:     cfg.TunnelID,
		Mode:         s.Mode,
		NATType:      cfg.NATType,
		PublicAddr:   publicAddr,
	}, n.config.Tunnel)
	if err != nil {
		return nil, classify(err)
	}
	return sess, nil
}

// probe 发送 STUN 探测，失败不影响注册
func (n *Negotiator) probe(ctx context.Context, cfg types.WorkerConfig, s Strategy) string {
	ctx, cancel := context.WithTimeout(ctx, n.config.ProbeTimeout)
	defer cancel()

	addr, err := n.prober.Probe(ctx, cfg.ProxyAddr(), s.SourcePort)
	if err != nil {
		log.Warn("STUN 探测失败，继续注册", "server", cfg.ProxyAddr(), "err", err)
		return ""
	}
	log.Debug("STUN 探测成功", "mapped", addr.String())
	return addr.String()
}

// mapPort 在网关上映射源端口，只在首次成功时执行
func (n *Negotiator) mapPort(ctx context.Context, port int) {
	n.mapperMu.Lock()
	defer n.mapperMu.Unlock()

	if n.mapper != nil {
		return
	}
	m, err := n.newMapper(ctx)
	if err != nil {
		log.Warn("NAT-PMP 网关不可用", "err", err)
		return
	}
	if _, err := m.MapPort("tcp", port, n.config.MappingLifetime); err != nil {
		log.Warn("NAT-PMP 端口映射失败", "port", port, "err", err)
		_ = m.Close()
		return
	}
	n.mapper = m
}

// Close 释放协商器持有的网关映射
func (n *Negotiator) Close() error {
	n.mapperMu.Lock()
	m := n.mapper
	n.mapper = nil
	n.mapperMu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}

// classify 将注册错误归类
func classify(err error) error {
	var rej *tunnel.RejectedError
	if errors.As(err, &rej) {
		switch {
		case rej.Unauthorized():
			return types.NewError(types.KindAuth, "register", rej.Reason, err)
		case rej.Status == 400:
			return types.NewError(types.KindConfig, "register", rej.Reason, err)
		}
	}
	return types.NewError(types.KindNegotiation, "register", "", err)
}

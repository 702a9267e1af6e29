// Package natpmp 提供 NAT-PMP 端口映射
//
// full_cone 模式下可选地在网关上映射固定源端口，默认关闭。
package natpmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	"go.uber.org/multierr"

	"github.com/aro-network/go-proxyworker/internal/util/logger"
)

var log = logger.Logger("nat.natpmp")

// DefaultTimeout 默认 NAT-PMP 超时
const DefaultTimeout = 3 * time.Second

// ErrNoGateway 未找到网关
var ErrNoGateway = errors.New("natpmp: no gateway found")

// NATPMPError NAT-PMP 错误
type NATPMPError struct {
	Message string
	Cause   error
}

func (e *NATPMPError) Error() string {
	if e.Cause != nil {
		return "natpmp: " + e.Message + ": " + e.Cause.Error()
	}
	return "natpmp: " + e.Message
}

// Unwrap 解包错误
func (e *NATPMPError) Unwrap() error {
	return e.Cause
}

// client NAT-PMP 客户端抽象（便于测试）
type client interface {
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
}

// Mapping 端口映射记录
type Mapping struct {
	Protocol     string
	InternalPort int
	ExternalPort int
	Lifetime     time.Duration
	CreatedAt    time.Time
}

// Mapper NAT-PMP 端口映射器
type Mapper struct {
	client  client
	gateway net.IP
	timeout time.Duration

	mu       sync.Mutex
	mappings map[string]Mapping // key: "protocol:internalPort"
}

// Discover 发现默认网关并创建映射器
func Discover(ctx context.Context, timeout time.Duration) (*Mapper, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	type result struct {
		ip  net.IP
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ip, err := gateway.DiscoverGateway()
		ch <- result{ip, err}
	}()

	var gw net.IP
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &NATPMPError{Message: "discover gateway", Cause: r.err}
		}
		if r.ip == nil {
			return nil, ErrNoGateway
		}
		gw = r.ip
	case <-time.After(timeout):
		return nil, &NATPMPError{Message: "discover gateway", Cause: fmt.Errorf("timeout after %v", timeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	log.Debug("发现网关", "gateway", gw.String())
	return newMapper(natpmp.NewClientWithTimeout(gw, timeout), gw, timeout), nil
}

func newMapper(c client, gw net.IP, timeout time.Duration) *Mapper {
	return &Mapper{
		client:   c,
		gateway:  gw,
		timeout:  timeout,
		mappings: make(map[string]Mapping),
	}
}

// Gateway 返回网关地址
func (m *Mapper) Gateway() net.IP {
	return m.gateway
}

// MapPort 映射端口，外部端口优先与内部端口一致
func (m *Mapper) MapPort(proto string, internalPort int, lifetime time.Duration) (Mapping, error) {
	if proto != "udp" {
		proto = "tcp"
	}
	secs := int(lifetime / time.Second)
	if secs <= 0 {
		secs = 3600
	}

	res, err := m.client.AddPortMapping(proto, internalPort, internalPort, secs)
	if err != nil {
		return Mapping{}, &NATPMPError{Message: fmt.Sprintf("map %s/%d", proto, internalPort), Cause: err}
	}

	mp := Mapping{
		Protocol:     proto,
		InternalPort: internalPort,
		ExternalPort: int(res.MappedExternalPort),
		Lifetime:     time.Duration(res.PortMappingLifetimeInSeconds) * time.Second,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.mappings[key(proto, internalPort)] = mp
	m.mu.Unlock()

	log.Info("NAT-PMP 端口映射成功",
		"proto", proto,
		"internal", internalPort,
		"external", mp.ExternalPort)
	return mp, nil
}

// ExternalIP 获取网关外部地址
func (m *Mapper) ExternalIP() (net.IP, error) {
	res, err := m.client.GetExternalAddress()
	if err != nil {
		return nil, &NATPMPError{Message: "get external address", Cause: err}
	}
	ip := res.ExternalIPAddress
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]), nil
}

// Mappings 返回当前映射
func (m *Mapper) Mappings() []Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Mapping, 0, len(m.mappings))
	for _, mp := range m.mappings {
		out = append(out, mp)
	}
	return out
}

// Close 删除所有映射（lifetime=0）
func (m *Mapper) Close() error {
	m.mu.Lock()
	mappings := m.mappings
	m.mappings = make(map[string]Mapping)
	m.mu.Unlock()

	var err error
	for _, mp := range mappings {
		if _, e := m.client.AddPortMapping(mp.Protocol, mp.InternalPort, 0, 0); e != nil {
			err = multierr.Append(err, &NATPMPError{Message: fmt.Sprintf("unmap %s/%d", mp.Protocol, mp.InternalPort), Cause: e})
		}
	}
	return err
}

func key(proto string, port int) string {
	return fmt.Sprintf("%s:%d", proto, port)
}

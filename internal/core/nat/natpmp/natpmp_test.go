package natpmp

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient 模拟 NAT-PMP 网关
type mockClient struct {
	mu       sync.Mutex
	calls    []string
	failNext bool
}

func (c *mockClient) AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failNext {
		c.failNext = false
		return nil, errors.New("gateway refused")
	}
	if lifetime == 0 {
		c.calls = append(c.calls, "unmap")
	} else {
		c.calls = append(c.calls, "map")
	}
	return &natpmp.AddPortMappingResult{
		InternalPort:                 uint16(internalPort),
		MappedExternalPort:           uint16(requestedExternalPort),
		PortMappingLifetimeInSeconds: uint32(lifetime),
	}, nil
}

func (c *mockClient) GetExternalAddress() (*natpmp.GetExternalAddressResult, error) {
	return &natpmp.GetExternalAddressResult{ExternalIPAddress: [4]byte{203, 0, 113, 7}}, nil
}

func TestMapper_MapAndClose(t *testing.T) {
	mc := &mockClient{}
	m := newMapper(mc, net.IPv4(192, 168, 1, 1), time.Second)

	mp, err := m.MapPort("TCP", 10800, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "tcp", mp.Protocol)
	assert.Equal(t, 10800, mp.ExternalPort)
	assert.Equal(t, time.Hour, mp.Lifetime)
	assert.Len(t, m.Mappings(), 1)

	ip, err := m.ExternalIP()
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip.String())

	require.NoError(t, m.Close())
	assert.Empty(t, m.Mappings())
	assert.Equal(t, []string{"map", "unmap"}, mc.calls)
}

func TestMapper_MapError(t *testing.T) {
	mc := &mockClient{failNext: true}
	m := newMapper(mc, net.IPv4(192, 168, 1, 1), time.Second)

	_, err := m.MapPort("udp", 10800, 0)
	require.Error(t, err)
	var ne *NATPMPError
	assert.True(t, errors.As(err, &ne))
	assert.Empty(t, m.Mappings())
}

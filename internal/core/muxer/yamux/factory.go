package yamux

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/yamux"
)

// ErrNilConn 连接为空
var ErrNilConn = errors.New("yamux: nil connection")

// Factory 创建 yamux 多路复用器
type Factory struct {
	config   Config
	yamuxCfg *yamux.Config
}

// NewFactory 创建 yamux 工厂
func NewFactory(config Config) *Factory {
	return &Factory{
		config:   config,
		yamuxCfg: config.ToYamux(),
	}
}

// NewMuxer 从连接创建多路复用器
//
// 工作节点一侧为客户端（isServer=false），代理服务器一侧为服务端。
func (f *Factory) NewMuxer(conn io.ReadWriteCloser, isServer bool) (*Muxer, error) {
	if conn == nil {
		return nil, ErrNilConn
	}

	var session *yamux.Session
	var err error

	if isServer {
		session, err = yamux.Server(conn, f.yamuxCfg)
	} else {
		session, err = yamux.Client(conn, f.yamuxCfg)
	}

	if err != nil {
		return nil, fmt.Errorf("创建 yamux session 失败: %w", err)
	}

	return NewMuxer(session, isServer), nil
}

// Protocol 返回协议名称
func (f *Factory) Protocol() string {
	return "yamux"
}

// Config 返回配置
func (f *Factory) Config() Config {
	return f.config
}

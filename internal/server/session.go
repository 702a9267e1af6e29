package server

import (
	"bufio"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/aro-network/go-proxyworker/internal/core/muxer/yamux"
	"github.com/aro-network/go-proxyworker/internal/core/protocol"
)

// session 服务器侧会话
type session struct {
	id       string
	tunnelID string
	mode     string
	mux      *yamux.Muxer
	codec    *protocol.Codec
	seq      protocol.Sequencer
}

// handleStream 处理一条中继流
func (s *Server) handleStream(sess *session, stream *yamux.Stream) {
	defer stream.Close()

	r := bufio.NewReader(stream)
	h, err := protocol.ReadStreamHeader(r)
	if err != nil {
		log.Debug("读取流头失败", "session", sess.id, "err", err)
		return
	}
	if h.Resume {
		s.resumed.Add(1)
	}

	in := protocol.NewFrameReader(r)
	out := protocol.NewFrameWriter(stream, &sess.seq)

	if s.config.Upstream == "" {
		_, _ = io.Copy(out, in)
		return
	}

	upstream, err := net.Dial("tcp", s.config.Upstream)
	if err != nil {
		log.Warn("连接上游失败", "upstream", s.config.Upstream, "err", err)
		return
	}
	defer upstream.Close()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(upstream, in)
		if tc, ok := upstream.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(out, upstream)
		_ = stream.Close()
		return err
	})
	if err := g.Wait(); err != nil {
		log.Debug("中继流结束", "session", sess.id, "conn", h.ConnID, "err", err)
	}
}

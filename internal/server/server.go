package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/aro-network/go-proxyworker/internal/core/muxer/yamux"
	"github.com/aro-network/go-proxyworker/internal/core/nat/stun"
	"github.com/aro-network/go-proxyworker/internal/core/protocol"
	"github.com/aro-network/go-proxyworker/internal/core/transport"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
)

var log = logger.Logger("server")

// Server 参考代理服务器
type Server struct {
	config   Config
	factory  *yamux.Factory
	upgrader websocket.Upgrader

	ln      net.Listener
	httpSrv *http.Server
	stun    *stun.Responder

	mu       sync.Mutex
	sessions map[string]*session

	ackHeartbeats atomic.Bool
	unavailable   atomic.Bool

	registrations atomic.Int64
	resumed       atomic.Int64
	streams       atomic.Int64

	wg sync.WaitGroup
}

// New 创建服务器
func New(config Config) *Server {
	def := DefaultConfig()
	if config.ListenAddr == "" {
		config.ListenAddr = def.ListenAddr
	}
	if config.RegisterTimeout <= 0 {
		config.RegisterTimeout = def.RegisterTimeout
	}

	s := &Server{
		config:   config,
		factory:  yamux.NewFactory(yamux.DefaultConfig()),
		sessions: make(map[string]*session),
	}
	s.ackHeartbeats.Store(true)
	return s
}

// Start 开始监听
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc(transport.TunnelPath, s.handleTunnel)
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if s.config.CertFile != "" {
			err = s.httpSrv.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.httpSrv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP 服务退出", "err", err)
		}
	}()

	if s.config.EnableSTUN {
		s.startSTUN()
	}

	log.Info("代理服务器已启动", "addr", ln.Addr().String(), "stun", s.stun != nil)
	return nil
}

func (s *Server) startSTUN() {
	pc, err := net.ListenPacket("udp", s.ln.Addr().String())
	if err != nil {
		log.Warn("STUN 应答器启动失败", "err", err)
		return
	}
	s.stun = stun.NewResponder(pc)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.stun.Serve()
	}()
}

// Addr 返回监听地址
func (s *Server) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Close 关闭服务器及所有会话
func (s *Server) Close() error {
	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = multierr.Append(err, s.httpSrv.Shutdown(ctx))
		cancel()
	}
	if s.stun != nil {
		err = multierr.Append(err, s.stun.Close())
	}
	s.DropSessions()
	s.wg.Wait()
	if errors.Is(err, context.DeadlineExceeded) {
		// 被劫持的 websocket 连接不受 Shutdown 管理
		err = nil
	}
	return err
}

// ============================================================================
//                              测试控制
// ============================================================================

// SetHeartbeatAcks 控制是否应答心跳
func (s *Server) SetHeartbeatAcks(enabled bool) {
	s.ackHeartbeats.Store(enabled)
}

// SetUnavailable 拒绝新的隧道连接（503）
func (s *Server) SetUnavailable(v bool) {
	s.unavailable.Store(v)
}

// DropSessions 断开所有会话，返回断开数量
func (s *Server) DropSessions() int {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.mux.Close()
	}
	return len(sessions)
}

// Sessions 返回当前会话数量
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Registrations 返回累计注册成功次数
func (s *Server) Registrations() int64 { return s.registrations.Load() }

// ResumedStreams 返回累计恢复的中继流数量
func (s *Server) ResumedStreams() int64 { return s.resumed.Load() }

// Streams 返回累计中继流数量
func (s *Server) Streams() int64 { return s.streams.Load() }

// ============================================================================
//                              隧道处理
// ============================================================================

func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	if s.unavailable.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	sn, token, ok := r.BasicAuth()
	if !ok || !s.authorized(sn, token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tunnelID := r.URL.Query().Get("tunnel.id")
	if tunnelID == "" {
		http.Error(w, "missing tunnel.id", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("升级失败", "err", err)
		return
	}

	mux, err := s.factory.NewMuxer(transport.NewConn(ws), true)
	if err != nil {
		ws.Close()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveSession(mux, sn, token, tunnelID, r.RemoteAddr)
	}()
}

func (s *Server) authorized(sn, token string) bool {
	if sn == "" || token == "" {
		return false
	}
	if s.config.Credentials == nil {
		return true
	}
	want, ok := s.config.Credentials[sn]
	return ok && want == token
}

func (s *Server) serveSession(mux *yamux.Muxer, sn, token, tunnelID, remote string) {
	defer mux.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.RegisterTimeout)
	control, err := mux.AcceptStream(ctx)
	cancel()
	if err != nil {
		return
	}

	codec := protocol.NewCodec(control)
	_ = control.SetReadDeadline(time.Now().Add(s.config.RegisterTimeout))
	reg, err := codec.Expect(protocol.TypeRegister)
	if err != nil {
		return
	}
	_ = control.SetReadDeadline(time.Time{})

	if ack := s.checkRegistration(reg, sn, token, tunnelID); ack != nil {
		_ = codec.WriteMessage(ack)
		return
	}

	sess := &session{
		id:       uuid.NewString(),
		tunnelID: tunnelID,
		mode:     reg.Mode,
		mux:      mux,
		codec:    codec,
	}
	s.addSession(sess)
	defer s.removeSession(sess.id)

	err = codec.WriteMessage(&protocol.Message{
		Type:        protocol.TypeRegisterAck,
		OK:          true,
		SessionID:   sess.id,
		Status:      protocol.StatusOK,
		HeartbeatMS: s.config.HeartbeatInterval.Milliseconds(),
	})
	if err != nil {
		return
	}
	s.registrations.Add(1)

	log.Info("工作节点已注册",
		"session", sess.id,
		"sn", sn,
		"tunnel_id", tunnelID,
		"mode", reg.Mode,
		"nat_type", reg.NATType,
		"public_addr", reg.PublicAddr,
		"remote", remote)

	go s.acceptStreams(sess)
	s.controlLoop(sess)
}

// checkRegistration 校验注册消息，通过时返回 nil
func (s *Server) checkRegistration(reg *protocol.Message, sn, token, tunnelID string) *protocol.Message {
	reject := func(status int, reason string) *protocol.Message {
		return &protocol.Message{Type: protocol.TypeRegisterAck, OK: false, Status: status, Reason: reason}
	}
	switch {
	case reg.SerialNumber != sn || reg.Token != token:
		return reject(protocol.StatusUnauthorized, "credential mismatch")
	case reg.TunnelID != tunnelID:
		return reject(protocol.StatusBadRequest, "tunnel id mismatch")
	}
	return nil
}

func (s *Server) controlLoop(sess *session) {
	for {
		msg, err := sess.codec.ReadMessage()
		if err != nil {
			return
		}
		if msg.Type != protocol.TypeHeartbeat || !s.ackHeartbeats.Load() {
			continue
		}
		err = sess.codec.WriteMessage(&protocol.Message{
			Type: protocol.TypeHeartbeatAck,
			Seq:  msg.Seq,
			TS:   time.Now().UnixMilli(),
		})
		if err != nil {
			return
		}
	}
}

func (s *Server) acceptStreams(sess *session) {
	for {
		stream, err := sess.mux.AcceptStream(context.Background())
		if err != nil {
			return
		}
		s.streams.Add(1)
		go s.handleStream(sess, stream)
	}
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

package tunnel

import (
	"fmt"

	"github.com/aro-network/go-proxyworker/internal/core/protocol"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

// heartbeatLoop 按固定间隔发送心跳
//
// 每次 tick 检查上一个心跳是否已被确认；连续 MaxMissedHeartbeats 次未确认即判定失效。
func (s *Session) heartbeatLoop() {
	defer s.wg.Done()

	ticker := s.config.Clock.Ticker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		sent := s.hbSent.Load()
		if sent > 0 && s.hbAcked.Load() < sent {
			missed++
			log.Debug("心跳未确认", "session", s.id, "missed", missed)
			if missed >= s.config.MaxMissedHeartbeats {
				s.fail(types.NewError(types.KindTunnelLost, "heartbeat",
					fmt.Sprintf("%d consecutive heartbeats missed", missed), ErrHeartbeatLost))
				return
			}
		} else {
			missed = 0
		}

		seq := s.hbSent.Add(1)
		err := s.codec.WriteMessage(&protocol.Message{
			Type: protocol.TypeHeartbeat,
			Seq:  seq,
			TS:   s.config.Clock.Now().UnixMilli(),
		})
		if err != nil {
			s.fail(types.NewError(types.KindTunnelLost, "heartbeat", "write failed", err))
			return
		}
	}
}

// ack 处理心跳响应
func (s *Session) ack(seq uint64) {
	for {
		cur := s.hbAcked.Load()
		if seq <= cur || s.hbAcked.CompareAndSwap(cur, seq) {
			break
		}
	}
	s.lastHeartbeat.Store(s.config.Clock.Now().UnixNano())
}

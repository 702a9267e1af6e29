package stun

import (
	"errors"
	"net"

	"github.com/pion/stun"
)

// Responder 应答 STUN Binding Request
type Responder struct {
	conn net.PacketConn
}

// NewResponder 创建应答器
func NewResponder(conn net.PacketConn) *Responder {
	return &Responder{conn: conn}
}

// Serve 循环应答直到连接关闭
func (r *Responder) Serve() error {
	buf := make([]byte, 1500)
	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		if err := r.handle(buf[:n], addr); err != nil {
			log.Debug("STUN 应答失败", "from", addr.String(), "err", err)
		}
	}
}

// Close 关闭应答器
func (r *Responder) Close() error {
	return r.conn.Close()
}

func (r *Responder) handle(data []byte, addr net.Addr) error {
	req := &stun.Message{Raw: append([]byte(nil), data...)}
	if err := req.Decode(); err != nil {
		return err
	}
	if req.Type != stun.BindingRequest {
		return nil
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return errors.New("unexpected address type")
	}

	res, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port},
		stun.Fingerprint,
	)
	if err != nil {
		return err
	}
	_, err = r.conn.WriteTo(res.Raw, addr)
	return err
}

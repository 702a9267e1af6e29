package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MessageType 控制消息类型
type MessageType string

const (
	TypeRegister     MessageType = "register"
	TypeRegisterAck  MessageType = "register_ack"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeHeartbeatAck MessageType = "heartbeat_ack"
)

// 注册响应状态码
const (
	StatusOK           = 200
	StatusBadRequest   = 400
	StatusUnauthorized = 401
	StatusForbidden    = 403
	StatusUnavailable  = 503
)

// MaxMessageSize 控制消息最大长度
const MaxMessageSize = 64 * 1024

// Message 控制流消息
type Message struct {
	Type MessageType `json:"type"`

	// register
	SerialNumber string `json:"sn,omitempty"`
	Token        string `json:"token,omitempty"`
	TunnelID     string `json:"tunnel_id,omitempty"`
	Mode         string `json:"mode,omitempty"`
	NATType      string `json:"nat_type,omitempty"`
	PublicAddr   string `json:"public_addr,omitempty"`

	// register_ack
	OK          bool   `json:"ok,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Status      int    `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	HeartbeatMS int64  `json:"heartbeat_ms,omitempty"`

	// heartbeat / heartbeat_ack
	Seq uint64 `json:"seq,omitempty"`
	TS  int64  `json:"ts,omitempty"`
}

// Codec 控制流编解码器
//
// 同一时刻只允许一个 goroutine 读；写操作内部加锁。
type Codec struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

// NewCodec 创建编解码器
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		r: bufio.NewReaderSize(rw, 4096),
		w: rw,
	}
}

// WriteMessage 写入一条消息
func (c *Codec) WriteMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("编码控制消息失败: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(data)
	return err
}

// ReadMessage 读取一条消息
func (c *Codec) ReadMessage() (*Message, error) {
	line, err := readLine(c.r, MaxMessageSize)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("解码控制消息失败: %w", err)
	}
	return &msg, nil
}

// Expect 读取一条指定类型的消息
func (c *Codec) Expect(t MessageType) (*Message, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msg.Type != t {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedMessage, msg.Type, t)
	}
	return msg, nil
}

// readLine 读取一行，不含换行符
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > max {
			return nil, ErrFrameTooLarge
		}
		if !isPrefix {
			return line, nil
		}
	}
}

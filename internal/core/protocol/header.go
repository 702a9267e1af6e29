package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// StreamHeader 中继流头
type StreamHeader struct {
	// ConnID 本地连接 ID，重连后用于关联
	ConnID string `json:"conn_id"`

	// Resume 是否为重连后恢复的连接
	Resume bool `json:"resume"`
}

// WriteStreamHeader 写入中继流头
func WriteStreamHeader(w io.Writer, h StreamHeader) error {
	if h.ConnID == "" {
		return ErrInvalidHeader
	}
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// ReadStreamHeader 读取中继流头
//
// 后续帧必须从同一个 bufio.Reader 读取。
func ReadStreamHeader(r *bufio.Reader) (StreamHeader, error) {
	var h StreamHeader
	line, err := readLine(r, MaxMessageSize)
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if h.ConnID == "" {
		return h, ErrInvalidHeader
	}
	return h, nil
}

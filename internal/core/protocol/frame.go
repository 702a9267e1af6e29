package protocol

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/multiformats/go-varint"
)

// MaxFrameSize 单帧最大载荷
const MaxFrameSize = 1 << 20

// ============================================================================
//                              Sequencer - 会话序列号
// ============================================================================

// Sequencer 会话级序列号计数器
//
// 从 0 开始，每次 Next 加一。一个会话只有一个 Sequencer，重连时随会话一起替换。
type Sequencer struct {
	next atomic.Uint64
}

// Next 返回下一个序列号
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1) - 1
}

// Current 返回已分配的序列号数量
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// ============================================================================
//                              帧读写
// ============================================================================

// FrameWriter 帧写入器
type FrameWriter struct {
	mu  sync.Mutex
	w   io.Writer
	seq *Sequencer
	buf []byte
}

// NewFrameWriter 创建帧写入器
func NewFrameWriter(w io.Writer, seq *Sequencer) *FrameWriter {
	return &FrameWriter{w: w, seq: seq}
}

// WriteFrame 写入一帧，返回使用的序列号
func (fw *FrameWriter) WriteFrame(p []byte) (uint64, error) {
	if len(p) > MaxFrameSize {
		return 0, ErrFrameTooLarge
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	seq := fw.seq.Next()
	need := 2*varint.MaxLenUvarint63 + len(p)
	if cap(fw.buf) < need {
		fw.buf = make([]byte, need)
	}
	buf := fw.buf[:need]
	n := varint.PutUvarint(buf, seq)
	n += varint.PutUvarint(buf[n:], uint64(len(p)))
	n += copy(buf[n:], p)

	_, err := fw.w.Write(buf[:n])
	return seq, err
}

// Write 实现 io.Writer，超过 MaxFrameSize 的数据拆成多帧
func (fw *FrameWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxFrameSize {
			chunk = chunk[:MaxFrameSize]
		}
		if _, err := fw.WriteFrame(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// FrameReader 帧读取器
//
// 同一条流上的序列号必须严格递增。
type FrameReader struct {
	r       *bufio.Reader
	last    uint64
	started bool
	pending []byte
}

// NewFrameReader 创建帧读取器
func NewFrameReader(r *bufio.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame 读取一帧
func (fr *FrameReader) ReadFrame() (uint64, []byte, error) {
	seq, err := varint.ReadUvarint(fr.r)
	if err != nil {
		return 0, nil, err
	}
	size, err := varint.ReadUvarint(fr.r)
	if err != nil {
		return 0, nil, noEOF(err)
	}
	if size > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	if fr.started && seq <= fr.last {
		return 0, nil, ErrSequenceRegression
	}
	fr.started = true
	fr.last = seq

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return 0, nil, noEOF(err)
	}
	return seq, payload, nil
}

// Read 实现 io.Reader，按帧拼接载荷
func (fr *FrameReader) Read(p []byte) (int, error) {
	for len(fr.pending) == 0 {
		_, payload, err := fr.ReadFrame()
		if err != nil {
			return 0, err
		}
		fr.pending = payload
	}
	n := copy(p, fr.pending)
	fr.pending = fr.pending[n:]
	return n, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

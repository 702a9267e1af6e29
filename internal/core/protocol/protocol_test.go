package protocol

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer_Monotonic(t *testing.T) {
	var seq Sequencer
	assert.Equal(t, uint64(0), seq.Current())

	const workers, each = 8, 200
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				n := seq.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 无重复，且覆盖 [0, workers*each)
	assert.Len(t, seen, workers*each)
	for i := uint64(0); i < workers*each; i++ {
		assert.True(t, seen[i], "missing seq %d", i)
	}
	assert.Equal(t, uint64(workers*each), seq.Current())
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var seq Sequencer
	fw := NewFrameWriter(&buf, &seq)

	s0, err := fw.WriteFrame([]byte("hello"))
	require.NoError(t, err)
	s1, err := fw.WriteFrame([]byte{})
	require.NoError(t, err)
	s2, err := fw.WriteFrame([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, []uint64{s0, s1, s2})

	fr := NewFrameReader(bufio.NewReader(&buf))
	for i, want := range []string{"hello", "", "world"} {
		got, payload, err := fr.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), got)
		assert.Equal(t, want, string(payload))
	}
	_, _, err = fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameReader_RejectsRegression(t *testing.T) {
	var buf bytes.Buffer
	var a, b Sequencer
	b.Next()
	b.Next()

	// 先写 seq=2，再写 seq=0
	_, err := NewFrameWriter(&buf, &b).WriteFrame([]byte("x"))
	require.NoError(t, err)
	_, err = NewFrameWriter(&buf, &a).WriteFrame([]byte("y"))
	require.NoError(t, err)

	fr := NewFrameReader(bufio.NewReader(&buf))
	_, _, err = fr.ReadFrame()
	require.NoError(t, err)
	_, _, err = fr.ReadFrame()
	assert.ErrorIs(t, err, ErrSequenceRegression)
}

func TestFrame_IOAdapters(t *testing.T) {
	var buf bytes.Buffer
	var seq Sequencer
	fw := NewFrameWriter(&buf, &seq)

	_, err := io.WriteString(fw, "abc")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "def")
	require.NoError(t, err)

	data, err := io.ReadAll(NewFrameReader(bufio.NewReader(&buf)))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestFrameWriter_TooLarge(t *testing.T) {
	var seq Sequencer
	_, err := NewFrameWriter(io.Discard, &seq).WriteFrame(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, uint64(0), seq.Current())
}

func TestCodec_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf)

	require.NoError(t, c.WriteMessage(&Message{Type: TypeRegister, SerialNumber: "X", Token: "T", TunnelID: "Y", Mode: "direct"}))
	require.NoError(t, c.WriteMessage(&Message{Type: TypeHeartbeat, Seq: 3}))

	msg, err := c.Expect(TypeRegister)
	require.NoError(t, err)
	assert.Equal(t, "X", msg.SerialNumber)
	assert.Equal(t, "Y", msg.TunnelID)

	_, err = c.Expect(TypeRegisterAck)
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}

func TestStreamHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStreamHeader(&buf, StreamHeader{ConnID: "c1", Resume: true}))
	buf.WriteString("trailing")

	r := bufio.NewReader(&buf)
	h, err := ReadStreamHeader(r)
	require.NoError(t, err)
	assert.Equal(t, StreamHeader{ConnID: "c1", Resume: true}, h)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "trailing", string(rest))

	assert.ErrorIs(t, WriteStreamHeader(io.Discard, StreamHeader{}), ErrInvalidHeader)
	_, err = ReadStreamHeader(bufio.NewReader(bytes.NewBufferString("{}\n")))
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

package messaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payloads := []Message{
		{"action": "ping"},
		{"action": "download", "url": "https://youtu.be/abc12345678", "quality": "720", "id": "req-1"},
		{"title": "한국어 제목 🎵", "percent": float64(25)},
		{},
		{"nested": map[string]interface{}{"list": []interface{}{"a", float64(1), true, nil}}},
	}

	for i, p := range payloads {
		t.Run(fmt.Sprintf("payload_%d", i), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, p))

			got, err := ReadMessage(&buf)
			require.NoError(t, err)
			assert.Equal(t, p, got)
			assert.Equal(t, 0, buf.Len(), "reader must consume exactly one frame")
		})
	}
}

func TestWriteMessage_PrefixIsLittleEndianLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, map[string]string{"status": "ok"}))

	raw := buf.Bytes()
	body := `{"status":"ok"}`
	require.Len(t, raw, 4+len(body))
	assert.Equal(t, uint32(len(body)), binary.LittleEndian.Uint32(raw[:4]))
	assert.Equal(t, body, string(raw[4:]))
}

func TestReadMessage_EmptyStream(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestReadMessage_TruncatedPrefix(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{0x05, 0x00}))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestReadMessage_TruncatedBody(t *testing.T) {
	frame, err := EncodeFrame(Message{"action": "ping"})
	require.NoError(t, err)

	_, err = ReadMessage(bytes.NewReader(frame[:len(frame)-3]))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestReadFrame_ShortBodyDoesNotReserveDeclaredSize(t *testing.T) {
	var frame bytes.Buffer
	require.NoError(t, binary.Write(&frame, binary.LittleEndian, uint32(MaxMessageSize)))
	frame.WriteString(`{"action":"ping"}`)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := ReadFrame(bytes.NewReader(frame.Bytes()))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), "allocation follows the bytes received")
}

func TestReadMessage_FrameTooLarge(t *testing.T) {
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], MaxMessageSize+1)

	_, err := ReadMessage(bytes.NewReader(prefix[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadMessage_MalformedJSON(t *testing.T) {
	body := []byte(`{"action":`)
	var buf bytes.Buffer
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	buf.Write(prefix[:])
	buf.Write(body)

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedMessage))
	assert.False(t, errors.Is(err, ErrStreamClosed))
}

func TestReader_SequentialMessages(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteMessage(&buf, Message{"seq": float64(i)}))
	}

	r := NewReader(&buf)
	for i := 0; i < 3; i++ {
		msg, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, float64(i), msg["seq"])
	}
	_, err := r.Read()
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestWriter_ConcurrentFramesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	const writers = 20
	const perWriter = 25
	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := w.Write(Message{"id": fmt.Sprintf("w%d-%d", g, i), "pad": string(bytes.Repeat([]byte("x"), 100+g))})
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[string]bool)
	r := NewReader(&buf)
	for {
		msg, err := r.Read()
		if errors.Is(err, ErrStreamClosed) {
			break
		}
		require.NoError(t, err, "every frame must decode cleanly")
		seen[msg.String("id")] = true
	}
	assert.Len(t, seen, writers*perWriter)
}

func TestMessage_String(t *testing.T) {
	m := Message{"action": "ping", "n": float64(3)}
	assert.Equal(t, "ping", m.String("action"))
	assert.Equal(t, "", m.String("n"))
	assert.Equal(t, "", m.String("missing"))
}

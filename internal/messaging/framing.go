// Package messaging implements the native messaging wire format: a 4-byte
// little-endian length prefix followed by that many bytes of UTF-8 JSON.
package messaging

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxMessageSize caps a single incoming frame. Browsers limit host-bound
// messages to 64 MiB, anything larger is a corrupt prefix.
const MaxMessageSize = 64 * 1024 * 1024

// initialBodySize is the buffer reserved up front for a frame body.
const initialBodySize = 64 * 1024

var (
	// ErrStreamClosed signals that the peer closed the stream, either
	// cleanly between frames or in the middle of one.
	ErrStreamClosed = errors.New("message stream closed")
	// ErrFrameTooLarge is returned when a length prefix exceeds MaxMessageSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum message size")
	// ErrMalformedMessage wraps JSON decode failures of a complete frame.
	ErrMalformedMessage = errors.New("malformed message")
)

// Message is a decoded request or response object.
type Message map[string]interface{}

// String returns the string value stored under key, or "".
func (m Message) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// ReadFrame reads one raw frame body from r.
// A missing or truncated prefix or body yields ErrStreamClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrStreamClosed
		}
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	// The buffer grows with the bytes that actually arrive, so a bogus
	// prefix on a short stream does not cost a full-size allocation.
	var body bytes.Buffer
	body.Grow(int(min(length, initialBodySize)))
	n, err := io.CopyN(&body, r, int64(length))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrStreamClosed
		}
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	if n != int64(length) {
		return nil, ErrStreamClosed
	}
	return body.Bytes(), nil
}

// ReadMessage reads and decodes one frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// EncodeFrame serialises payload and prepends its length prefix.
func EncodeFrame(payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// WriteMessage writes payload to w as a single frame.
// It is not safe for concurrent use on the same writer, use a Writer for that.
func WriteMessage(w io.Writer, payload interface{}) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Reader decodes successive messages from a stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r in a buffered message reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next message or ErrStreamClosed once the stream ends.
func (r *Reader) Read() (Message, error) {
	return ReadMessage(r.r)
}

// Writer serialises frames from any number of goroutines onto one stream,
// holding a single lock per frame so frames never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer for w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write sends payload as one frame and flushes it if the stream supports it.
func (w *Writer) Write(payload interface{}) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if f, ok := w.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing frame: %w", err)
		}
	}
	return nil
}

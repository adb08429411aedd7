package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"vending-machine/internal/config"

	"github.com/tidwall/gjson"
)

// DefaultMaxMessageSize bounds a single request unless configured otherwise.
const DefaultMaxMessageSize = 64 << 10

var (
	ErrReadTimeout       = errors.New("timeout during read")
	ErrIncompleteMessage = errors.New("connection closed before message was complete")
	ErrMessageTooLarge   = errors.New("message exceeds maximum size")
)

// Framer assembles one request off a stream connection.
//
// In brace mode a message is complete once the buffer holds at least one '{'
// and as many '}' as '{'. Braces inside JSON strings are counted too, and a
// payload without braces never completes and runs into the timeout. JSON mode
// instead waits until the buffer is a valid JSON object. Reading stops once
// MaxSize bytes are buffered without a complete message.
type Framer struct {
	Timeout   time.Duration
	ChunkSize int
	Mode      string
	MaxSize   int
}

func NewFramer(timeout time.Duration, chunkSize int, mode string) *Framer {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	if mode == "" {
		mode = config.FramingBraces
	}
	return &Framer{Timeout: timeout, ChunkSize: chunkSize, Mode: mode, MaxSize: DefaultMaxMessageSize}
}

// ReadMessage reads chunks until the buffered bytes form a complete message.
// The whole read, not each chunk, is bounded by Timeout. When the peer closes
// first the partial data is returned together with ErrIncompleteMessage. A
// buffer of MaxSize bytes or more that is still incomplete ends the read with
// ErrMessageTooLarge.
func (f *Framer) ReadMessage(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(f.Timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	var data []byte
	chunk := make([]byte, f.ChunkSize)
	for {
		n, err := conn.Read(chunk)
		data = append(data, chunk[:n]...)
		if n > 0 && f.Complete(data) {
			return data, nil
		}
		if f.MaxSize > 0 && len(data) >= f.MaxSize {
			return data, ErrMessageTooLarge
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				return data, ErrReadTimeout
			case errors.Is(err, io.EOF):
				return data, ErrIncompleteMessage
			default:
				return data, fmt.Errorf("read: %w", err)
			}
		}
	}
}

// Complete reports whether data holds a whole message for the framer's mode.
func (f *Framer) Complete(data []byte) bool {
	if f.Mode == config.FramingJSON {
		trimmed := bytes.TrimSpace(data)
		return len(trimmed) > 0 && trimmed[0] == '{' && gjson.ValidBytes(trimmed)
	}
	opens := bytes.Count(data, []byte{'{'})
	return opens > 0 && opens == bytes.Count(data, []byte{'}'})
}

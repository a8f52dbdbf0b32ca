package tracker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"go.aimuz.me/slidemark/internal/types"
)

// Message types on the worker pipes.
const (
	MsgReady  = "ready"
	MsgResult = "result"
	MsgError  = "error"
	MsgFrame  = "frame"
)

// maxMessage bounds a single framed message.
const maxMessage = 64 << 20

// Message is one msgpack-encoded message exchanged with the worker.
// Fields not used by a message type are omitted.
type Message struct {
	Type string `msgpack:"type"`

	// result and frame
	Seq uint64 `msgpack:"seq,omitempty"`
	// result: capture time in milliseconds since the Unix epoch
	TS    int64        `msgpack:"ts,omitempty"`
	Hands []types.Hand `msgpack:"hands,omitempty"`

	// error
	Code    string `msgpack:"code,omitempty"`
	Message string `msgpack:"message,omitempty"`

	// frame: packed RGB pixels
	Width  int    `msgpack:"width,omitempty"`
	Height int    `msgpack:"height,omitempty"`
	Data   []byte `msgpack:"data,omitempty"`
}

// WriteMessage encodes m with a 4-byte big-endian length prefix.
func WriteMessage(w io.Writer, m *Message) error {
	body, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message. It returns io.EOF when
// the stream ends cleanly between messages.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessage {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	var m Message
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &m, nil
}

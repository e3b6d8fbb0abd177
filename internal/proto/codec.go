package proto

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Encoder writes one self-describing JSON record per message onto an ordered
// byte stream. It is safe for concurrent use: a broadcast and a direct reply
// may race for the same connection.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder wraps a stream for sending messages.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode validates and writes a single message.
func (e *Encoder) Encode(m Message) error {
	if m.Type == "" {
		return ErrEmptyType
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(m); err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return nil
}

// Decoder reads messages off an ordered byte stream, one at a time.
// A single reader goroutine per connection keeps per-connection ordering.
type Decoder struct {
	dec *json.Decoder
}

// NewDecoder wraps a stream for receiving messages.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Decode reads the next message. It returns io.EOF on a clean end of stream
// and rejects records with an empty type tag.
func (d *Decoder) Decode() (Message, error) {
	var m Message
	if err := d.dec.Decode(&m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, ErrEmptyType
	}
	return m, nil
}

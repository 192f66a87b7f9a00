package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Lines longer than this are protocol violations, not payloads.
const maxLineBytes = 1 << 20

// Encoder writes protocol values as single JSON lines. Safe for concurrent
// use; the worker's heartbeat and progress goroutines share one encoder.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// EncodeRequest validates and writes a request line.
func (e *Encoder) EncodeRequest(req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return e.writeLine(req)
}

// EncodeMessage validates and writes a message line.
func (e *Encoder) EncodeMessage(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return e.writeLine(msg)
}

func (e *Encoder) writeLine(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	payload = append(payload, '\n')
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Decoder reads protocol values line by line. Not safe for concurrent use;
// each side owns exactly one reader goroutine.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{scanner: scanner}
}

// DecodeRequest reads and validates the next request line. Returns io.EOF
// when the stream ends cleanly.
func (d *Decoder) DecodeRequest() (Request, error) {
	var req Request
	if err := d.next(&req); err != nil {
		return Request{}, err
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// DecodeMessage reads and validates the next message line. Returns io.EOF
// when the stream ends cleanly.
func (d *Decoder) DecodeMessage() (Message, error) {
	var msg Message
	if err := d.next(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (d *Decoder) next(v any) error {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return fmt.Errorf("decode line: %w", err)
		}
		return nil
	}
	if err := d.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

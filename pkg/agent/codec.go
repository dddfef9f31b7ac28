package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// maxLineBytes bounds one protocol line. Command output dominates line
// size, and 10MB leaves room for package listings without letting a
// runaway command exhaust the controller.
const maxLineBytes = 10 * 1024 * 1024

// Encoder writes protocol messages as newline-terminated JSON.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder wraps a stream, typically the process's own stdout or the
// started agent's stdin.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one message and flushes it, stamping the envelope with
// the current time.
func (e *Encoder) Encode(msgType MessageType, data any) error {
	if err := msgType.Validate(); err != nil {
		return err
	}

	var dataBytes []byte
	if data != nil {
		var err error
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s data: %w", msgType, err)
		}
	}

	msgBytes, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return e.w.Flush()
}

// Decoder reads protocol messages line by line.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps a stream, typically the process's own stdin or the
// started agent's stdout.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Decoder{scanner: scanner}
}

// Decode reads the next message, skipping blank lines. A closed stream
// returns io.EOF.
func (d *Decoder) Decode() (*Message, error) {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read message: %w", err)
			}
			return nil, io.EOF
		}

		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if err := msg.Type.Validate(); err != nil {
			return nil, err
		}
		return &msg, nil
	}
}

// DecodeData unpacks a message's payload into target.
func DecodeData(msg *Message, target any) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("%s message carries no data", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", msg.Type, err)
	}
	return nil
}

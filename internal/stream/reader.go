// internal/stream/reader.go
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Corphon/StoryTeller/internal/models"
)

const maxLineSize = 1 << 20

// ErrTruncated means the body ended before a finish-message part
var ErrTruncated = errors.New("stream ended before finish")

// RemoteError carries the message of an error part
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "stream error: " + e.Message
}

// Part is one decoded protocol line
type Part struct {
	Code    byte
	Payload json.RawMessage
}

// Reader decodes parts from a response body
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next part or io.EOF
func (r *Reader) Next() (Part, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			return Part{}, fmt.Errorf("malformed stream line %q", truncate(line))
		}
		payload := make([]byte, len(line)-2)
		copy(payload, line[2:])
		return Part{Code: line[0], Payload: payload}, nil
	}
	if err := r.sc.Err(); err != nil {
		return Part{}, err
	}
	return Part{}, io.EOF
}

// Text decodes a text or error part payload
func (p Part) Text() (string, error) {
	var s string
	err := json.Unmarshal(p.Payload, &s)
	return s, err
}

// MessageID decodes a start-step part payload
func (p Part) MessageID() (string, error) {
	var v startStep
	err := json.Unmarshal(p.Payload, &v)
	return v.MessageID, err
}

// Finish decodes a finish-step or finish-message part payload
func (p Part) Finish() (models.Finish, error) {
	var v finishMessage
	if err := json.Unmarshal(p.Payload, &v); err != nil {
		return models.Finish{}, err
	}
	return models.Finish{Reason: v.FinishReason, Usage: v.Usage}, nil
}

// Consume reads the whole stream, calling onText for every text part. It
// returns the finish record, a *RemoteError for an error part, or
// ErrTruncated when the body ends early.
func Consume(r io.Reader, onText func(string)) (models.Finish, error) {
	reader := NewReader(r)
	for {
		part, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return models.Finish{}, ErrTruncated
		}
		if err != nil {
			return models.Finish{}, err
		}

		switch part.Code {
		case PartText:
			text, err := part.Text()
			if err != nil {
				return models.Finish{}, fmt.Errorf("decode text part: %w", err)
			}
			if onText != nil {
				onText(text)
			}
		case PartError:
			msg, err := part.Text()
			if err != nil {
				msg = string(part.Payload)
			}
			return models.Finish{}, &RemoteError{Message: msg}
		case PartFinishMessage:
			return part.Finish()
		default:
			// start/finish step and unknown parts carry nothing we need
		}
	}
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}

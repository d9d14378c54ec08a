// internal/stream/writer.go
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Corphon/StoryTeller/internal/models"
)

// ErrNotStarted is returned when a part is written before Begin
var ErrNotStarted = errors.New("stream not started")

// Writer writes protocol parts to an HTTP response and flushes after each
// one. Headers are committed lazily by Begin so callers can still answer
// with a JSON error if the generation fails before any output.
type Writer struct {
	rw      http.ResponseWriter
	flusher http.Flusher
	started bool
	closed  bool
}

// NewWriter wraps rw
func NewWriter(rw http.ResponseWriter) *Writer {
	flusher, _ := rw.(http.Flusher)
	return &Writer{rw: rw, flusher: flusher}
}

// Started reports whether headers and the start part have been sent
func (w *Writer) Started() bool {
	return w.started
}

// Begin commits headers and writes the start-of-step part
func (w *Writer) Begin(messageID string) error {
	if w.started {
		return nil
	}
	h := w.rw.Header()
	h.Set("Content-Type", ContentType)
	h.Set(HeaderName, HeaderVersion)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.rw.WriteHeader(http.StatusOK)
	w.started = true
	return w.writePart(PartStartStep, startStep{MessageID: messageID})
}

// Text writes one text fragment
func (w *Writer) Text(chunk string) error {
	return w.writePart(PartText, chunk)
}

// Error writes an error part and closes the writer
func (w *Writer) Error(message string) error {
	err := w.writePart(PartError, message)
	w.closed = true
	return err
}

// Finish writes the step and message finish parts and closes the writer
func (w *Writer) Finish(f models.Finish) error {
	if err := w.writePart(PartFinishStep, finishStep{FinishReason: f.Reason, Usage: f.Usage}); err != nil {
		return err
	}
	err := w.writePart(PartFinishMessage, finishMessage{FinishReason: f.Reason, Usage: f.Usage})
	w.closed = true
	return err
}

func (w *Writer) writePart(code byte, value interface{}) error {
	if !w.started {
		return ErrNotStarted
	}
	if w.closed {
		return fmt.Errorf("stream closed, dropping %q part", code)
	}
	var line bytes.Buffer
	line.WriteByte(code)
	line.WriteByte(':')
	enc := json.NewEncoder(&line)
	enc.SetEscapeHTML(false)
	// Encode terminates the part with '\n'
	if err := enc.Encode(value); err != nil {
		return err
	}
	if _, err := w.rw.Write(line.Bytes()); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

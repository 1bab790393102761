package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// envelope is the wire shape for every JSONLines-mode event:
// {"type": "replay|session|provider|tool", "event": ...}.
type envelope struct {
	Type  string `json:"type"`
	Event any    `json:"event"`
}

// JSONLines emits one JSON object per ModeEvent, newline-terminated, onto
// Out. Writes are serialized so concurrent pushes never interleave a
// partial line.
type JSONLines struct {
	mu     sync.Mutex
	writer io.Writer
	// LastWriteErr records the most recent encode or write failure; a
	// later successful push does not clear it. Push never panics and keeps
	// writing later events, and the caller can inspect this field after
	// the run completes.
	LastWriteErr error
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{writer: w}
}

func (j *JSONLines) Push(e ModeEvent) {
	env := envelope{Type: string(e.Kind), Event: payloadFor(e)}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(env); err != nil {
		j.recordErr(fmt.Errorf("encode mode event: %w", err))
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.writer.Write(buf.Bytes()); err != nil {
		j.LastWriteErr = fmt.Errorf("write mode event: %w", err)
	}
}

func (j *JSONLines) recordErr(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.LastWriteErr = err
}

// payloadFor extracts the single populated field the envelope's type tag
// selects, so the JSON payload carries only the relevant event instead of
// the whole ModeEvent struct with its other zero-valued fields.
func payloadFor(e ModeEvent) any {
	switch e.Kind {
	case KindReplay:
		return e.Replay
	case KindSession:
		return e.Session
	case KindProvider:
		return e.Provider
	case KindTool:
		return e.Tool
	default:
		return nil
	}
}

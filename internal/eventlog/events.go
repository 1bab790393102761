// Package eventlog implements the append-only per-session event log: the
// tagged-union event taxonomy, JSONL encode/decode, streaming replay,
// selection, fork and compaction.
package eventlog

import "encoding/json"

// StopReason enumerates why a turn stopped.
type StopReason string

const (
	StopDone     StopReason = "done"
	StopMaxOut   StopReason = "max_out"
	StopTool     StopReason = "tool"
	StopCanceled StopReason = "canceled"
	StopErr      StopReason = "err"
)

// Event is the append-only record unit: a timestamp plus a tagged-union body.
type Event struct {
	AtMs int64     `json:"at_ms"`
	Data EventBody `json:"data"`
}

// EventBody is a tagged union over every kind of session event. Exactly one
// field is non-nil on any well-formed value; encoding and decoding use the
// plain struct tags and do not check that.
type EventBody struct {
	Prompt      *PromptBody      `json:"prompt,omitempty"`
	Text        *TextBody        `json:"text,omitempty"`
	Thinking    *ThinkingBody    `json:"thinking,omitempty"`
	ToolCall    *ToolCallBody    `json:"tool_call,omitempty"`
	ToolResult  *ToolResultBody  `json:"tool_result,omitempty"`
	Usage       *UsageBody       `json:"usage,omitempty"`
	Stop        *StopBody        `json:"stop,omitempty"`
	Err         *ErrBody         `json:"err,omitempty"`
	SessionMeta *SessionMetaBody `json:"session-meta,omitempty"`
}

type PromptBody struct {
	Text string `json:"text"`
}

type TextBody struct {
	Text string `json:"text"`
}

type ThinkingBody struct {
	Text string `json:"text"`
}

// ToolCallBody records a model-initiated tool call. Args is left as a raw
// JSON string: the store never interprets tool arguments.
type ToolCallBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

type ToolResultBody struct {
	ID    string `json:"id"`
	Out   string `json:"out"`
	IsErr bool   `json:"is_err"`
}

type UsageBody struct {
	InTok      int  `json:"in_tok"`
	OutTok     int  `json:"out_tok"`
	TotTok     int  `json:"tot_tok"`
	CacheRead  *int `json:"cache_read,omitempty"`
	CacheWrite *int `json:"cache_write,omitempty"`
}

type StopBody struct {
	Reason StopReason `json:"reason"`
}

type ErrBody struct {
	Text string `json:"text"`
}

// SessionMetaBody carries miscellaneous session metadata, e.g. a rename.
type SessionMetaBody struct {
	Rename string `json:"rename,omitempty"`
}

// Helper constructors keep call sites in agentloop/tools terse and avoid
// forgetting to wrap the tagged-union pointer.

func Prompt(text string) EventBody      { return EventBody{Prompt: &PromptBody{Text: text}} }
func Text(text string) EventBody        { return EventBody{Text: &TextBody{Text: text}} }
func Thinking(text string) EventBody    { return EventBody{Thinking: &ThinkingBody{Text: text}} }
func Err(text string) EventBody         { return EventBody{Err: &ErrBody{Text: text}} }
func Stop(reason StopReason) EventBody  { return EventBody{Stop: &StopBody{Reason: reason}} }
func Usage(in, out, tot int) EventBody  { return EventBody{Usage: &UsageBody{InTok: in, OutTok: out, TotTok: tot}} }

func ToolCall(id, name, args string) EventBody {
	return EventBody{ToolCall: &ToolCallBody{ID: id, Name: name, Args: args}}
}

func ToolResult(id, out string, isErr bool) EventBody {
	return EventBody{ToolResult: &ToolResultBody{ID: id, Out: out, IsErr: isErr}}
}

// Kind returns a short tag naming which union arm is set, for logging and
// mode-sink dispatch without a type switch at every call site.
func (b EventBody) Kind() string {
	switch {
	case b.Prompt != nil:
		return "prompt"
	case b.Text != nil:
		return "text"
	case b.Thinking != nil:
		return "thinking"
	case b.ToolCall != nil:
		return "tool_call"
	case b.ToolResult != nil:
		return "tool_result"
	case b.Usage != nil:
		return "usage"
	case b.Stop != nil:
		return "stop"
	case b.Err != nil:
		return "err"
	case b.SessionMeta != nil:
		return "session-meta"
	default:
		return "unknown"
	}
}

// Encode renders the event as canonical single-line JSON without a trailing
// newline; callers append '\n' themselves so Append can fsync precisely the
// bytes it wrote.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a single JSONL line into an Event.
func Decode(line []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(line, &e)
	return e, err
}

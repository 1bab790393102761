// Package agentloop implements the turn-by-turn agentic loop: replay an
// existing session, append the new prompt, drive a provider stream,
// dispatch any requested tool calls, and repeat until a terminal stop,
// pushing every observable event through a sink.ModeSink as it goes.
package agentloop

import (
	"encoding/json"

	"github.com/nautilus-run/pz/internal/eventlog"
	"github.com/nautilus-run/pz/internal/provider"
)

// history folds the session event log into the provider.Msg slice sent
// with every turn request.
type history struct {
	msgs []provider.Msg
}

func (h *history) appendUser(text string) {
	h.msgs = append(h.msgs, provider.Msg{Role: "user", Content: text})
}

func (h *history) appendAssistantText(text string) {
	h.msgs = append(h.msgs, provider.Msg{Role: "assistant", Content: text})
}

func (h *history) appendAssistantToolCall(id, name string, args json.RawMessage) {
	h.msgs = append(h.msgs, provider.Msg{
		Role: "assistant",
		ToolCalls: []provider.ToolCall{{ID: id, Name: name, Args: args}},
	})
}

func (h *history) appendToolResult(id, out string) {
	h.msgs = append(h.msgs, provider.Msg{Role: "tool", ToolCallID: id, Content: out})
}

// fold replays one stored event into the history, mirroring exactly how
// it was appended the first time the turn ran.
func (h *history) fold(e eventlog.EventBody) {
	switch {
	case e.Prompt != nil:
		h.appendUser(e.Prompt.Text)
	case e.Text != nil:
		h.appendAssistantText(e.Text.Text)
	case e.ToolCall != nil:
		h.appendAssistantToolCall(e.ToolCall.ID, e.ToolCall.Name, json.RawMessage(e.ToolCall.Args))
	case e.ToolResult != nil:
		h.appendToolResult(e.ToolResult.ID, e.ToolResult.Out)
	}
}

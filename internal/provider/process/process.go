// Package process implements the external-process provider transport:
// spawn a command, write the request as JSON to its stdin, and decode
// streaming events from its stdout — either JSONL or the compact text
// protocol. Grounded on the teacher's BashTool subprocess pattern
// (exec.CommandContext) and its SSE line reader (readSSEEvent), merged
// into a single stdout line scanner.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/nautilus-run/pz/internal/provider"
)

// Transport runs Command as a subprocess for every Start call.
type Transport struct {
	Command []string
}

// New builds a Transport that runs command (argv[0] plus args).
func New(command []string) *Transport {
	return &Transport{Command: command}
}

// wireRequest is the JSON payload written to the subprocess's stdin.
type wireRequest struct {
	Model string        `json:"model"`
	Msgs  []provider.Msg `json:"msgs"`
	Tools []wireTool    `json:"tools"`
	Opts  provider.Options `json:"opts"`
}

type wireTool struct {
	Name   string         `json:"name"`
	Desc   string         `json:"desc"`
	Schema map[string]any `json:"schema"`
}

func toWireRequest(req provider.Request) wireRequest {
	tools := make([]wireTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, wireTool{Name: t.Name, Desc: t.Desc, Schema: t.Schema})
	}
	return wireRequest{Model: req.Model, Msgs: req.Msgs, Tools: tools, Opts: req.Opts}
}

// Start launches the subprocess, feeds it the JSON request, and returns a
// Stream that decodes its stdout line by line.
func (t *Transport) Start(ctx context.Context, req provider.Request) (provider.Stream, error) {
	if len(t.Command) == 0 {
		return nil, fmt.Errorf("process transport: empty command")
	}

	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process transport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process transport: start: %w", err)
	}

	payload, err := json.Marshal(toWireRequest(req))
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("process transport: marshal request: %w", err)
	}
	go func() {
		defer stdin.Close()
		_, _ = stdin.Write(payload)
	}()

	s := &stream{
		cmd:    cmd,
		events: make(chan provider.Event, 16),
		done:   make(chan struct{}),
	}
	go s.pump(stdout, stderr)
	return s, nil
}

type stream struct {
	cmd    *exec.Cmd
	events chan provider.Event
	done   chan struct{}
	once   sync.Once
	waitOK bool
}

// pump scans stdout for events and stderr for err events concurrently,
// closing s.events once both are drained and the process exits.
func (s *stream) pump(stdout, stderr io.ReadCloser) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			event, err := decodeLine(line)
			if err != nil {
				s.events <- provider.ErrEvent(fmt.Sprintf("process transport: decode: %v", err))
				continue
			}
			s.events <- event
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				s.events <- provider.ErrEvent(line)
			}
		}
	}()

	wg.Wait()
	_ = s.cmd.Wait()
	close(s.events)
}

// decodeLine parses either a JSONL event object or the compact text
// protocol (text:<s>, thinking:<s>, tool_call:<id>|<name>|<args>,
// stop:<reason>, usage:<a>,<b>,<c>).
func decodeLine(line string) (provider.Event, error) {
	if strings.HasPrefix(line, "{") {
		var wire struct {
			Kind     string          `json:"kind"`
			Text     string          `json:"text"`
			ToolID   string          `json:"tool_id"`
			ToolName string          `json:"tool_name"`
			ToolArgs json.RawMessage `json:"tool_args"`
			ToolOut  string          `json:"tool_out"`
			IsErr    bool            `json:"is_err"`
			Stop     string          `json:"stop"`
			Usage    provider.Usage  `json:"usage"`
		}
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			return provider.Event{}, err
		}
		switch provider.EventKind(wire.Kind) {
		case provider.EventText:
			return provider.TextEvent(wire.Text), nil
		case provider.EventThinking:
			return provider.ThinkingEvent(wire.Text), nil
		case provider.EventToolCall:
			return provider.ToolCallEvent(wire.ToolID, wire.ToolName, wire.ToolArgs), nil
		case provider.EventToolResult:
			return provider.ToolResultEvent(wire.ToolID, wire.ToolOut, wire.IsErr), nil
		case provider.EventUsage:
			return provider.UsageEvent(wire.Usage), nil
		case provider.EventStop:
			return provider.StopEvent(provider.StopReason(wire.Stop)), nil
		case provider.EventErr:
			return provider.ErrEvent(wire.Text), nil
		default:
			return provider.Event{}, fmt.Errorf("unknown event kind %q", wire.Kind)
		}
	}

	kind, rest, found := strings.Cut(line, ":")
	if !found {
		return provider.Event{}, fmt.Errorf("malformed line %q", line)
	}
	switch kind {
	case "text":
		return provider.TextEvent(rest), nil
	case "thinking":
		return provider.ThinkingEvent(rest), nil
	case "stop":
		return provider.StopEvent(provider.StopReason(rest)), nil
	case "err":
		return provider.ErrEvent(rest), nil
	case "tool_call":
		parts := strings.SplitN(rest, "|", 3)
		if len(parts) != 3 {
			return provider.Event{}, fmt.Errorf("malformed tool_call line %q", line)
		}
		return provider.ToolCallEvent(parts[0], parts[1], json.RawMessage(parts[2])), nil
	case "usage":
		parts := strings.Split(rest, ",")
		if len(parts) != 3 {
			return provider.Event{}, fmt.Errorf("malformed usage line %q", line)
		}
		in, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		out, _ := strconv.Atoi(strings.TrimSpace(parts[1]))
		total, _ := strconv.Atoi(strings.TrimSpace(parts[2]))
		return provider.UsageEvent(provider.Usage{InputTokens: in, OutputTokens: out, TotalTokens: total}), nil
	default:
		return provider.Event{}, fmt.Errorf("unknown text-protocol kind %q", kind)
	}
}

// Next blocks until an event arrives, the stream ends, or ctx is done —
// ctx being canceled mid-wait never deadlocks: it simply returns ctx.Err()
// while pump continues draining in the background until the process exits.
func (s *stream) Next(ctx context.Context) (provider.Event, bool, error) {
	select {
	case e, ok := <-s.events:
		if !ok {
			return provider.Event{}, false, nil
		}
		return e, true, nil
	case <-ctx.Done():
		return provider.Event{}, false, ctx.Err()
	}
}

// Close terminates the subprocess if still running; safe to call even
// after the stream has already drained to completion.
func (s *stream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}

package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nautilus-run/pz/internal/eventlog"
)

// RPCRequest is the wire shape of one line read from stdin in rpc mode.
// Every field beyond Cmd is optional and command-specific; unknown fields
// are ignored by json.Unmarshal, matching §6's envelope tolerance.
type RPCRequest struct {
	ID          string `json:"id,omitempty"`
	Cmd         string `json:"cmd,omitempty"`
	Type        string `json:"type,omitempty"` // legacy alias source field
	Text        string `json:"text,omitempty"`
	Arg         string `json:"arg,omitempty"`
	Tools       string `json:"tools,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Session     string `json:"session,omitempty"`
	Model       string `json:"model,omitempty"`
	ModelID     string `json:"model_id,omitempty"`
	SessionPath string `json:"session_path,omitempty"`
	SID         string `json:"sid,omitempty"`
}

// commandAliases maps legacy command names onto their canonical form, per
// §4.5: "get_state→session, set_model→model, switch_session→resume,
// follow_up/steer→prompt, new_session→new, get_commands→commands".
var commandAliases = map[string]string{
	"get_state":      "session",
	"set_model":      "model",
	"switch_session": "resume",
	"follow_up":      "prompt",
	"steer":          "prompt",
	"new_session":    "new",
	"get_commands":   "commands",
}

func canonicalCommand(req RPCRequest) string {
	cmd := req.Cmd
	if cmd == "" {
		cmd = req.Type
	}
	if alias, ok := commandAliases[cmd]; ok {
		return alias
	}
	return cmd
}

// RPCSessionInfo is the payload of an rpc_session reply (command "session",
// alias "get_state"), per E6.
type RPCSessionInfo struct {
	SID          string `json:"sid"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Tools        string `json:"tools"`
	SessionDir   string `json:"session_dir"`
	SessionFile  string `json:"session_file"`
	SessionBytes int64  `json:"session_bytes"`
	SessionLines int    `json:"session_lines"`
	NoSession    bool   `json:"no_session"`
}

// RPCController is the boundary the RPC loop drives: every non-"prompt"
// command mutates loop state through it without running a turn, and
// "prompt" asks it to run exactly one turn (streaming provider/session
// events to the same sink the RPC replies go to).
type RPCController interface {
	Prompt(text string) error
	SetModel(model string) error
	SetProvider(label string) error
	SetTools(spec string) error
	NewSession() error
	Resume(selector string) error
	SessionInfo() (RPCSessionInfo, error)
	Tree() (any, error)
	Fork(dstSID string) error
	Compact() (eventlog.CompactStats, error)
	Help() []string
	Commands() []string
}

// RPC is both a ModeSink (provider/session/tool events stream out as
// JSONLines-shaped envelopes during a "prompt" command) and a request-reply
// command loop over In/Out.
type RPC struct {
	mu         sync.Mutex
	out        io.Writer
	Controller RPCController
}

func NewRPC(out io.Writer, controller RPCController) *RPC {
	return &RPC{out: out, Controller: controller}
}

func (r *RPC) Push(e ModeEvent) {
	r.writeLine(envelope{Type: string(e.Kind), Event: payloadFor(e)})
}

func (r *RPC) writeLine(v any) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.out.Write(buf.Bytes())
}

type rpcAck struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type rpcError struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

type rpcTyped struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload"`
}

// Run reads one JSON request per line from in until EOF or a quit/exit
// command, dispatching each to Controller and replying on the sink's
// output. It returns nil on a clean quit/exit or EOF.
func (r *RPC) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req RPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			r.writeLine(rpcError{Type: "rpc_error", Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}
		done, err := r.dispatch(req)
		if err != nil {
			r.writeLine(rpcError{Type: "rpc_error", ID: req.ID, Error: err.Error()})
			continue
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

// dispatch runs one command and reports whether the loop should stop
// (quit/exit).
func (r *RPC) dispatch(req RPCRequest) (bool, error) {
	cmd := canonicalCommand(req)
	switch cmd {
	case "prompt":
		if err := r.Controller.Prompt(req.Text); err != nil {
			return false, err
		}
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return false, nil

	case "model":
		model := req.Model
		if model == "" {
			model = req.ModelID
		}
		if err := r.Controller.SetModel(model); err != nil {
			return false, err
		}
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return false, nil

	case "provider":
		if err := r.Controller.SetProvider(req.Provider); err != nil {
			return false, err
		}
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return false, nil

	case "tools":
		if err := r.Controller.SetTools(req.Tools); err != nil {
			return false, err
		}
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return false, nil

	case "new":
		if err := r.Controller.NewSession(); err != nil {
			return false, err
		}
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return false, nil

	case "resume":
		selector := req.Session
		if selector == "" {
			selector = req.SessionPath
		}
		if selector == "" {
			selector = req.SID
		}
		if err := r.Controller.Resume(selector); err != nil {
			return false, err
		}
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return false, nil

	case "session":
		info, err := r.Controller.SessionInfo()
		if err != nil {
			return false, err
		}
		r.writeLine(rpcTyped{Type: "rpc_session", ID: req.ID, Payload: info})
		return false, nil

	case "tree":
		tree, err := r.Controller.Tree()
		if err != nil {
			return false, err
		}
		r.writeLine(rpcTyped{Type: "rpc_tree", ID: req.ID, Payload: tree})
		return false, nil

	case "fork":
		if err := r.Controller.Fork(req.Arg); err != nil {
			return false, err
		}
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return false, nil

	case "compact":
		stats, err := r.Controller.Compact()
		if err != nil {
			return false, err
		}
		r.writeLine(rpcTyped{Type: "rpc_compact", ID: req.ID, Payload: stats})
		return false, nil

	case "help":
		r.writeLine(rpcTyped{Type: "rpc_help", ID: req.ID, Payload: r.Controller.Help()})
		return false, nil

	case "commands":
		r.writeLine(rpcTyped{Type: "rpc_commands", ID: req.ID, Payload: r.Controller.Commands()})
		return false, nil

	case "quit", "exit":
		r.writeLine(rpcAck{Type: "rpc_ack", ID: req.ID})
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
}

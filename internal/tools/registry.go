package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call is one tool invocation as requested by a provider turn.
type Call struct {
	ID   string
	Name string
	Kind Kind
	Args json.RawMessage
}

// Handler executes one Call and returns its Result. Handlers build their
// own Out chunks (typically via BoundedWriter) and their own Final; they
// never emit start/finish themselves — the Registry does that.
//
// A non-nil error means the call could not be dispatched at all (e.g. an
// args decode failure before any output was produced); the runtime does
// not emit a finish event in that case, leaving it to the caller to
// synthesize one.
type Handler func(ctx context.Context, call Call, tc Context) (Result, error)

// Entry binds a tool's wire name and kind to its Handler, plus the
// provider-facing description and JSON Schema advertised for it.
type Entry struct {
	Name    string
	Kind    Kind
	Desc    string
	Schema  map[string]any
	Handler Handler
}

// Spec is the provider-facing {name, desc, schema} triple built once per
// run from the registry's enabled entries.
type Spec struct {
	Name   string
	Desc   string
	Schema map[string]any
}

// Specs returns the provider-facing tool specs for every entry whose kind
// is enabled in mask, in the same stable kind order as Names.
func (r *Registry) Specs(mask Mask) []Spec {
	var specs []Spec
	for k := Kind(0); k < numKinds; k++ {
		for _, e := range r.entries {
			if e.Kind == k && mask.Allows(k) {
				specs = append(specs, Spec{Name: e.Name, Desc: e.Desc, Schema: e.Schema})
			}
		}
	}
	return specs
}

// Registry is the closed set of tools a session exposes.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds a registry from entries, keyed by name.
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		r.entries[e.Name] = e
	}
	return r
}

// Lookup returns the entry for name, or false if no such tool exists.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registry's tool names, filtered to those enabled by
// mask, in a stable kind order.
func (r *Registry) Names(mask Mask) []string {
	var names []string
	for k := Kind(0); k < numKinds; k++ {
		for _, e := range r.entries {
			if e.Kind == k && mask.Allows(k) {
				names = append(names, e.Name)
			}
		}
	}
	return names
}

// Default builds the registry wired with the eight stock handlers and
// their provider-facing schemas.
func Default() *Registry {
	return NewRegistry(
		Entry{
			Name: "read", Kind: KindRead, Handler: ReadHandler,
			Desc: "Read the contents of a file from disk, optionally windowed to a line range.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string", "description": "Path to the file to read."},
					"from_line": map[string]any{"type": "integer", "description": "First line to read, 1-indexed inclusive."},
					"to_line":   map[string]any{"type": "integer", "description": "Last line to read, 1-indexed inclusive."},
				},
				"required": []string{"path"},
			},
		},
		Entry{
			Name: "write", Kind: KindWrite, Handler: WriteHandler,
			Desc: "Write text to a file, truncating it by default or appending when requested.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":   map[string]any{"type": "string", "description": "Path to the file to write. The parent directory must already exist."},
					"text":   map[string]any{"type": "string", "description": "Full text to write or append."},
					"append": map[string]any{"type": "boolean", "description": "Append to the file instead of truncating it."},
				},
				"required": []string{"path", "text"},
			},
		},
		Entry{
			Name: "bash", Kind: KindBash, Handler: BashHandler,
			Desc: "Run a shell command.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cmd": map[string]any{"type": "string", "description": "Shell command to execute."},
					"cwd": map[string]any{"type": "string", "description": "Working directory."},
					"env": map[string]any{"type": "object", "description": "Extra environment variables merged into the process environment.", "additionalProperties": map[string]any{"type": "string"}},
				},
				"required": []string{"cmd"},
			},
		},
		Entry{
			Name: "edit", Kind: KindEdit, Handler: EditHandler,
			Desc: "Replace a literal substring in a file, first occurrence or all.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Path to the file to modify."},
					"old":  map[string]any{"type": "string", "description": "The exact text to replace."},
					"new":  map[string]any{"type": "string", "description": "Replacement text."},
					"all":  map[string]any{"type": "boolean", "description": "Replace every occurrence instead of just the first."},
				},
				"required": []string{"path", "old", "new"},
			},
		},
		Entry{
			Name: "grep", Kind: KindGrep, Handler: GrepHandler,
			Desc: "Search for a literal string in files under a path.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern":     map[string]any{"type": "string", "description": "Literal search string."},
					"path":        map[string]any{"type": "string", "description": "Path to search (file or directory)."},
					"ignore_case": map[string]any{"type": "boolean", "description": "Match case-insensitively (ASCII fold)."},
					"max_results": map[string]any{"type": "integer", "description": "Maximum number of matches to return."},
				},
				"required": []string{"pattern", "path"},
			},
		},
		Entry{
			Name: "find", Kind: KindFind, Handler: FindHandler,
			Desc: "Find files and directories whose basename contains a substring.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string", "description": "Substring to match against each entry's basename."},
					"path":        map[string]any{"type": "string", "description": "Directory to search."},
					"max_results": map[string]any{"type": "integer", "description": "Maximum number of matches to return."},
				},
				"required": []string{"name", "path"},
			},
		},
		Entry{
			Name: "ls", Kind: KindLS, Handler: LSHandler,
			Desc: "List entries in a directory.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Directory path to list."},
				},
				"required": []string{"path"},
			},
		},
		Entry{
			Name: "ask", Kind: KindAsk, Handler: AskHandler,
			Desc: "Ask the operator a question and return their response.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question":       map[string]any{"type": "string", "description": "Question text to present to the operator."},
					"options":        map[string]any{"type": "array", "description": "Optional list of suggested responses.", "items": map[string]any{"type": "string"}},
					"default":        map[string]any{"type": "string", "description": "Default response if the operator submits an empty line."},
					"allow_multiple": map[string]any{"type": "boolean", "description": "Whether multiple selections are allowed."},
				},
				"required": []string{"question"},
			},
		},
	)
}

// ErrUnknownTool is returned by Run when no entry matches the call's name.
var ErrUnknownTool = fmt.Errorf("unknown tool")

// ErrKindMismatch is returned by Run when a call's Kind disagrees with the
// registry entry's Kind for that name.
var ErrKindMismatch = fmt.Errorf("tool kind mismatch")

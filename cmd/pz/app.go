package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nautilus-run/pz/internal/agentloop"
	"github.com/nautilus-run/pz/internal/clock"
	"github.com/nautilus-run/pz/internal/config"
	"github.com/nautilus-run/pz/internal/eventlog"
	"github.com/nautilus-run/pz/internal/provider"
	"github.com/nautilus-run/pz/internal/provider/native"
	"github.com/nautilus-run/pz/internal/provider/process"
	"github.com/nautilus-run/pz/internal/sink"
	"github.com/nautilus-run/pz/internal/tools"
)

const defaultSystemPrompt = "You are pz, a terminal coding agent. Use the available tools to read, edit and run code on the operator's behalf."

// app is the long-lived loop state one CLI invocation drives: current
// session, model, provider and tool selection, shared across however many
// turns the active mode runs. It implements sink.RPCController and
// interactive.Controller so every mode sink drives turns the same way.
type app struct {
	mu sync.Mutex

	ctx context.Context

	store    *eventlog.Store
	registry *tools.Registry
	sandbox  *tools.Sandbox
	gateway  *config.GatewayConfig

	sid        string
	sessionDir string
	noSession  bool

	model         string
	providerLabel string
	providerCmd   string
	toolMask      tools.Mask

	systemPrompt string
	maxTurns     int

	snk   sink.ModeSink
	clock clock.Source

	// tempDir is set when --no-session routed the store to a scratch
	// directory; Close removes it.
	tempDir string
}

// Close releases resources the app opened for itself, such as the scratch
// directory backing --no-session. Safe to call even when nothing needs
// cleanup.
func (a *app) Close() error {
	if a.tempDir == "" {
		return nil
	}
	return os.RemoveAll(a.tempDir)
}

func newApp(ctx context.Context, opts *options, settings *config.Settings, gateway *config.GatewayConfig, snk sink.ModeSink, resolved eventlog.Resolved) (*app, error) {
	store, err := eventlog.New(resolved.Dir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	sandbox := tools.NewSandbox([]string{cwd})

	mask := tools.AllKinds
	toolSpec := opts.Tools
	if toolSpec == "" {
		toolSpec = settings.Tools
	}
	switch {
	case opts.NoTools || toolSpec == "none":
		mask = tools.Mask(0)
	case toolSpec != "" && toolSpec != "all":
		mask = tools.MaskFromNames(splitCSV(toolSpec))
	}

	model := config.ResolveModel(gateway, opts.Model, settings.Model)
	providerLabel := opts.Provider
	if providerLabel == "" {
		providerLabel = settings.Provider
	}
	providerCmd := opts.ProviderCmd
	if providerCmd == "" {
		providerCmd = settings.ProviderCmd
	}

	systemPrompt := defaultSystemPrompt
	if opts.SystemPrompt != "" {
		systemPrompt = opts.SystemPrompt
	} else if settings.SystemPrompt != "" {
		systemPrompt = settings.SystemPrompt
	}
	if opts.AppendSystemPrompt != "" {
		systemPrompt = systemPrompt + "\n\n" + opts.AppendSystemPrompt
	}

	maxTurns := opts.MaxTurns
	if maxTurns == 0 {
		maxTurns = settings.MaxTurns
	}

	return &app{
		ctx:           ctx,
		store:         store,
		registry:      tools.Default(),
		sandbox:       sandbox,
		gateway:       gateway,
		sid:           resolved.SID,
		sessionDir:    resolved.Dir,
		noSession:     opts.NoSession,
		model:         model,
		providerLabel: providerLabel,
		providerCmd:   providerCmd,
		toolMask:      mask,
		systemPrompt:  systemPrompt,
		maxTurns:      maxTurns,
		snk:           snk,
		clock:         clock.System{},
	}, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// backend resolves the provider.Provider to stream turns through, per the
// provider_label precedence: an external process transport when
// providerCmd is set, else the native SDK backend named by providerLabel,
// falling back to provider.MissingProvider when nothing resolves.
func (a *app) backend() provider.Provider {
	if a.providerCmd != "" {
		return process.New(splitCommand(a.providerCmd))
	}
	switch a.providerLabel {
	case "openai":
		backend, err := native.NewOpenAIBackend("")
		if err != nil {
			return provider.MissingProvider{Reason: err.Error()}
		}
		return backend
	case "anthropic", "":
		backend, err := native.NewAnthropicBackend()
		if err != nil {
			return provider.MissingProvider{Reason: err.Error()}
		}
		return backend
	default:
		return provider.MissingProvider{Reason: fmt.Sprintf("unknown provider %q", a.providerLabel)}
	}
}

func splitCommand(cmd string) []string {
	var out []string
	cur := ""
	for _, r := range cmd {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// maskString renders a Mask as the comma-separated kind names a user would
// pass back through --tools.
func maskString(m tools.Mask) string {
	if m == tools.AllKinds {
		return "all"
	}
	if m == 0 {
		return "none"
	}
	kinds := []tools.Kind{tools.KindRead, tools.KindWrite, tools.KindBash, tools.KindEdit, tools.KindGrep, tools.KindFind, tools.KindLS, tools.KindAsk}
	var names []string
	for _, k := range kinds {
		if m.Allows(k) {
			names = append(names, k.String())
		}
	}
	return joinCSV(names)
}

func joinCSV(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

func (a *app) toolContext() tools.Context {
	return tools.Context{Sandbox: a.sandbox, Clock: a.clock, Ask: stdinAsk}
}

// stdinAsk prompts on stderr and reads a line from stdin, the non-TUI
// modes' way of satisfying the ask tool; print/json/rpc all run
// foreground with a real terminal attached to stdin.
func stdinAsk(question string, options []string) (string, error) {
	if len(options) > 0 {
		fmt.Fprintf(os.Stderr, "%s %v: ", question, options)
	} else {
		fmt.Fprintf(os.Stderr, "%s: ", question)
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) compactor() agentloop.Compactor {
	return func(sid string, nowMs int64) error {
		_, err := a.store.Compact(sid, nowMs)
		return err
	}
}

// runTurn drives exactly one agentloop.Run call for text, the shared path
// behind Prompt/Submit and the bare `pz <prompt>` invocation.
func (a *app) runTurn(text string) error {
	a.mu.Lock()
	in := agentloop.Input{
		SID:           a.sid,
		Prompt:        text,
		Model:         a.model,
		ProviderLabel: a.providerLabel,
		Provider:      a.backend(),
		Store:         a.store,
		Registry:      a.registry,
		ToolMask:      a.toolMask,
		ToolContext:   a.toolContext(),
		Sink:          a.snk,
		SystemPrompt:  a.systemPrompt,
		MaxTurns:      a.maxTurns,
		Clock:         a.clock,
		Compactor:     a.compactor(),
		CompactEvery:  20,
	}
	a.mu.Unlock()

	return agentloop.Run(a.ctx, in)
}

// --- sink.RPCController ---

func (a *app) Prompt(text string) error { return a.runTurn(text) }

func (a *app) SetModel(model string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = config.ResolveModel(a.gateway, model, "")
	return nil
}

func (a *app) SetProvider(label string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providerLabel = label
	return nil
}

func (a *app) SetTools(spec string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if spec == "none" {
		a.toolMask = tools.Mask(0)
	} else if spec == "all" || spec == "" {
		a.toolMask = tools.AllKinds
	} else {
		a.toolMask = tools.MaskFromNames(splitCSV(spec))
	}
	return nil
}

func (a *app) NewSession() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	resolved, err := resolveSID(&options{}, a.sessionDir)
	if err != nil {
		return err
	}
	a.sid = resolved.SID
	return nil
}

func (a *app) Resume(selector string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	resolved, err := resolveSID(&options{Session: selector}, a.sessionDir)
	if err != nil {
		return err
	}
	a.sid = resolved.SID
	return nil
}

func (a *app) SessionInfo() (sink.RPCSessionInfo, error) {
	a.mu.Lock()
	sid, dir := a.sid, a.sessionDir
	info := sink.RPCSessionInfo{
		SID:        sid,
		Model:      a.model,
		Provider:   a.providerLabel,
		Tools:      maskString(a.toolMask),
		SessionDir: dir,
		NoSession:  a.noSession,
	}
	a.mu.Unlock()

	path, size, lines, err := sessionFileInfo(dir, sid)
	if err != nil {
		return info, err
	}
	info.SessionFile = path
	info.SessionBytes = size
	info.SessionLines = lines
	return info, nil
}

func (a *app) Tree() (any, error) {
	a.mu.Lock()
	dir := a.sessionDir
	a.mu.Unlock()
	return eventlog.List(dir)
}

func (a *app) Fork(dstSID string) error {
	a.mu.Lock()
	sid := a.sid
	a.mu.Unlock()
	return a.store.Fork(sid, dstSID)
}

func (a *app) Compact() (eventlog.CompactStats, error) {
	a.mu.Lock()
	sid := a.sid
	clk := a.clock
	a.mu.Unlock()
	return a.store.Compact(sid, clk.NowMs())
}

func (a *app) Help() []string {
	return []string{
		"/model <name>    switch model",
		"/provider <name> switch provider",
		"/tools <spec>    switch tool exposure (csv, all, none)",
		"/new             start a fresh session",
		"/resume <id>     resume another session",
		"/session         show current session info",
		"/compact         compact the session log now",
		"/quit            exit",
	}
}

func (a *app) Commands() []string {
	return []string{"model", "provider", "tools", "new", "resume", "session", "tree", "fork", "compact", "help", "commands", "quit"}
}

// --- interactive.Controller ---

func (a *app) Submit(text string) error { return a.runTurn(text) }

func (a *app) SlashCommand(name, arg string) error {
	switch name {
	case "model":
		return a.SetModel(arg)
	case "provider":
		return a.SetProvider(arg)
	case "tools":
		return a.SetTools(arg)
	case "new":
		return a.NewSession()
	case "resume":
		return a.Resume(arg)
	case "compact":
		_, err := a.Compact()
		return err
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

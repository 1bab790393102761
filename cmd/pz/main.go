package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is the pz release reported by -V/--version.
const version = "0.1.0"

// options holds every flag from §6's CLI surface. Values are populated by
// cobra/pflag, then layered over config.Settings per the CLI > env >
// project > user precedence chain.
type options struct {
	Model              string
	Provider           string
	ProviderCmd        string
	SessionDir         string
	Session            string
	Continue           bool
	Resume             bool
	NoSession          bool
	Tools              string
	NoTools            bool
	Thinking           string
	MaxTurns           int
	SystemPrompt       string
	AppendSystemPrompt string
	ConfigPath         string
	NoConfig           bool
	WatchConfig        bool
	Verbose            bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:     "pz [prompt]",
		Short:   "pz is an interactive command-line agent",
		Version: version,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, opts, args)
		},
	}

	bindCommonFlags(root, opts)

	root.AddCommand(newPrintCommand(opts))
	root.AddCommand(newJSONCommand(opts))
	root.AddCommand(newRPCCommand(opts))

	return root
}

// bindCommonFlags binds the shared flag surface as persistent flags on the
// root command so every subcommand (print/json/rpc) inherits it.
func bindCommonFlags(cmd *cobra.Command, opts *options) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Model, "model", "", "model to use")
	flags.StringVar(&opts.Provider, "provider", "", "provider label (anthropic, openai, process)")
	flags.StringVar(&opts.ProviderCmd, "provider-cmd", "", "external process transport command")
	flags.StringVar(&opts.SessionDir, "session-dir", "", "session log directory (default ./.pz/sessions)")
	flags.StringVar(&opts.Session, "session", "", "session id, id prefix, or <dir>/<sid>.jsonl path")
	flags.BoolVarP(&opts.Continue, "continue", "c", false, "continue the most recently modified session")
	flags.BoolVarP(&opts.Resume, "resume", "r", false, "resume a specific or most recent session")
	flags.BoolVar(&opts.NoSession, "no-session", false, "run without persisting a session log")
	flags.StringVar(&opts.Tools, "tools", "", "comma-separated tool kinds, \"all\", or \"none\"")
	flags.BoolVar(&opts.NoTools, "no-tools", false, "disable all tools (equivalent to --tools none)")
	flags.StringVar(&opts.Thinking, "thinking", "off", "thinking level: off|min|low|med|high|xhigh|adaptive (parsed but not passed to any provider)")
	flags.IntVar(&opts.MaxTurns, "max-turns", 0, "maximum turns before a forced stop (0 = unlimited)")
	flags.StringVar(&opts.SystemPrompt, "system-prompt", "", "override the system prompt")
	flags.StringVar(&opts.AppendSystemPrompt, "append-system-prompt", "", "append to the system prompt in effect (default or overridden)")
	flags.StringVarP(&opts.ConfigPath, "config", "C", "", "path to a settings file, or inline JSON")
	flags.BoolVar(&opts.NoConfig, "no-config", false, "skip project/user settings files")
	flags.BoolVar(&opts.WatchConfig, "watch-config", false, "accepted but has no effect: settings are read once at startup and config.Watch is not started")
	flags.BoolVar(&opts.Verbose, "verbose", false, "include usage/tool metadata in output")
}

// exitCodeFor maps a returned error to the process exit code from §6:
// 0 OK, 1 tool/provider error, 2 arg/config error.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return 1
}

// cliError carries an explicit exit code alongside its message, for the
// user/config error class which must exit 2 rather than the default 1.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func argError(format string, args ...any) error {
	return &cliError{code: 2, err: fmt.Errorf(format, args...)}
}

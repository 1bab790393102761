package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nautilus-run/pz/internal/config"
	"github.com/nautilus-run/pz/internal/sink"
	"github.com/nautilus-run/pz/internal/sink/interactive"
)

// setup resolves the settings and the gateway config shared by every mode;
// buildApp then resolves the session directory and sid.
func setup(cmd *cobra.Command, opts *options) (*config.Settings, *config.GatewayConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("resolve working directory: %w", err)
	}

	var settings *config.Settings
	if opts.NoConfig {
		settings = &config.Settings{}
	} else if opts.ConfigPath != "" {
		settings, err = config.LoadInline(opts.ConfigPath)
	} else {
		settings, err = config.Load(cwd, os.LookupEnv)
	}
	if err != nil {
		return nil, nil, argError("load config: %w", err)
	}

	gateway, err := config.LoadGatewayConfig("")
	if err != nil && err != config.ErrGatewayConfigMissing {
		return nil, nil, argError("load gateway config: %w", err)
	}

	return settings, gateway, nil
}

func buildApp(cmd *cobra.Command, opts *options, snk sink.ModeSink) (*app, error) {
	settings, gateway, err := setup(cmd, opts)
	if err != nil {
		return nil, err
	}

	dir := resolveSessionDir(opts, settings.SessionDir)
	var tempDir string
	if opts.NoSession {
		// --no-session still needs a real directory to satisfy
		// eventlog.Store; route it to a scratch directory removed when
		// the mode function returns, so nothing durable survives the run.
		tempDir, err = os.MkdirTemp("", "pz-no-session-*")
		if err != nil {
			return nil, fmt.Errorf("create scratch session dir: %w", err)
		}
		dir = tempDir
	} else if err := ensureSessionDir(dir); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	resolved, err := resolveSID(opts, dir)
	if err != nil {
		return nil, err
	}

	a, err := newApp(cmd.Context(), opts, settings, gateway, snk, resolved)
	if err != nil {
		return nil, err
	}
	a.tempDir = tempDir
	return a, nil
}

func promptFromArgs(args []string) string {
	return strings.Join(args, " ")
}

func runInteractive(cmd *cobra.Command, opts *options, args []string) error {
	if len(args) > 0 {
		return runPrint(cmd, opts, args)
	}

	events := make(interactive.Events, 256)
	a, err := buildApp(cmd, opts, events)
	if err != nil {
		return err
	}
	defer a.Close()

	controller := a
	model := interactive.New(events, controller)
	program := tea.NewProgram(model)
	_, err = program.Run()
	return err
}

func runPrint(cmd *cobra.Command, opts *options, args []string) error {
	prompt := promptFromArgs(args)
	if prompt == "" {
		return argError("a prompt is required in print mode")
	}

	printer := sink.NewPrint(os.Stdout)
	printer.Verbose = opts.Verbose
	a, err := buildApp(cmd, opts, printer)
	if err != nil {
		return err
	}
	defer a.Close()

	if runErr := a.runTurn(prompt); runErr != nil {
		return runErr
	}
	if flushErr := printer.Flush(); flushErr != nil {
		return flushErr
	}
	if code := printer.ExitCode(); code != 0 {
		return &cliError{code: code, err: fmt.Errorf("session ended without a clean stop")}
	}
	return nil
}

func newPrintCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print [prompt]",
		Short: "run one prompt to completion and print assistant text",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrint(cmd, opts, args)
		},
	}
	return cmd
}

func newJSONCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "json [prompt]",
		Short: "run one prompt to completion, emitting newline-delimited JSON events",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := promptFromArgs(args)
			if prompt == "" {
				return argError("a prompt is required in json mode")
			}
			jsonSink := sink.NewJSONLines(os.Stdout)
			a, err := buildApp(cmd, opts, jsonSink)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.runTurn(prompt); err != nil {
				return err
			}
			if jsonSink.LastWriteErr != nil {
				return jsonSink.LastWriteErr
			}
			return nil
		},
	}
	return cmd
}

func newRPCCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "drive the agent loop over a newline-delimited JSON request/reply protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rpcSink := sink.NewRPC(os.Stdout, nil)
			a, err := buildApp(cmd, opts, rpcSink)
			if err != nil {
				return err
			}
			defer a.Close()
			rpcSink.Controller = a
			return rpcSink.Run(os.Stdin)
		},
	}
	return cmd
}

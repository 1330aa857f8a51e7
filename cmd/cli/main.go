// Command devcli is a voice and text driven developer agent. It hands a task
// to a language model and executes the file and shell tools the model asks
// for, contained in a single project directory.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	devcli --root ./project          # interactive
//	devcli run "create notes.txt"    # one task
//	devcli tools                     # list tools
//	devcli mcp                       # serve tools over MCP stdio
//	devcli serve --addr :8080        # HTTP API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/nstogner/devcli/pkg/config"
	"github.com/nstogner/devcli/pkg/mcpserver"
	"github.com/nstogner/devcli/pkg/server"
	"github.com/nstogner/devcli/pkg/telemetry"
	"github.com/spf13/cobra"
)

var version = "dev"

const defaultTraceFile = "devcli-traces.json"

type options struct {
	configFile string
	root       string
	provider   string
	model      string
	logLevel   string
	backend    string
	mute       bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "devcli",
		Short:         "DevCLI voice agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), opts)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: ~/.devcli/config.yaml)")
	flags.StringVar(&opts.root, "root", "", "project directory the tools are contained in")
	flags.StringVar(&opts.provider, "provider", "", "model provider: openai or gemini")
	flags.StringVar(&opts.model, "model", "", "model name")
	flags.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error")
	flags.StringVar(&opts.backend, "command-backend", "", "where run_command executes: host or docker")
	flags.BoolVar(&opts.mute, "mute", false, "do not speak answers")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newToolsCmd(opts))
	root.AddCommand(newMCPCmd(opts))
	root.AddCommand(newServeCmd(opts))
	return root
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts *options, needsModel bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.root != "" {
		cfg.Root = opts.root
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.backend != "" {
		cfg.Command.Backend = opts.backend
	}
	if opts.mute {
		cfg.Voice.Mute = true
	}
	if !needsModel && cfg.APIKey == "" {
		// Tool-only surfaces never call a model.
		cfg.APIKey = "unused"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads config, logging and tracing for a subcommand. The returned
// cleanup flushes traces and closes the log file. When stdoutTaken is set,
// spans that would go to stdout go to defaultTraceFile in the state
// directory instead.
func setup(opts *options, needsModel, stdoutTaken bool, defaultLog io.Writer) (*config.Config, func(), error) {
	cfg, err := loadConfig(opts, needsModel)
	if err != nil {
		return nil, nil, err
	}
	if stdoutTaken && cfg.Telemetry.Traces && cfg.Telemetry.TraceFile == "" {
		path, err := config.StatePath(defaultTraceFile)
		if err != nil {
			return nil, nil, err
		}
		cfg.Telemetry.TraceFile = path
	}
	logFile, err := setupLogging(cfg.Log, defaultLog)
	if err != nil {
		return nil, nil, err
	}
	shutdown, err := telemetry.Setup(telemetry.Config{
		Enabled: cfg.Telemetry.Traces,
		File:    cfg.Telemetry.TraceFile,
		Version: version,
	})
	if err != nil {
		logFile.Close()
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("Failed to flush traces", "error", err)
		}
		logFile.Close()
	}
	return cfg, cleanup, nil
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run TASK",
		Short: "Run a single task and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(opts, true, false, os.Stderr)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			c := newConsole(cmd.InOrStdin(), cmd.OutOrStdout(), a)
			c.runTask(ctx, strings.Join(args, " "))
			return nil
		},
	}
}

func newToolsCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(opts, false, false, os.Stderr)
			if err != nil {
				return err
			}
			defer cleanup()

			reg, closeRunner, err := newRegistry(cfg)
			if err != nil {
				return err
			}
			defer closeRunner()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.Descriptors())
			}
			fmt.Fprintf(out, "Tools contained in %s:\n", reg.Root())
			for _, d := range reg.Descriptors() {
				var params []string
				for _, p := range d.Parameters {
					params = append(params, p.Name+" "+p.Type)
				}
				fmt.Fprintf(out, "  %s(%s)\t%s\n", d.Name, strings.Join(params, ", "), d.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			cfg, cleanup, err := setup(opts, false, true, os.Stderr)
			if err != nil {
				return err
			}
			defer cleanup()

			reg, closeRunner, err := newRegistry(cfg)
			if err != nil {
				return err
			}
			defer closeRunner()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return mcpserver.New(newDispatcher(reg), version).ServeStdio(ctx)
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool and task API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(opts, true, false, os.Stderr)
			if err != nil {
				return err
			}
			defer cleanup()
			if addr == "" {
				addr = cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.runner, a.provider, cfg.Server.AllowedOrigins...)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()
			fmt.Fprintf(cmd.OutOrStdout(), "devcli listening on %s\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// runInteractive starts the TUI on a terminal and the line loop otherwise.
func runInteractive(ctx context.Context, opts *options) error {
	tty := isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())

	// The TUI owns the terminal, so logs default to a file.
	var defaultLog io.Writer = os.Stderr
	if tty {
		defaultLog = nil
	}
	cfg, cleanup, err := setup(opts, true, tty, defaultLog)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if tty {
		return runTUI(ctx, a)
	}
	return newConsole(os.Stdin, os.Stdout, a).Run(ctx)
}

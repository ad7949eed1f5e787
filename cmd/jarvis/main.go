// Jarvis is a voice and text home-automation assistant. It answers
// Home Assistant voice pipelines over Wyoming and HTTP, drives devices
// and household services through an LLM function-calling loop, and
// remembers preferences between conversations.
//
// Usage:
//
//	jarvis serve              Start the HTTP and Wyoming servers
//	jarvis ask <question>     Ask a single question
//	jarvis stats              Show memory store counts
//	jarvis forget --yes       Erase all stored memory
//	jarvis mcp                Serve the tools over MCP stdio
//	jarvis version            Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/config"
)

// main constructs the OS-level environment and delegates to [run], so
// the command tree can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	output     string
}

// run builds a fresh command tree on every call; cobra state never
// leaks between invocations.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	opts := &options{}

	root := &cobra.Command{
		Use:           "jarvis",
		Short:         "Jarvis - voice and text home-automation assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP and Wyoming servers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), stdout, opts)
			},
		},
		&cobra.Command{
			Use:   "ask <question>",
			Short: "Ask a single question",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAsk(cmd.Context(), stdout, stderr, opts, strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show memory store counts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStats(stdout, stderr, opts)
			},
		},
		newForgetCommand(stdout, stderr, opts),
		&cobra.Command{
			Use:   "mcp",
			Short: "Serve the tool registry over MCP stdio",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMCP(cmd.Context(), stderr, opts)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runVersion(stdout, opts.output)
			},
		},
	)

	return root.ExecuteContext(ctx)
}

func newForgetCommand(stdout, stderr io.Writer, opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Erase all stored preferences, facts and context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to erase memory without --yes")
			}
			return runForget(stdout, stderr, opts)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm erasing all memory")
	return cmd
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runStats prints row counts from the memory store.
func runStats(stdout, stderr io.Writer, opts *options) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	store, err := openMemory(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}
	if opts.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Fprintf(stdout, "Memory store: %s\n", cfg.MemoryPath())
	fmt.Fprintf(stdout, "  %-18s %d\n", "preferences:", stats.Preferences)
	fmt.Fprintf(stdout, "  %-18s %d\n", "facts:", stats.Facts)
	fmt.Fprintf(stdout, "  %-18s %d\n", "context entries:", stats.ContextEntries)
	fmt.Fprintf(stdout, "  %-18s %d\n", "last interactions:", stats.LastInteractions)
	return nil
}

// runForget erases every memory table.
func runForget(stdout, stderr io.Writer, opts *options) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	store, err := openMemory(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ClearAll(); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	logger.Warn("memory erased", "path", cfg.MemoryPath())
	fmt.Fprintln(stdout, "All memory erased.")
	return nil
}

// runAsk boots the agent without any front end, runs one turn and
// prints the reply. Logs go to stderr so the answer can be piped.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts *options, question string) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	reply := a.agent.Process(ctx, "cli", question)
	fmt.Fprintln(stdout, reply)
	return nil
}

// runMCP serves the tool registry on stdio. Stdout belongs to the
// protocol, so logging goes to stderr.
func runMCP(ctx context.Context, stderr io.Writer, opts *options) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	a.scheduler.Start()
	return a.mcpServer().Serve()
}

// setup loads configuration and builds the logger it asks for.
func setup(logOut io.Writer, opts *options) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(logOut, level, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("config loaded", "path", cfgPath)
	return cfg, logger, nil
}

// loadConfig locates, loads and validates the YAML configuration. A
// .env file beside it is read first so ${VAR} references resolve.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return nil, cfgPath, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"roomhistory/internal/app"
	"roomhistory/internal/config"
)

// cli carries global flag values and the runtime opened for one invocation.
type cli struct {
	configFile string
	jsonOut    bool
	verbose    bool

	cfg    config.Config
	rt     *app.Runtime
	logger *slog.Logger
}

// execute runs one invocation and always releases the runtime, including
// when a subcommand fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if closeErr := c.close(); err == nil {
		err = closeErr
	}
	return err
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "historyctl",
		Short: "Inspect and maintain whiteboard room version history",
		Long: `historyctl talks directly to the metadata and blob stores configured for
the history API. Configuration comes from environment variables and an
optional YAML file whose keys are the lower-case variable names.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "YAML config file")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "output as JSON")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(c.versionsCmd())
	root.AddCommand(c.pruneCmd())
	root.AddCommand(c.reconcileCmd())
	root.AddCommand(c.autosaveCmd())
	root.AddCommand(c.restoreCmd())
	return root
}

// setup loads config and opens the stores before any subcommand runs.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelInfo
	}
	c.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(c.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.cfg = cfg

	rt, err := app.OpenRuntime(cmd.Context(), cfg, c.logger)
	if err != nil {
		return err
	}
	c.rt = rt
	return nil
}

func (c *cli) close() error {
	if c.rt == nil {
		return nil
	}
	err := c.rt.Close()
	c.rt = nil
	return err
}

// emit writes v as indented JSON under --json, otherwise calls text.
func (c *cli) emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	if c.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(cmd.OutOrStdout())
	return nil
}

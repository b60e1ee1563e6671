package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/internal/demo"
)

// app holds the settings shared by every command.
type app struct {
	configPath string
	cfg        Config
	logger     *slog.Logger
	getenv     func(string) string
}

func newRootCmd() *cobra.Command {
	a := &app{getenv: os.Getenv}

	root := &cobra.Command{
		Use:   "stategraph",
		Short: "Run and inspect checkpointed state graphs",
		Long: `stategraph runs the bundled demo graphs against a configured checkpointer
and inspects the threads they leave behind.

Settings are read from stategraph.yaml (see --config), then STATEGRAPH_*
environment variables, then flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "stategraph.yaml", "Path to the YAML config file")
	pf.String("store", "", "Checkpointer backend: memory, sqlite, mysql, postgres, redis or mongo")
	pf.String("dsn", "", "Backend location: SQLite path, SQL DSN, Redis address or MongoDB URI")
	pf.String("log-level", "", "Log level: debug, info, warn or error")
	pf.String("log-format", "", "Log format: text or json")

	root.AddCommand(
		newListCmd(a),
		newDrawCmd(a),
		newRunCmd(a),
		newStateCmd(a),
		newUpdateCmd(a),
		newThreadsCmd(a),
	)
	return root
}

// setup resolves the configuration: file, then environment, then flags.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if err := applyEnv(&cfg, a.getenv); err != nil {
		return err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("store"); v != "" {
		cfg.Store.Backend = v
	}
	if v, _ := flags.GetString("dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func lookupDemo(name string) (demo.Demo, error) {
	d, ok := demo.Lookup(name)
	if !ok {
		return demo.Demo{}, fmt.Errorf("unknown demo %q (available: %v)", name, demo.Names())
	}
	return d, nil
}

// compile opens the configured checkpointer and compiles d against it. The
// returned function closes the checkpointer.
func (a *app) compile(ctx context.Context, d demo.Demo, opts ...graph.Option) (*graph.Graph, func(), error) {
	cp, closeStore, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := closeStore(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}

	opts = append([]graph.Option{graph.WithCheckpointer(cp)}, opts...)
	if n := a.cfg.Run.MaxConcurrency; n > 0 {
		opts = append(opts, graph.WithMaxConcurrency(n))
	}
	if n := a.cfg.Run.RecursionLimit; n > 0 {
		opts = append(opts, graph.WithRecursionLimit(n))
	}
	g, err := d.Build(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return g, cleanup, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseUpdate decodes a JSON object of channel writes.
func parseUpdate(raw string) (graph.Update, error) {
	var u graph.Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("invalid JSON update: %w", err)
	}
	return u, nil
}

type interruptOutput struct {
	Node    string `json:"node"`
	Message string `json:"message"`
}

func newInterruptOutput(intr *graph.InterruptError) *interruptOutput {
	if intr == nil {
		return nil
	}
	return &interruptOutput{Node: intr.Node, Message: intr.Message}
}

type snapshotOutput struct {
	ThreadID    string           `json:"thread_id"`
	Step        int              `json:"step"`
	Next        []string         `json:"next"`
	Interrupted bool             `json:"interrupted"`
	Interrupt   *interruptOutput `json:"interrupt,omitempty"`
	State       graph.State      `json:"state"`
}

func newSnapshotOutput(s *graph.Snapshot) snapshotOutput {
	return snapshotOutput{
		ThreadID:    s.ThreadID,
		Step:        s.Step,
		Next:        s.Next,
		Interrupted: s.Interrupted,
		Interrupt:   newInterruptOutput(s.Interrupt),
		State:       s.State,
	}
}

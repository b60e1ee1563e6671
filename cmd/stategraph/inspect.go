package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/stategraph/graph/store"
	"github.com/dshills/stategraph/internal/demo"
)

func newListCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the bundled demo graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, d := range demo.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", d.Name, d.Description)
			}
			return nil
		},
	}
}

func newDrawCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "draw <demo>",
		Short: "Print a demo graph as a Mermaid flowchart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := lookupDemo(args[0])
			if err != nil {
				return err
			}
			g, err := d.Build()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), g.Mermaid())
			return nil
		},
	}
}

func newStateCmd(a *app) *cobra.Command {
	var (
		threadID string
		history  int
	)
	cmd := &cobra.Command{
		Use:   "state <demo>",
		Short: "Show the saved state of a thread",
		Long:  `Prints the latest checkpoint of a thread, or its last N checkpoints with --history.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := lookupDemo(args[0])
			if err != nil {
				return err
			}
			g, cleanup, err := a.compile(ctx, d)
			if err != nil {
				return err
			}
			defer cleanup()

			if history > 0 {
				snaps, err := g.History(ctx, threadID, history)
				if err != nil {
					return err
				}
				out := make([]snapshotOutput, len(snaps))
				for i, s := range snaps {
					out[i] = newSnapshotOutput(s)
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			snap, err := g.GetState(ctx, threadID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("thread %q has no checkpoint", threadID)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newSnapshotOutput(snap))
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread id")
	cmd.Flags().IntVar(&history, "history", 0, "Show the last N checkpoints, newest first")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		threadID string
		values   string
	)
	cmd := &cobra.Command{
		Use:   "update <demo>",
		Short: "Write channel values into a thread without running it",
		Long: `Folds a JSON object of channel writes into the thread's saved state through
the channel reducers. A suspended thread keeps its pending round, so the next
run resumes with the new values:

  stategraph update customer-support -t T --values '{"authorized_refund": true}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := lookupDemo(args[0])
			if err != nil {
				return err
			}
			u, err := parseUpdate(values)
			if err != nil {
				return err
			}
			g, cleanup, err := a.compile(ctx, d)
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := g.UpdateState(ctx, threadID, u)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newSnapshotOutput(snap))
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread id")
	cmd.Flags().StringVar(&values, "values", "", "JSON object of channel writes")
	_ = cmd.MarkFlagRequired("thread")
	_ = cmd.MarkFlagRequired("values")
	return cmd
}

func newThreadsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List threads stored in the checkpointer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cp, closeStore, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			lister, ok := cp.(store.Lister)
			if !ok {
				return fmt.Errorf("store %q cannot list threads", a.cfg.Store.Backend)
			}
			ids, err := lister.Threads(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <thread-id>...",
		Short: "Delete every checkpoint of one or more threads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, closeStore, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			deleter, ok := cp.(store.Deleter)
			if !ok {
				return fmt.Errorf("store %q cannot delete threads", a.cfg.Store.Backend)
			}
			for _, id := range args {
				if err := deleter.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to remove %s: %w", id, err)
				}
				a.logger.Info("removed thread", "thread_id", id)
			}
			return nil
		},
	})
	return cmd
}

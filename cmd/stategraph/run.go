package main

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/emit"
)

type runOutput struct {
	ThreadID    string           `json:"thread_id"`
	Step        int              `json:"step"`
	Interrupted bool             `json:"interrupted"`
	Interrupt   *interruptOutput `json:"interrupt,omitempty"`
	State       graph.State      `json:"state"`
}

func newRunCmd(a *app) *cobra.Command {
	var (
		threadID       string
		input          string
		params         map[string]string
		recursionLimit int
		trace          bool
		metrics        bool
	)

	cmd := &cobra.Command{
		Use:   "run <demo>",
		Short: "Invoke a demo graph on a thread",
		Long: `Invokes a demo graph and prints the resulting thread state as JSON.

Without --thread a new thread id is generated. Running an interrupted thread
again resumes it; running a finished thread starts a new turn on it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := lookupDemo(args[0])
			if err != nil {
				return err
			}

			update := d.Input
			if cmd.Flags().Changed("input") {
				if update, err = parseUpdate(input); err != nil {
					return err
				}
			}
			if threadID == "" {
				threadID = uuid.NewString()
			}

			emitters := []emit.Emitter{emit.NewSlogEmitter(a.logger)}
			if trace {
				tp := newTracerProvider(a.logger)
				defer func() { _ = tp.Shutdown(ctx) }()
				emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("stategraph")))
			}
			opts := []graph.Option{graph.WithEmitter(emit.NewMultiEmitter(emitters...))}

			var reg *prometheus.Registry
			if metrics {
				reg = prometheus.NewRegistry()
				opts = append(opts, graph.WithMetrics(graph.NewPrometheusMetrics(reg)))
			}

			g, cleanup, err := a.compile(ctx, d, opts...)
			if err != nil {
				return err
			}
			defer cleanup()

			// The sample input only seeds new threads.
			if !cmd.Flags().Changed("input") {
				if _, err := g.GetState(ctx, threadID); err == nil {
					update = nil
				}
			}

			runParams := make(map[string]any, len(a.cfg.Run.Params)+len(params))
			for k, v := range a.cfg.Run.Params {
				runParams[k] = v
			}
			for k, v := range params {
				runParams[k] = v
			}

			res, err := g.Invoke(ctx, update, graph.RunConfig{
				ThreadID:       threadID,
				RecursionLimit: recursionLimit,
				Params:         runParams,
			})
			if err != nil {
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), runOutput{
				ThreadID:    res.ThreadID,
				Step:        res.Step,
				Interrupted: res.Interrupted,
				Interrupt:   newInterruptOutput(res.Interrupt),
				State:       res.State,
			}); err != nil {
				return err
			}
			if reg != nil {
				return writeMetrics(cmd.ErrOrStderr(), reg)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&threadID, "thread", "t", "", "Thread id (default: a new UUID)")
	f.StringVarP(&input, "input", "i", "", "JSON object of channel writes (default: the demo's sample input)")
	f.StringToStringVarP(&params, "param", "p", nil, "Run parameter key=value, repeatable")
	f.IntVar(&recursionLimit, "recursion-limit", 0, "Rounds allowed for this invocation (default: graph limit)")
	f.BoolVar(&trace, "trace", false, "Record OpenTelemetry spans and log them")
	f.BoolVar(&metrics, "metrics", false, "Print Prometheus metrics to stderr after the run")
	return cmd
}

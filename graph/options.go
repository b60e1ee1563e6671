package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

// DefaultRecursionLimit is the number of rounds one invocation may run when
// neither the graph nor the run config sets a limit.
const DefaultRecursionLimit = 25

// Option is a functional option for configuring a compiled Graph.
//
// Functional options provide a clean, extensible API for graph configuration:
//
//	g, err := b.Compile(
//	    graph.WithCheckpointer(store.NewMemStore()),
//	    graph.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	    graph.WithRecursionLimit(50),
//	)
type Option func(*graphConfig) error

// graphConfig collects options before they are applied to a Graph.
type graphConfig struct {
	name           string
	checkpointer   store.Checkpointer
	emitter        emit.Emitter
	metrics        *PrometheusMetrics
	recursionLimit int
	maxConcurrency int
}

func defaultConfig() graphConfig {
	return graphConfig{
		name:           "graph",
		emitter:        emit.NewNullEmitter(),
		recursionLimit: DefaultRecursionLimit,
	}
}

// WithName sets the graph name used in events, metrics and drawings.
func WithName(name string) Option {
	return func(cfg *graphConfig) error {
		if name == "" {
			return fmt.Errorf("graph name cannot be empty")
		}
		cfg.name = name
		return nil
	}
}

// WithCheckpointer persists a checkpoint after every committed round.
// Without a checkpointer, runs cannot be resumed after an interrupt.
func WithCheckpointer(cp store.Checkpointer) Option {
	return func(cfg *graphConfig) error {
		cfg.checkpointer = cp
		return nil
	}
}

// WithEmitter sets the receiver for observability events.
// Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *graphConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithLogger sends events to logger as structured records. It replaces any
// emitter set before it; use emit.NewMultiEmitter with emit.NewSlogEmitter to
// combine a logger with other emitters.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *graphConfig) error {
		cfg.emitter = emit.NewSlogEmitter(logger)
		return nil
	}
}

// WithMetrics records Prometheus metrics for every round.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *graphConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithRecursionLimit sets the default number of rounds one invocation may
// run. RunConfig.RecursionLimit overrides it per call.
//
// Default: 25.
func WithRecursionLimit(n int) Option {
	return func(cfg *graphConfig) error {
		if n <= 0 {
			return fmt.Errorf("recursion limit must be positive, got %d", n)
		}
		cfg.recursionLimit = n
		return nil
	}
}

// WithMaxConcurrency bounds how many slots of one round execute at once.
// Zero means every slot of the round runs concurrently.
func WithMaxConcurrency(n int) Option {
	return func(cfg *graphConfig) error {
		if n < 0 {
			return fmt.Errorf("max concurrency cannot be negative, got %d", n)
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// RunConfig carries per-invocation settings.
type RunConfig struct {
	// ThreadID names the checkpoint thread. Required when the graph has a
	// checkpointer.
	ThreadID string

	// RecursionLimit overrides the graph's limit for this call when positive.
	RecursionLimit int

	// Params holds free-form values nodes can read with ConfigFromContext
	// and DecodeParams.
	Params map[string]any
}

type runConfigKey struct{}

// WithRunConfig returns a context carrying cfg.
func WithRunConfig(ctx context.Context, cfg RunConfig) context.Context {
	return context.WithValue(ctx, runConfigKey{}, cfg)
}

// ConfigFromContext returns the RunConfig of the invocation executing the
// calling node. The zero RunConfig is returned outside of a run.
func ConfigFromContext(ctx context.Context) RunConfig {
	cfg, _ := ctx.Value(runConfigKey{}).(RunConfig)
	return cfg
}

// DecodeParams decodes cfg.Params into out, a pointer to a struct. Fields of
// out that have no matching param keep their current value, so callers can
// pre-populate defaults:
//
//	opts := searchOptions{MaxResults: 5}
//	if err := graph.DecodeParams(graph.ConfigFromContext(ctx), &opts); err != nil { ... }
func DecodeParams(cfg RunConfig, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(cfg.Params); err != nil {
		return fmt.Errorf("decode run params: %w", err)
	}
	return nil
}

package graph

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dshills/stategraph/graph/store"
)

// Graph is a compiled, immutable workflow. It is safe for concurrent use:
// any number of invocations on distinct threads may run at once.
//
// Invocations on the same thread must not overlap.
type Graph struct {
	name     string
	cfg      graphConfig
	channels *Registry
	index    map[string]int
	nodes    []*nodeDef
	out      []outgoing

	// startSlot is the index in out holding the edges from Start.
	startSlot int
}

// outgoing holds the edges and routers leaving one node (or Start).
type outgoing struct {
	edges     []Edge
	branches  []branch
	hasRoutes bool
}

// Result is the outcome of an invocation that did not fail.
type Result struct {
	// ThreadID is the thread the run belongs to. Runs without a checkpointer
	// and without a thread id get a generated one.
	ThreadID string

	// Step is the number of rounds committed on the thread so far.
	Step int

	// State is the final committed snapshot. For an interrupted run it is
	// the snapshot the suspended round started from.
	State State

	// Interrupted is set when a node suspended the run.
	Interrupted bool

	// Interrupt describes why the run was suspended.
	Interrupt *InterruptError
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Nodes returns node names in declaration order.
func (g *Graph) Nodes() []string {
	names := make([]string, len(g.nodes))
	for i, def := range g.nodes {
		names[i] = def.name
	}
	return names
}

// Channels returns channel names in declaration order.
func (g *Graph) Channels() []string {
	return g.channels.Names()
}

// Invoke runs the graph on cfg.ThreadID until the frontier is empty, a node
// interrupts, or a round fails.
//
// Invoke behaves the same for new and existing threads:
//   - New thread: channels start from their defaults, input is folded in
//     through the reducers, and the first round is picked from Start.
//   - Suspended or unfinished thread: input is folded into the saved
//     snapshot and the saved frontier is resumed. Slots that completed
//     before an interrupt are not run again.
//   - Finished thread: input is folded into the saved snapshot and a new
//     run starts from Start. Step numbers keep increasing.
//
// An interrupt is not an error: Invoke returns a Result with Interrupted set.
// Failures return one of CompileError, ChannelNotFoundError, ChannelTypeError,
// RoutingError, RecursionLimitError, NodeError or EngineError. A failed round
// commits nothing; the thread's last checkpoint stays resumable.
func (g *Graph) Invoke(ctx context.Context, input Update, cfg RunConfig) (*Result, error) {
	r, err := g.start(ctx, input, cfg, false)
	if err != nil {
		return nil, err
	}
	return r.loop(ctx)
}

// start prepares a run: it opens the thread, folds input in and picks the
// frontier.
func (g *Graph) start(ctx context.Context, input Update, cfg RunConfig, nested bool) (*run, error) {
	r, err := g.open(ctx, cfg, nested)
	if err != nil {
		return nil, err
	}

	if len(input) > 0 {
		values, err := g.fold(r.snap.values, input)
		if err != nil {
			return nil, err
		}
		r.snap = r.snap.withValues(values)
	}

	if len(r.frontier) == 0 {
		fb := newFrontierBuilder(g)
		if err := fb.follow(Start, &g.out[g.startSlot], r.snap); err != nil {
			return nil, err
		}
		r.frontier = fb.slots
		r.pending = nil
	}
	return r, nil
}

// open loads the thread's checkpoint, or creates a fresh snapshot holding the
// channel defaults.
func (g *Graph) open(ctx context.Context, cfg RunConfig, nested bool) (*run, error) {
	r := &run{
		g:        g,
		cfg:      cfg,
		threadID: cfg.ThreadID,
		nested:   nested,
		persist:  !nested && g.cfg.checkpointer != nil,
		limit:    g.cfg.recursionLimit,
	}
	if cfg.RecursionLimit > 0 {
		r.limit = cfg.RecursionLimit
	}

	if r.persist && r.threadID == "" {
		return nil, &EngineError{
			Message: "thread ID is required when a checkpointer is configured",
			Code:    "MISSING_THREAD_ID",
		}
	}
	if r.threadID == "" {
		r.threadID = uuid.NewString()
	}

	if r.persist {
		cp, err := g.cfg.checkpointer.Load(ctx, r.threadID)
		switch {
		case err == nil:
			if err := r.restore(cp); err != nil {
				return nil, err
			}
			return r, nil
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, &EngineError{Message: "failed to load checkpoint", Code: "STORE_ERROR", Cause: err}
		}
	}
	r.snap = State{values: g.channels.Defaults(), channels: g.channels}
	return r, nil
}

// fold applies an external update through the channel reducers.
func (g *Graph) fold(values map[string]any, update Update) (map[string]any, error) {
	writes := make(map[string][]any, len(update))
	for name, v := range update {
		if _, ok := g.channels.Spec(name); !ok {
			return nil, &ChannelNotFoundError{Channel: name}
		}
		writes[name] = []any{v}
	}
	return g.channels.merge(values, writes)
}

// Snapshot describes the saved state of a thread.
type Snapshot struct {
	ThreadID    string
	Step        int
	State       State
	Next        []string
	Interrupted bool
	Interrupt   *InterruptError
}

// GetState returns the latest saved snapshot of a thread.
func (g *Graph) GetState(ctx context.Context, threadID string) (*Snapshot, error) {
	cp, err := g.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return g.snapshot(cp)
}

// History returns up to limit saved snapshots of a thread, newest first. The
// checkpointer must implement store.HistoryReader.
func (g *Graph) History(ctx context.Context, threadID string, limit int) ([]*Snapshot, error) {
	if g.cfg.checkpointer == nil {
		return nil, errNoCheckpointer()
	}
	hr, ok := g.cfg.checkpointer.(store.HistoryReader)
	if !ok {
		return nil, &EngineError{Message: "checkpointer does not keep history", Code: "UNSUPPORTED"}
	}
	cps, err := hr.History(ctx, threadID, limit)
	if err != nil {
		return nil, &EngineError{Message: "failed to load history", Code: "STORE_ERROR", Cause: err}
	}
	out := make([]*Snapshot, 0, len(cps))
	for _, cp := range cps {
		snap, err := g.snapshot(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// UpdateState folds update into a thread's saved snapshot through the channel
// reducers, as if a node had written it, without running any node. The
// thread's frontier and step are preserved, so a suspended run resumes with
// the updated values. Updating an unknown thread creates it.
func (g *Graph) UpdateState(ctx context.Context, threadID string, update Update) (*Snapshot, error) {
	if g.cfg.checkpointer == nil {
		return nil, errNoCheckpointer()
	}
	r, err := g.open(ctx, RunConfig{ThreadID: threadID}, false)
	if err != nil {
		return nil, err
	}
	values, err := g.fold(r.snap.values, update)
	if err != nil {
		return nil, err
	}
	r.snap = r.snap.withValues(values)

	if err := r.save(ctx, r.interrupted); err != nil {
		return nil, err
	}
	return g.GetState(ctx, threadID)
}

func (g *Graph) load(ctx context.Context, threadID string) (store.Checkpoint, error) {
	if g.cfg.checkpointer == nil {
		return store.Checkpoint{}, errNoCheckpointer()
	}
	cp, err := g.cfg.checkpointer.Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Checkpoint{}, err
		}
		return store.Checkpoint{}, &EngineError{Message: "failed to load checkpoint", Code: "STORE_ERROR", Cause: err}
	}
	return cp, nil
}

func errNoCheckpointer() error {
	return &EngineError{Message: "graph has no checkpointer", Code: "NO_CHECKPOINTER"}
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/stategraph/graph/emit"
)

// slot is one scheduled execution of a node. Send slots carry a private
// input that replaces the snapshot for that execution.
type slot struct {
	node  int
	send  bool
	input map[string]any
}

// slotOutcome is what one slot produced in a round.
type slotOutcome struct {
	writes    []Update
	routes    []Next
	interrupt *InterruptError
	escape    bool
}

// run holds the mutable state of one invocation of a graph.
//
// Each round the scheduler:
//  1. Runs every frontier slot concurrently against the committed snapshot
//  2. Waits for all of them (the barrier)
//  3. Folds their writes into the channels in frontier order
//  4. Computes the next frontier from edges, routers and commands
//  5. Commits the new snapshot and saves a checkpoint
//
// A failed slot cancels its siblings and aborts the round without committing.
type run struct {
	g        *Graph
	cfg      RunConfig
	threadID string
	persist  bool
	nested   bool
	limit    int

	step     int
	snap     State
	frontier []slot
	pending  map[int]slotOutcome

	// interrupted is the interrupt that suspended the saved round, if any.
	interrupted *InterruptError

	// escaped is set when a subgraph run ended with a command for its parent.
	escaped *slotOutcome
}

// loop runs rounds until the frontier is empty, the run is interrupted, a
// command escapes to the parent graph, or a round fails.
func (r *run) loop(ctx context.Context) (*Result, error) {
	ctx = WithRunConfig(ctx, r.cfg)
	rounds := 0

	for len(r.frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(err, "cancelled")
		}
		if rounds >= r.limit {
			return nil, r.fail(&RecursionLimitError{Limit: r.limit, Step: r.step}, "recursion_limit")
		}
		rounds++

		r.g.cfg.metrics.IncRounds(r.g.name)
		r.g.cfg.metrics.SetFrontierSize(r.g.name, len(r.frontier))
		r.emit(r.step+1, "", emit.RoundStart, map[string]interface{}{
			"frontier": r.frontierNames(),
		})

		outcomes, err := r.execute(ctx)
		if err != nil {
			return nil, r.fail(err, "node_error")
		}
		if err := ctx.Err(); err != nil {
			return nil, r.fail(err, "cancelled")
		}

		if esc := escapes(outcomes); esc != nil {
			r.escaped = esc
			r.emit(r.step, "", emit.RunComplete, map[string]interface{}{"escaped": true})
			return r.result(), nil
		}

		if intr := firstInterrupt(outcomes); intr != nil {
			return r.suspend(ctx, outcomes, intr)
		}

		if err := r.commit(ctx, outcomes); err != nil {
			reason := "routing"
			var storeErr *EngineError
			if errors.As(err, &storeErr) {
				reason = "store"
			}
			return nil, r.fail(err, reason)
		}
	}

	// No round ran, so nothing has saved the input folded in by start.
	if rounds == 0 {
		if err := r.save(ctx, nil); err != nil {
			return nil, r.fail(err, "store")
		}
	}

	r.emit(r.step, "", emit.RunComplete, nil)
	return r.result(), nil
}

// execute runs the current frontier. Slots with pending writes from a
// suspended round are not run again.
func (r *run) execute(ctx context.Context) ([]slotOutcome, error) {
	outcomes := make([]slotOutcome, len(r.frontier))
	eg, egctx := errgroup.WithContext(ctx)
	if n := r.g.cfg.maxConcurrency; n > 0 {
		eg.SetLimit(n)
	}

	for i, s := range r.frontier {
		if out, ok := r.pending[i]; ok {
			outcomes[i] = out
			continue
		}
		eg.Go(func() error {
			out, err := r.runSlot(egctx, s)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// runSlot executes one slot and converts its result. Panics are recovered
// into NodeError.
func (r *run) runSlot(ctx context.Context, s slot) (out slotOutcome, err error) {
	def := r.g.nodes[s.node]
	view := r.snap
	if s.send {
		view = NewState(s.input)
	}

	step := r.step + 1
	r.emit(step, def.name, emit.NodeStart, nil)
	r.g.cfg.metrics.IncInflight(r.g.name)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = &NodeError{
				NodeID:  def.name,
				Code:    "NODE_PANIC",
				Message: fmt.Sprintf("panic: %v", rec),
			}
		}
		r.g.cfg.metrics.DecInflight(r.g.name)
		latency := time.Since(start)
		meta := map[string]interface{}{"duration_ms": latency.Milliseconds()}
		switch {
		case err != nil:
			meta["error"] = err.Error()
			r.g.cfg.metrics.RecordNodeLatency(r.g.name, def.name, latency, "error")
			r.emit(step, def.name, emit.NodeError, meta)
		case out.interrupt != nil:
			r.g.cfg.metrics.RecordNodeLatency(r.g.name, def.name, latency, "interrupted")
			r.emit(step, def.name, emit.NodeEnd, meta)
		default:
			r.g.cfg.metrics.RecordNodeLatency(r.g.name, def.name, latency, "success")
			r.emit(step, def.name, emit.NodeEnd, meta)
		}
	}()

	if def.sub != nil {
		return r.runSubgraph(ctx, def, view)
	}
	return r.interpret(def.name, def.node.Run(ctx, view))
}

// interpret converts a node result into a slot outcome.
func (r *run) interpret(name string, res NodeResult) (slotOutcome, error) {
	if res.Err != nil {
		var intr *InterruptError
		if errors.As(res.Err, &intr) {
			suspended := *intr
			if suspended.Node == "" {
				suspended.Node = name
			}
			return slotOutcome{interrupt: &suspended}, nil
		}
		return slotOutcome{}, &NodeError{
			NodeID:  name,
			Message: res.Err.Error(),
			Cause:   res.Err,
		}
	}

	if res.Route.Parent && !r.nested {
		return slotOutcome{}, &RoutingError{
			From:    name,
			Message: "command targets the parent graph but " + r.g.name + " is not nested",
		}
	}

	out := slotOutcome{routes: []Next{res.Route}, escape: res.Route.Parent}
	if len(res.Update) > 0 {
		out.writes = []Update{res.Update}
	}
	return out, nil
}

// commit folds the round's writes, computes the next frontier and saves a
// checkpoint. Nothing is committed if any step fails.
func (r *run) commit(ctx context.Context, outcomes []slotOutcome) error {
	writes, err := r.collect(outcomes)
	if err != nil {
		return err
	}
	values, err := r.g.channels.merge(r.snap.values, writes)
	if err != nil {
		return err
	}
	next := r.snap.withValues(values)

	frontier, err := r.route(outcomes, next)
	if err != nil {
		return err
	}

	r.step++
	r.snap = next
	r.frontier = frontier
	r.pending = nil

	r.interrupted = nil
	return r.save(ctx, nil)
}

// collect groups writes by channel in frontier order, rejecting writes to
// undeclared channels.
func (r *run) collect(outcomes []slotOutcome) (map[string][]any, error) {
	writes := make(map[string][]any)
	for i, out := range outcomes {
		for _, w := range out.writes {
			names := make([]string, 0, len(w))
			for name := range w {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if _, ok := r.g.channels.Spec(name); !ok {
					return nil, &ChannelNotFoundError{Channel: name, Node: r.g.nodes[r.frontier[i].node].name}
				}
				writes[name] = append(writes[name], w[name])
			}
		}
	}
	return writes, nil
}

// route computes the next frontier from the outcomes of the round.
//
// For each slot in frontier order, the node's edges and routers are followed
// (once per node per round, unless every slot of the node stopped), then the
// slot's command targets and sends are appended. Plain node targets are
// de-duplicated; sends never are.
func (r *run) route(outcomes []slotOutcome, snap State) ([]slot, error) {
	fb := newFrontierBuilder(r.g)
	followed := make(map[int]bool)

	for i, out := range outcomes {
		src := r.frontier[i].node
		name := r.g.nodes[src].name

		stop := false
		for _, rt := range out.routes {
			if rt.Terminal {
				stop = true
			}
		}
		if !stop && !followed[src] {
			followed[src] = true
			if err := fb.follow(name, &r.g.out[src], snap); err != nil {
				return nil, err
			}
		}

		for _, rt := range out.routes {
			for _, target := range rt.targets() {
				if err := fb.node(name, target); err != nil {
					return nil, err
				}
			}
			for _, s := range rt.Sends {
				if err := fb.send(name, s); err != nil {
					return nil, err
				}
			}
		}
	}
	return fb.slots, nil
}

// suspend records an interrupted round and returns control to the caller.
// The committed snapshot is unchanged; completed siblings keep their results
// as pending writes.
func (r *run) suspend(ctx context.Context, outcomes []slotOutcome, intr *InterruptError) (*Result, error) {
	// A nested run hands the interrupt to the parent node, which reports it.
	if r.nested {
		r.emit(r.step, "", emit.RunComplete, map[string]interface{}{"interrupted": true})
	} else {
		r.g.cfg.metrics.IncInterrupts(r.g.name, intr.Node)
		r.emit(r.step+1, intr.Node, emit.Interrupt, map[string]interface{}{"message": intr.Message})
	}

	r.pending = make(map[int]slotOutcome)
	for i, out := range outcomes {
		if out.interrupt == nil {
			r.pending[i] = out
		}
	}
	if _, err := r.collect(outcomes); err != nil {
		return nil, r.fail(err, "node_error")
	}
	r.interrupted = intr
	if err := r.save(ctx, intr); err != nil {
		return nil, r.fail(err, "store")
	}

	res := r.result()
	res.Interrupted = true
	res.Interrupt = intr
	return res, nil
}

// fail records a failed run and returns err.
func (r *run) fail(err error, reason string) error {
	r.g.cfg.metrics.IncFailures(r.g.name, reason)
	r.emit(r.step, "", emit.RunFailed, map[string]interface{}{
		"error":  err.Error(),
		"reason": reason,
	})
	return err
}

func (r *run) result() *Result {
	return &Result{
		ThreadID: r.threadID,
		Step:     r.step,
		State:    r.snap,
	}
}

func (r *run) frontierNames() []string {
	names := make([]string, len(r.frontier))
	for i, s := range r.frontier {
		names[i] = r.g.nodes[s.node].name
	}
	return names
}

func (r *run) emit(step int, node, msg string, meta map[string]interface{}) {
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["graph"] = r.g.name
	r.g.cfg.emitter.Emit(emit.Event{
		ThreadID: r.threadID,
		Step:     step,
		NodeID:   node,
		Msg:      msg,
		Meta:     meta,
	})
}

// escapes merges the outcomes of slots that returned a parent command.
func escapes(outcomes []slotOutcome) *slotOutcome {
	var esc *slotOutcome
	for _, out := range outcomes {
		if !out.escape {
			continue
		}
		if esc == nil {
			esc = &slotOutcome{}
		}
		esc.writes = append(esc.writes, out.writes...)
		for _, rt := range out.routes {
			rt.Parent = false
			esc.routes = append(esc.routes, rt)
		}
	}
	return esc
}

func firstInterrupt(outcomes []slotOutcome) *InterruptError {
	for _, out := range outcomes {
		if out.interrupt != nil {
			return out.interrupt
		}
	}
	return nil
}

// frontierBuilder accumulates the slots of the next round.
type frontierBuilder struct {
	g     *Graph
	slots []slot
	seen  map[int]bool
}

func newFrontierBuilder(g *Graph) *frontierBuilder {
	return &frontierBuilder{g: g, seen: make(map[int]bool)}
}

// node schedules target once per round. End schedules nothing.
func (f *frontierBuilder) node(from, target string) error {
	if target == End || target == "" {
		return nil
	}
	idx, ok := f.g.index[target]
	if !ok {
		return &RoutingError{From: from, Target: target}
	}
	if !f.seen[idx] {
		f.seen[idx] = true
		f.slots = append(f.slots, slot{node: idx})
	}
	return nil
}

// send schedules a private slot for s.
func (f *frontierBuilder) send(from string, s Send) error {
	idx, ok := f.g.index[s.Node]
	if !ok {
		return &RoutingError{From: from, Target: s.Node}
	}
	f.slots = append(f.slots, slot{node: idx, send: true, input: s.Input})
	return nil
}

// follow evaluates the edges and routers of one source against snap.
// Panicking predicates and routers are reported as routing errors.
func (f *frontierBuilder) follow(from string, o *outgoing, snap State) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &RoutingError{From: from, Message: fmt.Sprintf("router panic: %v", rec)}
		}
	}()

	for _, e := range o.edges {
		if e.When != nil && !e.When(snap) {
			continue
		}
		if err := f.node(from, e.To); err != nil {
			return err
		}
	}
	for _, br := range o.branches {
		b := br.router(snap)
		for _, target := range b.Targets {
			if err := f.node(from, br.resolve(target)); err != nil {
				return err
			}
		}
		for _, s := range b.Sends {
			if err := f.send(from, s); err != nil {
				return err
			}
		}
	}
	return nil
}

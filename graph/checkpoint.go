package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

// Checkpoint handles durable execution snapshots.

// save persists the run's committed snapshot, frontier and pending writes.
// It is a no-op for runs without a checkpointer.
func (r *run) save(ctx context.Context, intr *InterruptError) error {
	if !r.persist {
		return nil
	}

	cp, err := r.checkpoint(intr)
	if err != nil {
		return &EngineError{Message: "failed to encode checkpoint", Code: "ENCODE_ERROR", Cause: err}
	}

	start := time.Now()
	err = r.g.cfg.checkpointer.Save(ctx, cp)
	status := "success"
	if err != nil {
		status = "error"
	}
	r.g.cfg.metrics.ObserveCheckpoint(r.g.name, time.Since(start), status)
	if err != nil {
		return &EngineError{Message: "failed to save checkpoint", Code: "STORE_ERROR", Cause: err}
	}

	r.emit(r.step, "", emit.CheckpointSaved, map[string]interface{}{
		"frontier":    len(cp.Frontier),
		"interrupted": cp.Interrupted,
	})
	return nil
}

// checkpoint encodes the run into a store.Checkpoint.
func (r *run) checkpoint(intr *InterruptError) (store.Checkpoint, error) {
	values, err := r.g.channels.encodeValues(r.snap.values)
	if err != nil {
		return store.Checkpoint{}, err
	}

	cp := store.Checkpoint{
		ThreadID:  r.threadID,
		Step:      r.step,
		Values:    values,
		Frontier:  make([]store.Slot, 0, len(r.frontier)),
		Timestamp: time.Now().UTC().Round(0),
	}
	for _, s := range r.frontier {
		encoded, err := r.encodeSlot(s)
		if err != nil {
			return store.Checkpoint{}, err
		}
		cp.Frontier = append(cp.Frontier, encoded)
	}

	if intr != nil {
		cp.Interrupted = true
		cp.Interrupt = &store.InterruptRecord{Node: intr.Node, Message: intr.Message}
	}

	indices := make([]int, 0, len(r.pending))
	for i := range r.pending {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		pw, err := r.encodePending(i, r.pending[i])
		if err != nil {
			return store.Checkpoint{}, err
		}
		cp.PendingWrites = append(cp.PendingWrites, pw)
	}
	return cp, nil
}

func (r *run) encodeSlot(s slot) (store.Slot, error) {
	out := store.Slot{Node: r.g.nodes[s.node].name, Send: s.send}
	if s.send {
		data, err := json.Marshal(s.input)
		if err != nil {
			return store.Slot{}, fmt.Errorf("encode send input for %s: %w", out.Node, err)
		}
		out.Input = data
	}
	return out, nil
}

func (r *run) encodePending(i int, out slotOutcome) (store.PendingWrite, error) {
	pw := store.PendingWrite{Slot: i}
	for _, w := range out.writes {
		encoded, err := r.g.channels.encodeWrite(w)
		if err != nil {
			return store.PendingWrite{}, err
		}
		pw.Writes = append(pw.Writes, encoded)
	}
	for _, rt := range out.routes {
		route := store.Route{Goto: rt.targets(), Stop: rt.Terminal}
		for _, s := range rt.Sends {
			idx, ok := r.g.index[s.Node]
			if !ok {
				return store.PendingWrite{}, &RoutingError{Target: s.Node}
			}
			encoded, err := r.encodeSlot(slot{node: idx, send: true, input: s.Input})
			if err != nil {
				return store.PendingWrite{}, err
			}
			route.Sends = append(route.Sends, encoded)
		}
		pw.Routes = append(pw.Routes, route)
	}
	return pw, nil
}

// restore loads a checkpoint into the run.
func (r *run) restore(cp store.Checkpoint) error {
	values, err := r.g.channels.decodeValues(cp.Values)
	if err != nil {
		return &EngineError{Message: "failed to decode checkpoint", Code: "DECODE_ERROR", Cause: err}
	}
	r.snap = State{values: values, channels: r.g.channels}
	r.step = cp.Step

	r.frontier = make([]slot, 0, len(cp.Frontier))
	for _, s := range cp.Frontier {
		decoded, err := r.decodeSlot(s)
		if err != nil {
			return err
		}
		r.frontier = append(r.frontier, decoded)
	}

	if cp.Interrupted && cp.Interrupt != nil {
		r.interrupted = &InterruptError{Node: cp.Interrupt.Node, Message: cp.Interrupt.Message}
	}

	r.pending = make(map[int]slotOutcome, len(cp.PendingWrites))
	for _, pw := range cp.PendingWrites {
		if pw.Slot < 0 || pw.Slot >= len(r.frontier) {
			return &EngineError{Message: fmt.Sprintf("pending write for slot %d outside frontier", pw.Slot), Code: "DECODE_ERROR"}
		}
		out, err := r.decodePending(pw)
		if err != nil {
			return err
		}
		r.pending[pw.Slot] = out
	}
	return nil
}

func (r *run) decodeSlot(s store.Slot) (slot, error) {
	idx, ok := r.g.index[s.Node]
	if !ok {
		return slot{}, &EngineError{Message: "checkpoint references unknown node " + s.Node, Code: "DECODE_ERROR"}
	}
	out := slot{node: idx, send: s.Send}
	if s.Send && len(s.Input) > 0 {
		if err := json.Unmarshal(s.Input, &out.input); err != nil {
			return slot{}, &EngineError{Message: "failed to decode send input for " + s.Node, Code: "DECODE_ERROR", Cause: err}
		}
	}
	return out, nil
}

func (r *run) decodePending(pw store.PendingWrite) (slotOutcome, error) {
	var out slotOutcome
	for _, raw := range pw.Writes {
		w, err := r.g.channels.decodeWrite(raw)
		if err != nil {
			return slotOutcome{}, &EngineError{Message: "failed to decode pending write", Code: "DECODE_ERROR", Cause: err}
		}
		out.writes = append(out.writes, w)
	}
	for _, rt := range pw.Routes {
		next := Next{Many: rt.Goto, Terminal: rt.Stop}
		for _, s := range rt.Sends {
			decoded, err := r.decodeSlot(s)
			if err != nil {
				return slotOutcome{}, err
			}
			next.Sends = append(next.Sends, Send{Node: s.Node, Input: decoded.input})
		}
		out.routes = append(out.routes, next)
	}
	return out, nil
}

// snapshot converts a checkpoint into its public form.
func (g *Graph) snapshot(cp store.Checkpoint) (*Snapshot, error) {
	values, err := g.channels.decodeValues(cp.Values)
	if err != nil {
		return nil, &EngineError{Message: "failed to decode checkpoint", Code: "DECODE_ERROR", Cause: err}
	}
	snap := &Snapshot{
		ThreadID:    cp.ThreadID,
		Step:        cp.Step,
		State:       State{values: values, channels: g.channels},
		Interrupted: cp.Interrupted,
	}
	for _, s := range cp.Frontier {
		snap.Next = append(snap.Next, s.Node)
	}
	if cp.Interrupt != nil {
		snap.Interrupt = &InterruptError{Node: cp.Interrupt.Node, Message: cp.Interrupt.Message}
	}
	return snap, nil
}

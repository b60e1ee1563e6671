package graph

import (
	"context"
	"reflect"
)

// WithOutputs copies the listed channels from a subgraph's final snapshot
// back to the parent as the subgraph node's writes. Each channel must be
// declared by both graphs. For list channels only the items the subgraph
// appended are written back.
func WithOutputs(channels ...string) NodeOption {
	return func(d *nodeDef) {
		d.outputs = append(d.outputs, channels...)
	}
}

// runSubgraph runs a mounted graph to completion as one slot of the parent
// round.
//
// The child starts from its own defaults, seeded with the parent's values
// for channels both graphs declare. It never persists checkpoints; the
// parent's checkpoint covers it, and an interrupted subgraph runs again
// from the start when the parent resumes.
func (r *run) runSubgraph(ctx context.Context, def *nodeDef, view State) (slotOutcome, error) {
	sub := def.sub

	input := make(Update)
	for _, name := range sub.channels.Names() {
		if v, ok := view.Get(name); ok {
			input[name] = v
		}
	}

	child, err := sub.start(ctx, input, RunConfig{
		ThreadID:       r.threadID + "/" + def.name,
		RecursionLimit: r.cfg.RecursionLimit,
		Params:         r.cfg.Params,
	}, true)
	if err != nil {
		return slotOutcome{}, err
	}

	res, err := child.loop(ctx)
	if err != nil {
		return slotOutcome{}, err
	}

	if res.Interrupted {
		return slotOutcome{interrupt: &InterruptError{Node: def.name, Message: res.Interrupt.Message}}, nil
	}

	if esc := child.escaped; esc != nil {
		return *esc, nil
	}

	var out slotOutcome
	if len(def.outputs) > 0 {
		w := make(Update, len(def.outputs))
		for _, name := range def.outputs {
			v, ok := res.State.Get(name)
			if !ok {
				continue
			}
			if r.appendsBoth(sub, name) {
				// The seeded prefix is already in the parent's list.
				v = appendedSince(input[name], v)
				if v == nil {
					continue
				}
			}
			w[name] = v
		}
		out.writes = []Update{w}
	}
	return out, nil
}

// appendsBoth reports whether name is a list channel in both r's graph and sub.
func (r *run) appendsBoth(sub *Graph, name string) bool {
	parent, ok := r.g.channels.Spec(name)
	if !ok || parent.Kind != "append" {
		return false
	}
	child, ok := sub.channels.Spec(name)
	return ok && child.Kind == "append"
}

// appendedSince returns the items of final past the length of seed, or nil
// when there are none.
func appendedSince(seed, final any) any {
	fv := reflect.ValueOf(final)
	if fv.Kind() != reflect.Slice {
		return final
	}
	n := 0
	if sv := reflect.ValueOf(seed); sv.Kind() == reflect.Slice {
		n = sv.Len()
	}
	if n >= fv.Len() {
		return nil
	}
	return fv.Slice(n, fv.Len()).Interface()
}

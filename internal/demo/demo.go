// Package demo holds reference graphs that exercise the engine end to end
// without calling any model. Node bodies are small deterministic functions
// standing in for model calls.
//
// The stategraph CLI runs them by name:
//
//	stategraph run branching --input '{"which":"cd"}'
package demo

import (
	"sort"

	"github.com/dshills/stategraph/graph"
)

// Demo describes a runnable reference graph.
type Demo struct {
	// Name is the identifier used on the command line.
	Name string

	// Description is a one-line summary shown by "stategraph list".
	Description string

	// Input is the update used when the caller supplies none.
	Input graph.Update

	// Build compiles the graph with the given options.
	Build func(opts ...graph.Option) (*graph.Graph, error)
}

var registry = map[string]Demo{}

func register(d Demo) {
	registry[d.Name] = d
}

// Lookup returns the demo registered under name.
func Lookup(name string) (Demo, bool) {
	d, ok := registry[name]
	return d, ok
}

// All returns every demo sorted by name.
func All() []Demo {
	out := make([]Demo, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered demo names in sorted order.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = d.Name
	}
	return names
}

// update builds a NodeResult carrying writes only.
func update(u graph.Update) graph.NodeResult {
	return graph.NodeResult{Update: u}
}

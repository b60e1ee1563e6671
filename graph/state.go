package graph

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Update is a set of channel writes produced by a node. Keys are channel
// names; values are folded into the channel by its reducer at the end of the
// round.
type Update map[string]any

// State is an immutable snapshot of channel values.
//
// Nodes receive the snapshot committed at the end of the previous round.
// Reads return copies, so mutating a value obtained from Get never affects
// the snapshot seen by other slots or by later rounds.
//
// A slot started by a Send sees only the Send's input, not the graph's
// channels.
type State struct {
	values   map[string]any
	channels *Registry
}

// NewState builds a standalone snapshot from plain values. It is mainly useful
// for testing node functions in isolation.
func NewState(values map[string]any) State {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return State{values: cp}
}

// Get returns a copy of the named channel value and whether it is present.
func (s State) Get(name string) (any, bool) {
	v, ok := s.values[name]
	if !ok {
		return nil, false
	}
	if s.channels != nil {
		return s.channels.clone(name, v), true
	}
	copied, err := deepCopy(v)
	if err != nil {
		return v, true
	}
	return copied, true
}

// Has reports whether the named channel has a value.
func (s State) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Keys returns the names of present channels in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of present channels.
func (s State) Len() int {
	return len(s.values)
}

// Values returns a copy of every present channel value.
func (s State) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k := range s.values {
		out[k], _ = s.Get(k)
	}
	return out
}

// MarshalJSON encodes the snapshot as a JSON object of channel values.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

// Lookup returns the named channel value as T.
//
// Values that were restored from a checkpoint in a generic JSON shape (for
// example the input of a Send after resume) are converted to T through a
// JSON round-trip.
func Lookup[T any](s State, name string) (T, bool, error) {
	var zero T
	v, ok := s.Get(name)
	if !ok {
		return zero, false, nil
	}
	typed, err := convertTo[T](v)
	if err != nil {
		if typeErr, isTypeErr := err.(*ChannelTypeError); isTypeErr {
			typeErr.Channel = name
		}
		return zero, true, err
	}
	return typed, true, nil
}

// Get returns the named channel value as T, or the zero T when the channel is
// absent or holds a value of another type.
func Get[T any](s State, name string) T {
	v, _, _ := Lookup[T](s, name)
	return v
}

// withValues returns a snapshot sharing the registry of s.
func (s State) withValues(values map[string]any) State {
	return State{values: values, channels: s.channels}
}

// deepCopy creates a deep copy of v using JSON round-trip serialization.
//
// This approach works for any Go type that can be JSON-marshaled, including:
//   - Primitives (string, int, bool, float64)
//   - Structs with exported fields
//   - Slices and arrays
//   - Maps
//
// Limitations:
//   - Unexported struct fields are not copied
//   - Channels, functions, and complex types that don't marshal to JSON will fail
//   - Values typed as any come back in their generic JSON shape
func deepCopy[S any](v S) (S, error) {
	var zero S

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}

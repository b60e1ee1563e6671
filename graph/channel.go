package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ReducerFunc folds the updates written to a channel during one round into
// the channel's current value.
//
// current is nil when the channel has no value yet (no default and never
// written). updates holds every value written to the channel in the round,
// in frontier order. The reducer is called at most once per channel per
// round, and never for channels that received no writes.
type ReducerFunc func(current any, updates []any) (any, error)

// ChannelSpec describes a named channel: how writes are folded together, what
// its initial value is, and how its values are encoded for checkpoints.
//
// Use the typed constructors Overwrite, Append and Reduce to build specs. For
// untyped channels whose values are plain JSON data, use Channel.
type ChannelSpec struct {
	// Name is the channel name nodes read and write.
	Name string

	// Kind describes the reducer family ("overwrite", "append", "reduce" or "custom").
	Kind string

	reducer      ReducerFunc
	def          func() any
	decode       func(data []byte) (any, error)
	decodeUpdate func(data []byte) (any, error)
}

// HasDefault reports whether the channel is materialized with a default value
// when a thread starts.
func (c ChannelSpec) HasDefault() bool {
	return c.def != nil
}

// Default returns a fresh default value for the channel, or nil if none.
func (c ChannelSpec) Default() any {
	if c.def == nil {
		return nil
	}
	return c.def()
}

// Default wraps a constant value as a channel default factory.
//
//	graph.Overwrite("authorized", graph.Default(false))
func Default[T any](v T) func() T {
	return func() T { return v }
}

// Overwrite declares a last-write-wins channel holding values of type T.
//
// When several slots write the channel in one round, the write from the slot
// that appears last in frontier order wins. A nil write is ignored. def may be
// nil, in which case the channel is absent until first written.
func Overwrite[T any](name string, def func() T) ChannelSpec {
	spec := ChannelSpec{
		Name: name,
		Kind: "overwrite",
		reducer: func(current any, updates []any) (any, error) {
			out := current
			for _, u := range updates {
				if u == nil {
					continue
				}
				v, err := convertTo[T](u)
				if err != nil {
					return nil, err
				}
				out = v
			}
			return out, nil
		},
		decode:       decodeAs[T],
		decodeUpdate: nullableDecode(decodeAs[T]),
	}
	if def != nil {
		spec.def = func() any { return def() }
	}
	return spec
}

// Append declares a list channel of T values. Each write may be a single T or
// a []T; writes are appended in frontier order. The default is an empty list.
func Append[T any](name string) ChannelSpec {
	return ChannelSpec{
		Name: name,
		Kind: "append",
		reducer: func(current any, updates []any) (any, error) {
			var cur []T
			if current != nil {
				c, err := convertTo[[]T](current)
				if err != nil {
					return nil, err
				}
				cur = c
			}
			out := make([]T, 0, len(cur)+len(updates))
			out = append(out, cur...)
			for _, u := range updates {
				switch v := u.(type) {
				case nil:
				case []T:
					out = append(out, v...)
				case T:
					out = append(out, v)
				default:
					if list, err := convertTo[[]T](u); err == nil {
						out = append(out, list...)
						continue
					}
					item, err := convertTo[T](u)
					if err != nil {
						return nil, err
					}
					out = append(out, item)
				}
			}
			return out, nil
		},
		def: func() any { return []T{} },
		decode: func(data []byte) (any, error) {
			var v []T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			if v == nil {
				v = []T{}
			}
			return v, nil
		},
		decodeUpdate: nullableDecode(func(data []byte) (any, error) {
			var list []T
			if err := json.Unmarshal(data, &list); err == nil {
				return list, nil
			}
			return decodeAs[T](data)
		}),
	}
}

// Reduce declares a channel folded by fn. fn receives the current value (the
// zero T when the channel is empty) and every write made during the round.
func Reduce[T any](name string, fn func(current T, updates []T) T, def func() T) ChannelSpec {
	spec := ChannelSpec{
		Name: name,
		Kind: "reduce",
		reducer: func(current any, updates []any) (any, error) {
			var cur T
			if current != nil {
				c, err := convertTo[T](current)
				if err != nil {
					return nil, err
				}
				cur = c
			}
			typed := make([]T, 0, len(updates))
			for _, u := range updates {
				v, err := convertTo[T](u)
				if err != nil {
					return nil, err
				}
				typed = append(typed, v)
			}
			return fn(cur, typed), nil
		},
		decode:       decodeAs[T],
		decodeUpdate: decodeAs[T],
	}
	if def != nil {
		spec.def = func() any { return def() }
	}
	return spec
}

// Channel declares an untyped channel with a caller-supplied reducer. Values
// restored from a checkpoint are decoded as generic JSON (map[string]any,
// []any, float64, string, bool).
func Channel(name string, reducer ReducerFunc, def func() any) ChannelSpec {
	return ChannelSpec{
		Name:         name,
		Kind:         "custom",
		reducer:      reducer,
		def:          def,
		decode:       decodeAs[any],
		decodeUpdate: decodeAs[any],
	}
}

// Registry holds the channel declarations of a graph.
//
// A Registry is populated while building and is read-only once the graph is
// compiled, so it is safe for concurrent use by running invocations.
type Registry struct {
	specs map[string]ChannelSpec
	order []string
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]ChannelSpec)}
}

// Register adds a channel declaration. Names must be unique and non-empty.
func (r *Registry) Register(spec ChannelSpec) error {
	if spec.Name == "" {
		return &CompileError{Problems: []string{"channel name cannot be empty"}}
	}
	if spec.reducer == nil {
		return &CompileError{Problems: []string{"channel " + spec.Name + " has no reducer"}}
	}
	if _, exists := r.specs[spec.Name]; exists {
		return &CompileError{Problems: []string{"duplicate channel: " + spec.Name}}
	}
	if spec.decode == nil {
		spec.decode = decodeAs[any]
	}
	if spec.decodeUpdate == nil {
		spec.decodeUpdate = spec.decode
	}
	r.specs[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// Spec returns the declaration for the named channel.
func (r *Registry) Spec(name string) (ChannelSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns channel names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Defaults materializes the default value of every channel that has one.
func (r *Registry) Defaults() map[string]any {
	out := make(map[string]any, len(r.order))
	for _, name := range r.order {
		if spec := r.specs[name]; spec.def != nil {
			out[name] = spec.def()
		}
	}
	return out
}

// Apply folds updates into current using the channel's reducer.
func (r *Registry) Apply(name string, current any, updates []any) (any, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, &ChannelNotFoundError{Channel: name}
	}
	next, err := spec.reducer(current, updates)
	if err != nil {
		var typeErr *ChannelTypeError
		if errors.As(err, &typeErr) {
			typeErr.Channel = name
			return nil, typeErr
		}
		return nil, fmt.Errorf("reduce channel %s: %w", name, err)
	}
	return next, nil
}

// merge applies a set of per-channel writes to values and returns the new
// value map. Channels are reduced in sorted order so failures are reported
// deterministically.
func (r *Registry) merge(values map[string]any, writes map[string][]any) (map[string]any, error) {
	out := make(map[string]any, len(values)+len(writes))
	for k, v := range values {
		out[k] = v
	}
	names := make([]string, 0, len(writes))
	for name := range writes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		next, err := r.Apply(name, out[name], writes[name])
		if err != nil {
			return nil, err
		}
		out[name] = next
	}
	return out, nil
}

// encodeValues serializes channel values for a checkpoint.
func (r *Registry) encodeValues(values map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for name, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode channel %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// decodeValues restores channel values from a checkpoint. Values for channels
// that are no longer declared are dropped.
func (r *Registry) decodeValues(raw map[string]json.RawMessage) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for name, data := range raw {
		spec, ok := r.specs[name]
		if !ok {
			continue
		}
		v, err := spec.decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode channel %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// encodeWrite serializes a single pending write.
func (r *Registry) encodeWrite(update Update) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(update))
	for name, v := range update {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode write to %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// decodeWrite restores a pending write saved by encodeWrite.
func (r *Registry) decodeWrite(raw map[string]json.RawMessage) (Update, error) {
	out := make(Update, len(raw))
	for name, data := range raw {
		spec, ok := r.specs[name]
		if !ok {
			return nil, &ChannelNotFoundError{Channel: name}
		}
		v, err := spec.decodeUpdate(data)
		if err != nil {
			return nil, fmt.Errorf("decode write to %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// clone returns an independent copy of v using the channel's codec. If the
// value cannot be round-tripped it is returned as is.
func (r *Registry) clone(name string, v any) any {
	spec, ok := r.specs[name]
	if !ok || v == nil {
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	copied, err := spec.decode(data)
	if err != nil {
		return v
	}
	return copied
}

func decodeAs[T any](data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func nullableDecode(decode func([]byte) (any, error)) func([]byte) (any, error) {
	return func(data []byte) (any, error) {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			return nil, nil
		}
		return decode(data)
	}
}

// convertTo asserts v to T. Values that arrive in a different but
// JSON-compatible shape (for example map[string]any restored from a
// checkpoint) are converted through a JSON round-trip.
func convertTo[T any](v any) (T, error) {
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	var zero T
	if v == nil {
		return zero, nil
	}
	converted, err := reshape[T](v)
	if err != nil {
		return zero, &ChannelTypeError{
			Want: reflect.TypeFor[T]().String(),
			Got:  reflect.TypeOf(v).String(),
		}
	}
	return converted, nil
}

func reshape[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

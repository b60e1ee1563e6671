package emit

import (
	"sort"
	"sync"
)

// BufferedEmitter keeps every event in memory, grouped by thread, so tests
// can assert on what a run did:
//
//	buf := emit.NewBufferedEmitter()
//	g, _ := b.Compile(graph.WithEmitter(buf))
//	g.Invoke(ctx, input, graph.RunConfig{ThreadID: "t1"})
//	ran := buf.Nodes("t1", emit.NodeEnd)
//
// All methods are safe for concurrent use.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// Filter selects events of one thread. Zero fields match everything.
// FromStep and ToStep bound the step inclusively when positive.
type Filter struct {
	Node     string
	Msg      string
	FromStep int
	ToStep   int
}

func (f Filter) match(e Event) bool {
	switch {
	case f.Node != "" && e.NodeID != f.Node:
		return false
	case f.Msg != "" && e.Msg != f.Msg:
		return false
	case f.FromStep > 0 && e.Step < f.FromStep:
		return false
	case f.ToStep > 0 && e.Step > f.ToStep:
		return false
	}
	return true
}

// NewBufferedEmitter returns an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit records event under its thread.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
	b.mu.Unlock()
}

// GetHistory returns a copy of every event of threadID in emission order.
func (b *BufferedEmitter) GetHistory(threadID string) []Event {
	return b.Select(threadID, Filter{})
}

// Select returns the events of threadID matching f, in emission order.
func (b *BufferedEmitter) Select(threadID string, f Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Event{}
	for _, e := range b.events[threadID] {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns the Msg of every event of threadID in emission order.
func (b *BufferedEmitter) Messages(threadID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.events[threadID]))
	for _, e := range b.events[threadID] {
		out = append(out, e.Msg)
	}
	return out
}

// Nodes returns the NodeID of every msg event of threadID. Within a round
// the order follows completion, so callers comparing sets should sort.
func (b *BufferedEmitter) Nodes(threadID, msg string) []string {
	events := b.Select(threadID, Filter{Msg: msg})
	out := make([]string, 0, len(events))
	for _, e := range events {
		if e.NodeID != "" {
			out = append(out, e.NodeID)
		}
	}
	return out
}

// Threads returns the thread IDs with recorded events, sorted.
func (b *BufferedEmitter) Threads() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.events))
	for id := range b.events {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear drops the events of threadID, or of every thread when threadID is
// empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}

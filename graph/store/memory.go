package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Checkpointer.
//
// It keeps every checkpoint of every thread for the lifetime of the process.
// Designed for:
//   - Testing and development
//   - Single-process graphs
//   - Short-lived threads where persistence isn't required
//
// Checkpoints are held in encoded form, so values returned by Load never
// alias values passed to Save. MemStore is safe for concurrent use and also
// implements HistoryReader, Deleter and Lister.
//
// Limitations:
//   - Data is lost when the process terminates
//   - Memory usage grows with thread history
type MemStore struct {
	mu      sync.RWMutex
	threads map[string][]memEntry // threadID -> entries sorted by step
}

type memEntry struct {
	step int
	data []byte
}

// NewMemStore creates a new in-memory checkpointer.
//
// Example:
//
//	g, err := builder.Compile(graph.WithCheckpointer(store.NewMemStore()))
func NewMemStore() *MemStore {
	return &MemStore{threads: make(map[string][]memEntry)}
}

// Save stores cp, replacing any checkpoint with the same thread and step.
func (m *MemStore) Save(_ context.Context, cp Checkpoint) error {
	if cp.ThreadID == "" {
		return errMissingThread
	}
	data, err := encode(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.threads[cp.ThreadID]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].step >= cp.Step })
	if i < len(entries) && entries[i].step == cp.Step {
		entries[i].data = data
		return nil
	}
	entries = append(entries, memEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = memEntry{step: cp.Step, data: data}
	m.threads[cp.ThreadID] = entries
	return nil
}

// Load returns the checkpoint with the highest step of threadID.
func (m *MemStore) Load(_ context.Context, threadID string) (Checkpoint, error) {
	m.mu.RLock()
	entries := m.threads[threadID]
	if len(entries) == 0 {
		m.mu.RUnlock()
		return Checkpoint{}, ErrNotFound
	}
	data := entries[len(entries)-1].data
	m.mu.RUnlock()

	return decode(data)
}

// History returns up to limit checkpoints of threadID, newest first.
func (m *MemStore) History(_ context.Context, threadID string, limit int) ([]Checkpoint, error) {
	m.mu.RLock()
	entries := m.threads[threadID]
	n := len(entries)
	if limit > 0 && limit < n {
		n = limit
	}
	raw := make([][]byte, 0, n)
	for i := len(entries) - 1; i >= len(entries)-n; i-- {
		raw = append(raw, entries[i].data)
	}
	m.mu.RUnlock()

	out := make([]Checkpoint, 0, len(raw))
	for _, data := range raw {
		cp, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete forgets every checkpoint of threadID.
func (m *MemStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// Threads returns every thread id with a checkpoint, sorted.
func (m *MemStore) Threads(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.threads))
	for id := range m.threads {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

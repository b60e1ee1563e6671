package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested thread has no checkpoint.
var ErrNotFound = errors.New("not found")

// Checkpointer persists the latest execution snapshot of a thread.
//
// The engine calls Save after every committed round and when a run is
// interrupted, and Load when a thread is invoked again. Save may be called
// several times with the same step (an interrupt or a state update after a
// commit); the most recent save wins.
//
// Implementations can use:
//   - In-memory storage (for testing, see memory.go)
//   - Relational databases (SQLite, MySQL, PostgreSQL)
//   - Key-value stores (Redis)
//   - Document stores (MongoDB)
type Checkpointer interface {
	// Save persists cp as the latest checkpoint of cp.ThreadID.
	Save(ctx context.Context, cp Checkpoint) error

	// Load returns the latest checkpoint of threadID, or ErrNotFound.
	Load(ctx context.Context, threadID string) (Checkpoint, error)
}

// HistoryReader is implemented by checkpointers that retain every step of a
// thread, not only the latest.
type HistoryReader interface {
	// History returns up to limit checkpoints of threadID, newest first.
	// A limit of zero or less returns every checkpoint.
	History(ctx context.Context, threadID string, limit int) ([]Checkpoint, error)
}

// Deleter is implemented by checkpointers that can forget a thread.
type Deleter interface {
	Delete(ctx context.Context, threadID string) error
}

// Checkpoint is a durable snapshot of one thread between rounds.
//
// Channel values, Send inputs and pending writes are stored as JSON produced
// by each channel's codec, so a checkpoint can be stored and reloaded by any
// backend without knowing the graph's types.
type Checkpoint struct {
	// ThreadID identifies the conversation or job this checkpoint belongs to.
	ThreadID string `json:"thread_id"`

	// Step counts committed rounds across every invocation of the thread.
	Step int `json:"step"`

	// Values holds the encoded value of every present channel.
	Values map[string]json.RawMessage `json:"values"`

	// Frontier lists the slots to run in the next round, in order.
	// An empty frontier means the thread finished its last run.
	Frontier []Slot `json:"frontier"`

	// Interrupted is set when the round over Frontier was suspended.
	Interrupted bool `json:"interrupted"`

	// Interrupt describes the interrupt that suspended the round.
	Interrupt *InterruptRecord `json:"interrupt,omitempty"`

	// PendingWrites holds the results of slots that completed in the
	// suspended round. Those slots are not re-run on resume.
	PendingWrites []PendingWrite `json:"pending_writes,omitempty"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`
}

// Slot is one scheduled execution of a node.
type Slot struct {
	// Node is the node name.
	Node string `json:"node"`

	// Send marks slots started by a Send; Input is their private snapshot.
	Send bool `json:"send,omitempty"`

	// Input is the JSON-encoded input of a Send slot.
	Input json.RawMessage `json:"input,omitempty"`
}

// InterruptRecord describes a suspended round.
type InterruptRecord struct {
	Node    string `json:"node"`
	Message string `json:"message"`
}

// PendingWrite is the saved result of a completed slot in a suspended round.
type PendingWrite struct {
	// Slot is the index of the slot in the checkpoint's frontier.
	Slot int `json:"slot"`

	// Writes holds the slot's encoded channel writes.
	Writes []map[string]json.RawMessage `json:"writes,omitempty"`

	// Routes holds the slot's routing commands.
	Routes []Route `json:"routes,omitempty"`
}

// Route is a saved routing command.
type Route struct {
	Goto  []string `json:"goto,omitempty"`
	Sends []Slot   `json:"sends,omitempty"`
	Stop  bool     `json:"stop,omitempty"`
}

// encode serializes a checkpoint for byte-oriented backends.
func encode(cp Checkpoint) ([]byte, error) {
	return json.Marshal(cp)
}

// decode restores a checkpoint serialized by encode.
func decode(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// Lister is implemented by checkpointers that can enumerate their threads.
type Lister interface {
	// Threads returns the ids of every thread with at least one checkpoint,
	// sorted.
	Threads(ctx context.Context) ([]string, error)
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// errMissingThread is returned by Save for a checkpoint without a thread id.
var errMissingThread = errors.New("checkpoint has no thread id")

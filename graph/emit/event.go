package emit

// Event names emitted by the scheduler.
const (
	// RoundStart is emitted before a round runs. Meta["frontier"] lists the
	// scheduled nodes.
	RoundStart = "round_start"

	// NodeStart and NodeEnd bracket one slot execution. NodeEnd carries
	// Meta["duration_ms"].
	NodeStart = "node_start"
	NodeEnd   = "node_end"

	// NodeError is emitted when a slot fails. Meta["error"] holds the message.
	NodeError = "node_error"

	// Interrupt is emitted when a round is suspended. Meta["message"] holds
	// the interrupt message.
	Interrupt = "interrupt"

	// CheckpointSaved is emitted after a checkpoint is persisted.
	CheckpointSaved = "checkpoint_saved"

	// RunComplete and RunFailed end an invocation.
	RunComplete = "run_complete"
	RunFailed   = "run_failed"
)

// Event represents an observability event emitted during graph execution.
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr or a slog.Logger
//   - Send to OpenTelemetry
//   - Buffer in memory for tests and debugging
type Event struct {
	// ThreadID identifies the thread whose run emitted this event.
	ThreadID string

	// Step is the round number the event belongs to. Node and round events
	// carry the step the round will commit as; run events carry the last
	// committed step.
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for round-level and run-level events.
	NodeID string

	// Msg is the event name (see the constants above).
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "graph": Name of the graph
	//   - "frontier": Scheduled node names ([]string)
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "message": Interrupt message
	Meta map[string]interface{}
}

// IsError reports whether the event describes a failure.
func (e Event) IsError() bool {
	if e.Msg == NodeError || e.Msg == RunFailed {
		return true
	}
	_, ok := e.Meta["error"]
	return ok
}

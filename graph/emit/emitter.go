package emit

// Emitter receives and processes observability events from graph execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: LogEmitter (text or JSON lines), SlogEmitter (log/slog)
//   - Distributed tracing: OTelEmitter
//   - Testing: BufferedEmitter
//   - Fan-out to several backends: MultiEmitter
//
// Implementations must be safe for concurrent use: every slot of a round
// runs on its own goroutine and emits its own node events.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Implementations should not block execution and should not panic.
	Emit(event Event)
}

// MultiEmitter forwards each event to every wrapped emitter in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter fanning out to emitters. Nil entries are
// skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

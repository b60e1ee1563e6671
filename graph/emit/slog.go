package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter writes events as structured records to a slog.Logger.
//
// Error events (node_error, run_failed, or any event with Meta["error"]) are
// logged at Error level, interrupts at Warn, round and node events at Debug,
// and everything else at Info.
//
// Usage:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	g, err := builder.Compile(graph.WithEmitter(emit.NewSlogEmitter(logger)))
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates a SlogEmitter. A nil logger uses slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event.
func (s *SlogEmitter) Emit(event Event) {
	attrs := []slog.Attr{
		slog.String("thread_id", event.ThreadID),
		slog.Int("step", event.Step),
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(context.Background(), level(event), event.Msg, attrs...)
}

func level(event Event) slog.Level {
	switch {
	case event.IsError():
		return slog.LevelError
	case event.Msg == Interrupt:
		return slog.LevelWarn
	case event.Msg == RoundStart, event.Msg == NodeStart, event.Msg == NodeEnd:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

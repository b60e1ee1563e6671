package emit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestSlogEmitter_Fields verifies events are logged with thread, step, node and meta attributes.
func TestSlogEmitter_Fields(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewSlogEmitter(newJSONLogger(&buf))

	emitter.Emit(Event{
		ThreadID: "thread-001",
		Step:     3,
		NodeID:   "refund",
		Msg:      Interrupt,
		Meta:     map[string]interface{}{"message": "needs approval", "graph": "support"},
	})

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	want := map[string]interface{}{
		"msg":       "interrupt",
		"level":     "WARN",
		"thread_id": "thread-001",
		"step":      float64(3),
		"node":      "refund",
		"message":   "needs approval",
		"graph":     "support",
	}
	for k, v := range want {
		if record[k] != v {
			t.Errorf("%s = %v, want %v", k, record[k], v)
		}
	}
}

// TestSlogEmitter_Levels verifies the level chosen for each event kind.
func TestSlogEmitter_Levels(t *testing.T) {
	tests := []struct {
		event Event
		level string
	}{
		{Event{Msg: NodeError, Meta: map[string]interface{}{"error": "boom"}}, "ERROR"},
		{Event{Msg: RunFailed}, "ERROR"},
		{Event{Msg: Interrupt}, "WARN"},
		{Event{Msg: RoundStart}, "DEBUG"},
		{Event{Msg: NodeEnd}, "DEBUG"},
		{Event{Msg: RunComplete}, "INFO"},
		{Event{Msg: CheckpointSaved}, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.event.Msg, func(t *testing.T) {
			var buf bytes.Buffer
			NewSlogEmitter(newJSONLogger(&buf)).Emit(tt.event)
			if !strings.Contains(buf.String(), `"level":"`+tt.level+`"`) {
				t.Errorf("expected level %s in %s", tt.level, buf.String())
			}
		})
	}
}

// TestSlogEmitter_DefaultLogger verifies a nil logger falls back to slog.Default.
func TestSlogEmitter_DefaultLogger(t *testing.T) {
	emitter := NewSlogEmitter(nil)
	if emitter.logger == nil {
		t.Fatal("expected default logger")
	}
}

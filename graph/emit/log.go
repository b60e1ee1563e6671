package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// LogEmitter writes one line per event to a writer, either as text or as
// JSON lines. Text lines look like:
//
//	node_end thread=t1 step=2 node=b duration_ms=3 graph=research
//
// JSON lines look like:
//
//	{"event":"node_end","thread_id":"t1","step":2,"node":"b","meta":{"duration_ms":3,"graph":"research"}}
//
// Meta keys are written in sorted order. Writes are serialized, so a single
// LogEmitter can be shared by concurrent slots.
type LogEmitter struct {
	mu       sync.Mutex
	w        io.Writer
	jsonMode bool
}

type logLine struct {
	Event    string         `json:"event"`
	ThreadID string         `json:"thread_id"`
	Step     int            `json:"step"`
	Node     string         `json:"node,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// NewLogEmitter returns a LogEmitter writing to w, or to stdout when w is nil.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, jsonMode: jsonMode}
}

// Emit writes event as a single line.
func (l *LogEmitter) Emit(event Event) {
	var line string
	if l.jsonMode {
		line = formatJSON(event)
	} else {
		line = formatText(event)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, line+"\n")
}

func formatJSON(event Event) string {
	data, err := json.Marshal(logLine{
		Event:    event.Msg,
		ThreadID: event.ThreadID,
		Step:     event.Step,
		Node:     event.NodeID,
		Meta:     event.Meta,
	})
	if err != nil {
		data, _ = json.Marshal(logLine{
			Event:    event.Msg,
			ThreadID: event.ThreadID,
			Step:     event.Step,
			Node:     event.NodeID,
			Meta:     map[string]any{"error": "unencodable meta: " + err.Error()},
		})
	}
	return string(data)
}

func formatText(event Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s thread=%s step=%d", event.Msg, event.ThreadID, event.Step)
	if event.NodeID != "" {
		fmt.Fprintf(&sb, " node=%s", event.NodeID)
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, textValue(event.Meta[k]))
	}
	return sb.String()
}

// textValue renders scalars bare and everything else as JSON.
func textValue(v any) string {
	switch v := v.(type) {
	case string:
		if strings.ContainsAny(v, " \t\n\"=") {
			return fmt.Sprintf("%q", v)
		}
		return v
	case int, int64, float64, bool:
		return fmt.Sprint(v)
	case error:
		return fmt.Sprintf("%q", v.Error())
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(data)
}

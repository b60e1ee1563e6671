package demo

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/stategraph/graph"
)

// messagesChannel declares a chat history. Each write is a Message or a
// []Message. A message whose ID is already in the history replaces that turn
// in place; the rest are appended with a fresh ID when they have none.
func messagesChannel(name string) graph.ChannelSpec {
	return graph.Channel(name, mergeMessages, func() any { return []Message{} })
}

func mergeMessages(current any, updates []any) (any, error) {
	history, err := asMessages(current)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(history)+len(updates))
	out = append(out, history...)
	index := make(map[string]int, len(out))
	for i, m := range out {
		if m.ID != "" {
			index[m.ID] = i
		}
	}

	for _, u := range updates {
		msgs, err := asMessages(u)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if i, ok := index[m.ID]; ok {
				out[i] = m
				continue
			}
			index[m.ID] = len(out)
			out = append(out, m)
		}
	}
	return out, nil
}

// asMessages accepts typed values and the generic JSON shapes restored from a
// checkpoint or passed on the command line.
func asMessages(v any) ([]Message, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case Message:
		return []Message{v}, nil
	case []Message:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	var list []Message
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var one Message
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("messages: cannot use %T as a message: %w", v, err)
	}
	return []Message{one}, nil
}

package graph

import (
	"encoding/json"
	"reflect"
	"testing"
)

// TestState_GetReturnsCopies verifies mutations never leak into the snapshot.
func TestState_GetReturnsCopies(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Append[string]("items"))
	_ = r.Register(Overwrite[profile]("profile", nil))

	s := State{
		values: map[string]any{
			"items":   []string{"a", "b"},
			"profile": profile{Name: "Ada", Tags: []string{"math"}},
		},
		channels: r,
	}

	items := Get[[]string](s, "items")
	items[0] = "mutated"
	p := Get[profile](s, "profile")
	p.Tags[0] = "mutated"

	if got := Get[[]string](s, "items"); got[0] != "a" {
		t.Errorf("items mutated through Get: %v", got)
	}
	if got := Get[profile](s, "profile"); got.Tags[0] != "math" {
		t.Errorf("profile mutated through Get: %v", got)
	}
}

// TestNewState verifies standalone snapshots used for Send inputs.
func TestNewState(t *testing.T) {
	input := map[string]any{"subject": "cats", "n": 3}
	s := NewState(input)
	input["subject"] = "dogs"

	if got := Get[string](s, "subject"); got != "cats" {
		t.Errorf("subject = %q, want cats", got)
	}
	if got := Get[int](s, "n"); got != 3 {
		t.Errorf("n = %d, want 3", got)
	}
	if !s.Has("n") || s.Has("missing") {
		t.Error("Has reported wrong presence")
	}
	if got := s.Keys(); !reflect.DeepEqual(got, []string{"n", "subject"}) {
		t.Errorf("Keys = %v", got)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

// TestLookup verifies typed access and type errors.
func TestLookup(t *testing.T) {
	s := NewState(map[string]any{
		"name": "ada",
		"addr": map[string]any{"city": "London", "zip": "W1"},
	})

	addr, ok, err := Lookup[address](s, "addr")
	if err != nil || !ok {
		t.Fatalf("Lookup addr: ok=%v err=%v", ok, err)
	}
	if addr.City != "London" {
		t.Errorf("City = %q", addr.City)
	}

	_, ok, err = Lookup[string](s, "missing")
	if ok || err != nil {
		t.Errorf("missing: ok=%v err=%v", ok, err)
	}

	_, ok, err = Lookup[int](s, "name")
	if !ok {
		t.Error("expected name to be present")
	}
	typeErr, isTypeErr := err.(*ChannelTypeError)
	if !isTypeErr || typeErr.Channel != "name" {
		t.Errorf("expected ChannelTypeError for name, got %v", err)
	}
	if got := Get[int](s, "name"); got != 0 {
		t.Errorf("Get on mismatched type = %d, want 0", got)
	}
}

// TestState_MarshalJSON verifies snapshots encode as plain objects.
func TestState_MarshalJSON(t *testing.T) {
	s := NewState(map[string]any{"a": 1, "b": []string{"x"}})
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"a":1,"b":["x"]}` {
		t.Errorf("Marshal = %s", data)
	}

	values := s.Values()
	if len(values) != 2 {
		t.Errorf("Values = %v", values)
	}
}

// TestDeepCopy verifies the JSON-based copy helper.
func TestDeepCopy(t *testing.T) {
	orig := profile{Name: "Ada", Tags: []string{"a"}}
	copied, err := deepCopy(orig)
	if err != nil {
		t.Fatalf("deepCopy: %v", err)
	}
	copied.Tags[0] = "b"
	if orig.Tags[0] != "a" {
		t.Error("deepCopy shared slice storage")
	}

	if _, err := deepCopy[any](func() {}); err == nil {
		t.Error("expected error copying a func")
	}
}

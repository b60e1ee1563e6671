package graph

import (
	"strings"
	"testing"
)

// TestMermaid verifies the flowchart lists nodes and draws each route kind.
func TestMermaid(t *testing.T) {
	cb := NewBuilder()
	_ = cb.AddNode("inner", noop())
	_ = cb.StartAt("inner")
	child := mustCompile(t, cb)

	b := NewBuilder(Overwrite[bool]("ok", Default(true)))
	_ = b.AddNode("plan", noop())
	_ = b.AddNode("work-item", noop())
	_ = b.AddNode("review", noop(), WithEnds("plan"))
	_ = b.AddSubgraph("nested", child)
	_ = b.AddNode("free", noop())
	_ = b.StartAt("plan")
	_ = b.Connect("plan", "work-item", func(s State) bool { return Get[bool](s, "ok") })
	_ = b.AddConditionalEdges("plan", func(State) Branch { return To("review") }, WithTargets("review", End))
	_ = b.AddEdge("work-item", "nested")
	_ = b.AddConditionalEdges("nested", func(State) Branch { return To(End) })
	g := mustCompile(t, b, WithName("pipeline"))

	out := g.Mermaid()
	for _, want := range []string{
		"title: pipeline",
		"graph TD;",
		"\tstart([__start__]):::first\n",
		"\tend_([__end__]):::last\n",
		"\twork_item(work-item)\n",
		"\tnested(nested (subgraph))\n",
		"\tstart --> plan;\n",
		"\tplan -.-> work_item;\n",
		"\tplan -.-> end_;\n",
		"\tplan -.-> review;\n",
		"\twork_item --> nested;\n",
		"\treview -.-> plan;\n",
		"\tnested -.-> unknown;\n",
		"\tfree --> end_;\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("diagram missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "review --> end_") {
		t.Errorf("node with declared ends drew an implicit end edge:\n%s", out)
	}
	if strings.Count(out, "\tplan -.-> review;\n") != 1 {
		t.Errorf("duplicate edge lines:\n%s", out)
	}
}

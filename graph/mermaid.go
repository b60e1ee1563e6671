package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Mermaid renders the graph topology as a Mermaid flowchart.
//
// Unconditional edges are drawn solid; predicate edges, router targets and
// command targets declared with WithEnds are drawn dotted. Routers without
// target hints are drawn to a "?" node.
func (g *Graph) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("---\ntitle: " + g.name + "\n---\n")
	sb.WriteString("graph TD;\n")
	sb.WriteString("\t" + mermaidID(Start) + "([" + Start + "]):::first\n")
	for _, def := range g.nodes {
		label := def.name
		if def.sub != nil {
			label += " (subgraph)"
		}
		sb.WriteString(fmt.Sprintf("\t%s(%s)\n", mermaidID(def.name), label))
	}
	sb.WriteString("\t" + mermaidID(End) + "([" + End + "]):::last\n")

	seen := make(map[string]bool)
	line := func(from, to string, dotted bool) {
		arrow := "-->"
		if dotted {
			arrow = "-.->"
		}
		l := fmt.Sprintf("\t%s %s %s;\n", mermaidID(from), arrow, mermaidID(to))
		if !seen[l] {
			seen[l] = true
			sb.WriteString(l)
		}
	}

	sources := append([]string{Start}, g.Nodes()...)
	for i, from := range sources {
		o := &g.out[g.startSlot]
		if i > 0 {
			o = &g.out[i-1]
		}
		for _, e := range o.edges {
			line(from, e.To, e.When != nil)
		}
		for _, br := range o.branches {
			possible := br.possible()
			if possible == nil {
				line(from, "?", true)
				continue
			}
			sort.Strings(possible)
			for _, to := range possible {
				line(from, to, true)
			}
		}
		if i == 0 {
			continue
		}
		def := g.nodes[i-1]
		for _, to := range def.ends {
			line(from, to, true)
		}
		if !o.hasRoutes && len(def.ends) == 0 {
			line(from, End, false)
		}
	}

	sb.WriteString("\tclassDef default fill:#f2f0ff,line-height:1.2\n")
	sb.WriteString("\tclassDef first fill-opacity:0\n")
	sb.WriteString("\tclassDef last fill:#bfb6fc\n")
	return sb.String()
}

func mermaidID(name string) string {
	switch name {
	case Start:
		return "start"
	case End:
		return "end_"
	case "?":
		return "unknown"
	}
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(name)
}

package graph

import (
	"fmt"
	"io"
	"strings"
)

// DOTOptions controls the Graphviz export.
type DOTOptions struct {
	// AllActions includes optional and unrunnable actions that are normally
	// filtered from the rendering.
	AllActions bool
}

// WriteDOT renders the graph in Graphviz DOT form for external tooling.
// Nodes are styled by action kind and status, edges by constraint
// satisfaction. The export is diagnostic only and has no effect on dispatch.
func (g *Graph) WriteDOT(w io.Writer, opts DOTOptions) error {
	var sb strings.Builder

	sb.WriteString("digraph \"transition\" {\n")
	for _, a := range g.actions {
		style, color, font := dotNodeStyle(a)
		if color == "" && !opts.AllActions {
			continue
		}
		if color == "" {
			color = "blue"
		}
		fmt.Fprintf(&sb, "  \"%s\" [ style=%s color=\"%s\" fontcolor=\"%s\" ]\n",
			a.Name(), style, color, font)
	}

	for _, e := range g.edges {
		if e.Kind == KindNone {
			continue
		}
		succ := g.Action(e.To)
		if succ != nil && succ.Pseudo && e.Kind == KindFenceStop {
			continue
		}
		style := "dashed"
		if e.Satisfied {
			style = "bold"
		}
		pred := g.Action(e.From)
		fmt.Fprintf(&sb, "  \"%s\" -> \"%s\" [ style=%s ]\n",
			pred.Name(), succ.Name(), style)
	}
	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// dotNodeStyle returns (style, color, fontcolor). An empty color means the
// node is filtered unless AllActions is set.
func dotNodeStyle(a *Action) (string, string, string) {
	font := "black"
	if a.Pseudo {
		font = "orange"
	}
	switch {
	case a.Status == StatusConfirmed || a.Status == StatusDispatched:
		return "bold", "green", font
	case a.Status == StatusFailed:
		return "solid", "red", font
	case !a.Runnable:
		return "solid", "red", "purple"
	case a.Optional:
		// Filtered by default.
		return "dashed", "", font
	default:
		return "dashed", "blue", font
	}
}

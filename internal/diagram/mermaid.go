package diagram

import (
	"fmt"
	"sort"
	"strings"
)

// RenderMermaid renders model as a Mermaid flowchart.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	dir := model.Direction
	if dir == "" {
		dir = DirectionLR
	}
	fmt.Fprintf(&b, "flowchart %s\n", dir)
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	ids := make(map[string]string, len(model.Nodes))
	for i, n := range model.Nodes {
		ids[n.ID] = fmt.Sprintf("n%d", i)
	}

	for i, g := range model.Groups {
		fmt.Fprintf(&b, "    subgraph g%d[%q]\n", i, g.Name)
		for _, n := range model.NodesIn(i) {
			fmt.Fprintf(&b, "        %s\n", mermaidNodeDef(ids[n.ID], n))
		}
		b.WriteString("    end\n")
	}
	for _, n := range model.NodesIn(-1) {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(ids[n.ID], n))
	}

	for _, e := range model.Edges {
		label := ""
		if e.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscape(e.Label))
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", ids[e.From], label, ids[e.To])
	}

	classes := make(map[string]string)
	for _, n := range model.Nodes {
		if n.Color != "" {
			classes[n.Kind] = n.Color
		}
	}
	if len(classes) > 0 {
		names := make([]string, 0, len(classes))
		for k := range classes {
			names = append(names, k)
		}
		sort.Strings(names)

		b.WriteString("\n")
		for _, k := range names {
			fmt.Fprintf(&b, "    classDef %s fill:%s,color:#fff\n", k, classes[k])
		}
		for _, n := range model.Nodes {
			if n.Color != "" {
				fmt.Fprintf(&b, "    class %s %s\n", ids[n.ID], n.Kind)
			}
		}
	}

	return b.String()
}

// mermaidNodeDef returns a node definition whose shape approximates the graphviz shape.
func mermaidNodeDef(id string, n *Node) string {
	label := fmt.Sprintf("%q", mermaidEscape(n.Label)+" ("+n.Kind+")")

	switch n.Shape {
	case "cylinder":
		return fmt.Sprintf("%s[(%s)]", id, label)
	case "diamond":
		return fmt.Sprintf("%s{%s}", id, label)
	case "hexagon":
		return fmt.Sprintf("%s{{%s}}", id, label)
	case "ellipse":
		return fmt.Sprintf("%s([%s])", id, label)
	case "component", "box3d":
		return fmt.Sprintf("%s[[%s]]", id, label)
	case "folder", "tab":
		return fmt.Sprintf("%s[/%s/]", id, label)
	default:
		return fmt.Sprintf("%s[%s]", id, label)
	}
}

func mermaidEscape(s string) string {
	return strings.NewReplacer(`"`, "'", "|", "/", "\n", " ").Replace(s)
}

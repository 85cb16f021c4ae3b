package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderGraphviz lays out model with dot and encodes it as format.
func RenderGraphviz(ctx context.Context, model *Model, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	if model.Direction == DirectionTB {
		graph.SetRankDir(cgraph.TBRank)
	} else {
		graph.SetRankDir(cgraph.LRRank)
	}
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	subs := make([]*cgraph.Graph, len(model.Groups))
	for i, g := range model.Groups {
		sub, err := graph.CreateSubGraphByName(fmt.Sprintf("cluster_%d", i))
		if err != nil {
			return nil, fmt.Errorf("diagram: create cluster %q: %w", g.Name, err)
		}
		sub.SetLabel(g.Name)
		sub.SetStyle(cgraph.DashedGraphStyle)
		subs[i] = sub
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, n := range model.Nodes {
		parent := graph
		if n.Group >= 0 {
			parent = subs[n.Group]
		}
		gvNode, err := parent.CreateNodeByName(n.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", n.ID, err)
		}
		gvNode.SetLabel(n.Label + "\n(" + n.Kind + ")")
		applyNodeStyle(gvNode, n)
		gvNodes[n.ID] = gvNode
	}

	for _, e := range model.Edges {
		from, to := gvNodes[e.From], gvNodes[e.To]
		if from == nil || to == nil {
			return nil, fmt.Errorf("diagram: edge %s -> %s references a missing node", e.From, e.To)
		}
		edge, err := graph.CreateEdgeByName("", from, to)
		if err != nil {
			return nil, fmt.Errorf("diagram: create edge %s -> %s: %w", e.From, e.To, err)
		}
		if e.Label != "" {
			edge.SetLabel(e.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, format, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes from the resolved kind.
func applyNodeStyle(gvNode *cgraph.Node, n *Node) {
	shape := n.Shape
	if shape == "" {
		shape = "box"
	}
	gvNode.SetShape(cgraph.Shape(shape))

	if n.Color != "" {
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor(n.Color)
		gvNode.SetFontColor("white")
	}
}

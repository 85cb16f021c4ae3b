package diagram

// Direction is the graphviz rank direction.
type Direction string

const (
	DirectionLR Direction = "LR"
	DirectionTB Direction = "TB"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title     string
	Direction Direction
	Nodes     []*Node
	Edges     []Edge
	Groups    []Group
}

// Node is a specification node resolved against the vocabulary.
type Node struct {
	ID    string
	Label string
	Kind  string
	Shape string
	Color string
	Group int // index into Model.Groups, or -1
}

// Edge is a connection between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Group is a named cluster of nodes.
type Group struct {
	Name    string
	Members []string
}

// NodesIn returns the nodes of group i in model order.
func (m *Model) NodesIn(i int) []*Node {
	var out []*Node
	for _, n := range m.Nodes {
		if n.Group == i {
			out = append(out, n)
		}
	}
	return out
}

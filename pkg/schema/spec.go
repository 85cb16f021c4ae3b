package schema

import (
	"encoding/json"
	"maps"
	"slices"
)

// Node is a single architecture component. ID is unique within a specification
// and Kind must belong to the registered vocabulary.
type Node struct {
	ID         string         `json:"name"`
	Kind       string         `json:"type"`
	Label      string         `json:"label,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// DisplayLabel returns Label, falling back to ID.
func (n Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Connection is a directed edge between two node ids.
type Connection struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// IsSelfLoop reports whether both endpoints are the same node.
func (c Connection) IsSelfLoop() bool {
	return c.From == c.To
}

// Cluster groups node ids under a shared name.
type Cluster struct {
	Name    string   `json:"name"`
	Members []string `json:"nodes"`
}

// Specification is the immutable aggregate of nodes, connections and clusters.
// Node order is render order. Construct with NewSpecification; accessors return copies.
type Specification struct {
	nodes       []Node
	connections []Connection
	clusters    []Cluster
}

// NewSpecification builds a Specification from copies of the given slices.
func NewSpecification(nodes []Node, connections []Connection, clusters []Cluster) *Specification {
	s := &Specification{
		nodes:       make([]Node, len(nodes)),
		connections: slices.Clone(connections),
		clusters:    make([]Cluster, len(clusters)),
	}
	for i, n := range nodes {
		n.Properties = maps.Clone(n.Properties)
		s.nodes[i] = n
	}
	for i, c := range clusters {
		c.Members = slices.Clone(c.Members)
		s.clusters[i] = c
	}
	if s.connections == nil {
		s.connections = []Connection{}
	}
	return s
}

// Nodes returns the nodes in render order.
func (s *Specification) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		n.Properties = maps.Clone(n.Properties)
		out[i] = n
	}
	return out
}

// Connections returns the connections in declaration order.
func (s *Specification) Connections() []Connection {
	return slices.Clone(s.connections)
}

// Clusters returns the clusters in declaration order.
func (s *Specification) Clusters() []Cluster {
	out := make([]Cluster, len(s.clusters))
	for i, c := range s.clusters {
		c.Members = slices.Clone(c.Members)
		out[i] = c
	}
	return out
}

func (s *Specification) NodeCount() int       { return len(s.nodes) }
func (s *Specification) ConnectionCount() int { return len(s.connections) }
func (s *Specification) ClusterCount() int    { return len(s.clusters) }

// IsEmpty reports whether the specification has no nodes.
func (s *Specification) IsEmpty() bool {
	return len(s.nodes) == 0
}

// Node returns the first node with the given id.
func (s *Specification) Node(id string) (Node, bool) {
	for _, n := range s.nodes {
		if n.ID == id {
			n.Properties = maps.Clone(n.Properties)
			return n, true
		}
	}
	return Node{}, false
}

// ConnectionsFrom returns connections whose source is id.
func (s *Specification) ConnectionsFrom(id string) []Connection {
	var out []Connection
	for _, c := range s.connections {
		if c.From == id {
			out = append(out, c)
		}
	}
	return out
}

// ConnectionsTo returns connections whose target is id.
func (s *Specification) ConnectionsTo(id string) []Connection {
	var out []Connection
	for _, c := range s.connections {
		if c.To == id {
			out = append(out, c)
		}
	}
	return out
}

// ClusterOf returns the name of the first cluster listing id as a member.
func (s *Specification) ClusterOf(id string) (string, bool) {
	for _, c := range s.clusters {
		if slices.Contains(c.Members, id) {
			return c.Name, true
		}
	}
	return "", false
}

// References reports whether id appears anywhere in the specification:
// as a node, a connection endpoint or a cluster member.
func (s *Specification) References(id string) bool {
	if _, ok := s.Node(id); ok {
		return true
	}
	for _, c := range s.connections {
		if c.From == id || c.To == id {
			return true
		}
	}
	_, ok := s.ClusterOf(id)
	return ok
}

// wireSpecification is the JSON shape exchanged with generators and callers.
type wireSpecification struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	Clusters    []Cluster    `json:"clusters"`
}

// MarshalJSON encodes the specification in its wire format. Empty collections
// are encoded as [] rather than null.
func (s *Specification) MarshalJSON() ([]byte, error) {
	w := wireSpecification{
		Nodes:       s.nodes,
		Connections: s.connections,
		Clusters:    s.clusters,
	}
	if w.Nodes == nil {
		w.Nodes = []Node{}
	}
	if w.Connections == nil {
		w.Connections = []Connection{}
	}
	if w.Clusters == nil {
		w.Clusters = []Cluster{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire format without structural checks.
// Use validation.Parser for generator output.
func (s *Specification) UnmarshalJSON(data []byte) error {
	var w wireSpecification
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = *NewSpecification(w.Nodes, w.Connections, w.Clusters)
	return nil
}

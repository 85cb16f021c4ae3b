package diagram

import (
	"unicode/utf8"

	"github.com/rendis/diagrammer/internal/vocabulary"
	"github.com/rendis/diagrammer/pkg/schema"
)

// MaxTitleLength is the rune budget of a diagram title before it is elided.
const MaxTitleLength = 50

// KindLookup resolves node kinds to their descriptors.
type KindLookup interface {
	Get(name string) (vocabulary.Kind, error)
}

// Title derives a diagram title from a description.
func Title(description string) string {
	if utf8.RuneCountInString(description) <= MaxTitleLength {
		return description
	}
	return string([]rune(description)[:MaxTitleLength]) + "..."
}

// Build resolves a specification into a Model. An unknown kind here means the
// specification skipped validation and is reported as RENDER_ERROR.
func Build(spec *schema.Specification, kinds KindLookup, title string, dir Direction) (*Model, error) {
	if dir == "" {
		dir = DirectionLR
	}
	m := &Model{Title: title, Direction: dir}

	groupOf := make(map[string]int)
	for i, c := range spec.Clusters() {
		m.Groups = append(m.Groups, Group{Name: c.Name, Members: c.Members})
		for _, id := range c.Members {
			if _, seen := groupOf[id]; !seen {
				groupOf[id] = i
			}
		}
	}

	for _, n := range spec.Nodes() {
		k, err := kinds.Get(n.Kind)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeRenderError,
				"node %q has kind %q with no renderer descriptor", n.ID, n.Kind).WithCause(err)
		}
		group, ok := groupOf[n.ID]
		if !ok {
			group = -1
		}
		m.Nodes = append(m.Nodes, &Node{
			ID:    n.ID,
			Label: n.DisplayLabel(),
			Kind:  k.Name,
			Shape: k.Shape,
			Color: k.Color,
			Group: group,
		})
	}

	for _, c := range spec.Connections() {
		if _, ok := spec.Node(c.From); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeRenderError, "connection source %q does not exist", c.From)
		}
		if _, ok := spec.Node(c.To); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeRenderError, "connection target %q does not exist", c.To)
		}
		m.Edges = append(m.Edges, Edge{From: c.From, To: c.To, Label: c.Label})
	}

	return m, nil
}

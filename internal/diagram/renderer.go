package diagram

import (
	"context"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Output formats.
const (
	FormatPNG     = "png"
	FormatSVG     = "svg"
	FormatDOT     = "dot"
	FormatMermaid = "mermaid"
)

// Formats lists the supported output formats.
func Formats() []string { return []string{FormatPNG, FormatSVG, FormatDOT, FormatMermaid} }

// Artifact is a rendered diagram plus the counts of what it depicts.
type Artifact struct {
	Format       string `json:"format"`
	MediaType    string `json:"media_type"`
	Title        string `json:"title,omitempty"`
	Data         []byte `json:"-"`
	NodesCreated int    `json:"nodes_created"`
	Connections  int    `json:"connections"`
	Clusters     int    `json:"clusters"`
}

// Options tune a single render. Zero values fall back to renderer defaults.
type Options struct {
	Title     string
	Format    string
	Direction Direction
}

// Renderer turns a validated specification into an image.
type Renderer interface {
	Render(ctx context.Context, spec *schema.Specification, opts Options) (*Artifact, error)
}

// GraphRenderer renders through graphviz, or emits Mermaid text.
type GraphRenderer struct {
	kinds     KindLookup
	format    string
	direction Direction
}

// NewRenderer creates a renderer with default format and direction.
func NewRenderer(kinds KindLookup, format string, direction Direction) *GraphRenderer {
	if format == "" {
		format = FormatPNG
	}
	if direction == "" {
		direction = DirectionLR
	}
	return &GraphRenderer{kinds: kinds, format: format, direction: direction}
}

func (r *GraphRenderer) Render(ctx context.Context, spec *schema.Specification, opts Options) (*Artifact, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = r.format
	}
	dir := opts.Direction
	if dir == "" {
		dir = r.direction
	}

	model, err := Build(spec, r.kinds, opts.Title, dir)
	if err != nil {
		return nil, err
	}

	art := &Artifact{
		Format:       format,
		Title:        opts.Title,
		NodesCreated: len(model.Nodes),
		Connections:  len(model.Edges),
		Clusters:     len(model.Groups),
	}

	switch format {
	case FormatMermaid:
		art.Data = []byte(RenderMermaid(model))
		art.MediaType = "text/vnd.mermaid"
		return art, nil
	case FormatPNG:
		art.MediaType = "image/png"
		art.Data, err = RenderGraphviz(ctx, model, graphviz.PNG)
	case FormatSVG:
		art.MediaType = "image/svg+xml"
		art.Data, err = RenderGraphviz(ctx, model, graphviz.SVG)
	case FormatDOT:
		art.MediaType = "text/vnd.graphviz"
		art.Data, err = RenderGraphviz(ctx, model, graphviz.XDOT)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported output format %q", format).
			WithDetails(map[string]any{"supported": Formats()})
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRenderError, "render %s: %s", format, err.Error()).WithCause(err)
	}
	return art, nil
}

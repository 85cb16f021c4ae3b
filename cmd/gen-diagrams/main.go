// gen-diagrams renders a sample specification in every output format for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/validation"
	"github.com/rendis/diagrammer/internal/vocabulary"
	"github.com/rendis/diagrammer/pkg/schema"
)

func main() {
	// Three tier web app: edge → web tier → cache + database, async worker off a queue.
	spec := schema.NewSpecification(
		[]schema.Node{
			{ID: "CDN", Kind: "LoadBalancer", Label: "Edge CDN"},
			{ID: "ALB", Kind: "LoadBalancer", Properties: map[string]any{"scheme": "internet-facing"}},
			{ID: "Web1", Kind: "EC2", Label: "Web 1"},
			{ID: "Web2", Kind: "EC2", Label: "Web 2"},
			{ID: "Cache", Kind: "Database", Label: "Redis"},
			{ID: "DB", Kind: "RDS", Label: "Orders DB"},
			{ID: "Jobs", Kind: "SQS"},
			{ID: "Worker", Kind: "Lambda"},
		},
		[]schema.Connection{
			{From: "CDN", To: "ALB", Label: "HTTPS"},
			{From: "ALB", To: "Web1"},
			{From: "ALB", To: "Web2"},
			{From: "Web1", To: "Cache"},
			{From: "Web2", To: "Cache"},
			{From: "Web1", To: "DB", Label: "SQL"},
			{From: "Web2", To: "DB", Label: "SQL"},
			{From: "Web1", To: "Jobs", Label: "enqueue"},
			{From: "Jobs", To: "Worker"},
			{From: "Worker", To: "DB"},
		},
		[]schema.Cluster{
			{Name: "Web Tier", Members: []string{"Web1", "Web2"}},
			{Name: "Data Tier", Members: []string{"Cache", "DB"}},
		},
	)

	kinds := vocabulary.NewDefault()
	if violations := validation.New(kinds).Validate(spec); len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "invalid sample: %s\n", v.String())
		}
		os.Exit(1)
	}

	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	specJSON, _ := json.MarshalIndent(spec, "", "  ")
	os.WriteFile(filepath.Join(outDir, "sample-spec.json"), specJSON, 0o644)

	renderer := diagram.NewRenderer(kinds, diagram.FormatPNG, diagram.DirectionLR)
	ctx := context.Background()
	title := diagram.Title("Three tier web application with cache and async worker")

	files := map[string]string{
		diagram.FormatMermaid: "diagram-sample.mmd",
		diagram.FormatDOT:     "diagram-sample.dot",
		diagram.FormatSVG:     "diagram-sample.svg",
		diagram.FormatPNG:     "diagram-sample.png",
	}
	for _, format := range diagram.Formats() {
		art, err := renderer.Render(ctx, spec, diagram.Options{Title: title, Format: format})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s error: %v\n", format, err)
			continue
		}
		path := filepath.Join(outDir, files[format])
		os.WriteFile(path, art.Data, 0o644)
		fmt.Printf("=== %s (%s) ===\nWritten: %s (%d bytes)\n", format, art.MediaType, path, len(art.Data))
		if format == diagram.FormatMermaid {
			fmt.Println(string(art.Data))
		}
	}
}

package vocabulary

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/rendis/diagrammer/pkg/schema"
)

// fileSpec is the HCL layout of a vocabulary file:
//
//	kind "Redis" {
//	  category    = "cache"
//	  shape       = shape.cylinder
//	  description = "In-memory cache"
//	  aliases     = ["elasticache", "memcached"]
//	}
type fileSpec struct {
	Kinds []kindBlock `hcl:"kind,block"`
}

type kindBlock struct {
	Name        string   `hcl:"name,label"`
	Category    string   `hcl:"category,optional"`
	Shape       string   `hcl:"shape,optional"`
	Color       string   `hcl:"color,optional"`
	Description string   `hcl:"description,optional"`
	Aliases     []string `hcl:"aliases,optional"`
}

var knownShapes = []string{
	ShapeBox, ShapeBox3D, ShapeCylinder, ShapeDiamond, ShapeFolder,
	ShapeHexagon, ShapeComponent, ShapeTab, ShapeEllipse,
}

// evalContext exposes the shape.<name> variables to vocabulary files.
func evalContext() *hcl.EvalContext {
	shapes := make(map[string]cty.Value, len(knownShapes))
	for _, s := range knownShapes {
		shapes[s] = cty.StringVal(s)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"shape": cty.ObjectVal(shapes),
		},
	}
}

// LoadFile decodes the kinds declared in an HCL vocabulary file.
func LoadFile(path string) ([]Kind, error) {
	var f fileSpec
	if err := hclsimple.DecodeFile(path, evalContext(), &f); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "vocabulary: decode %s: %s", path, err.Error()).WithCause(err)
	}
	return f.kinds(), nil
}

// Parse decodes HCL vocabulary source. filename must carry the .hcl extension.
func Parse(filename string, src []byte) ([]Kind, error) {
	var f fileSpec
	if err := hclsimple.Decode(filename, src, evalContext(), &f); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "vocabulary: decode %s: %s", filename, err.Error()).WithCause(err)
	}
	return f.kinds(), nil
}

// LoadFile registers every kind from an HCL vocabulary file and returns how many were added.
func (r *Registry) LoadFile(path string) (int, error) {
	kinds, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	for i, k := range kinds {
		if err := r.Register(k); err != nil {
			return i, err
		}
	}
	return len(kinds), nil
}

func (f fileSpec) kinds() []Kind {
	out := make([]Kind, 0, len(f.Kinds))
	for _, b := range f.Kinds {
		out = append(out, Kind{
			Name:        b.Name,
			Category:    b.Category,
			Shape:       b.Shape,
			Color:       b.Color,
			Description: b.Description,
			Aliases:     b.Aliases,
		})
	}
	return out
}

// Encode writes kinds as an HCL vocabulary file that LoadFile can read back.
func Encode(kinds []Kind) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, k := range kinds {
		if i > 0 {
			body.AppendNewline()
		}
		block := body.AppendNewBlock("kind", []string{k.Name})
		kb := block.Body()
		setIfNotEmpty(kb, "category", k.Category)
		setIfNotEmpty(kb, "shape", k.Shape)
		setIfNotEmpty(kb, "color", k.Color)
		setIfNotEmpty(kb, "description", k.Description)
		if len(k.Aliases) > 0 {
			vals := make([]cty.Value, len(k.Aliases))
			for j, a := range k.Aliases {
				vals[j] = cty.StringVal(a)
			}
			kb.SetAttributeValue("aliases", cty.ListVal(vals))
		}
	}
	return f.Bytes()
}

func setIfNotEmpty(body *hclwrite.Body, name, value string) {
	if value != "" {
		body.SetAttributeValue(name, cty.StringVal(value))
	}
}

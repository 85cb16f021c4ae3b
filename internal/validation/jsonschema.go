package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/diagrammer/pkg/schema"
)

const specificationSchemaURL = "https://diagrammer.dev/schemas/specification.json"

// MaxNodeNameLength bounds node names on the wire.
const MaxNodeNameLength = 50

// specificationSchemaJSON is the structural JSON Schema for generator output.
// It checks shape only; referential rules run in the semantic stage so that
// an empty node list reaches the validator as an empty specification.
var specificationSchemaJSON = fmt.Sprintf(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": %q,
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "connections": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/connection" }
    },
    "clusters": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/cluster" }
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["type", "name"],
      "properties": {
        "type": { "type": "string", "minLength": 1 },
        "name": { "type": "string", "minLength": 1, "maxLength": %d },
        "label": { "type": ["string", "null"] },
        "properties": { "type": ["object", "null"] }
      }
    },
    "connection": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "from": { "type": "string", "minLength": 1 },
        "to": { "type": "string", "minLength": 1 },
        "label": { "type": ["string", "null"] }
      }
    },
    "cluster": {
      "type": "object",
      "required": ["name", "nodes"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "nodes": {
          "type": "array",
          "items": { "type": "string" }
        }
      }
    }
  }
}`, specificationSchemaURL, MaxNodeNameLength)

// Parser turns raw generator output into a Specification. It is safe for
// concurrent use.
type Parser struct {
	specSchema *jsonschema.Schema
}

// NewParser creates a Parser with the specification schema pre-compiled.
func NewParser() (*Parser, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(specificationSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal specification schema: %w", err)
	}
	if err := c.AddResource(specificationSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add specification schema resource: %w", err)
	}

	compiled, err := c.Compile(specificationSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile specification schema: %w", err)
	}
	return &Parser{specSchema: compiled}, nil
}

// MustNewParser is NewParser for package-level wiring; the schema is a constant.
func MustNewParser() *Parser {
	p, err := NewParser()
	if err != nil {
		panic(err)
	}
	return p
}

// Parse extracts the JSON object from raw, checks it against the structural
// schema and decodes it. Any failure is a MALFORMED_SPECIFICATION error.
func (p *Parser) Parse(raw string) (*schema.Specification, error) {
	body := ExtractJSON(raw)
	if body == "" {
		return nil, schema.NewError(schema.ErrCodeMalformedSpecification, "invalid JSON: no JSON object found in output")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedSpecification, "invalid JSON: %s", err.Error()).WithCause(err)
	}

	if err := p.specSchema.Validate(doc); err != nil {
		return nil, toMalformedError(err)
	}

	var spec schema.Specification
	if err := json.Unmarshal([]byte(body), &spec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedSpecification, "invalid structure: %s", err.Error()).WithCause(err)
	}
	return &spec, nil
}

// ExtractJSON strips a surrounding markdown code fence and any prose around
// the JSON object. The first brace that starts a decodable object wins, so
// braces in leading prose are skipped. When nothing decodes it returns the
// span from the first to the last brace, leaving the diagnosis to the caller.
// Returns "" when no object is present.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	for i := strings.IndexByte(s, '{'); i >= 0; {
		var obj json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&obj); err == nil {
			return string(obj)
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func toMalformedError(err error) *schema.DiagramError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeMalformedSpecification, err.Error()).WithCause(err)
	}

	issues := collectIssues(verr)
	if len(issues) == 0 {
		return schema.NewErrorf(schema.ErrCodeMalformedSpecification, "invalid structure: %s", verr.Error()).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeMalformedSpecification, "invalid structure: %s", strings.Join(issues, "; ")).
		WithCause(err).
		WithDetails(map[string]any{"issues": issues})
}

// collectIssues walks a ValidationError tree and collects leaf messages with
// their instance locations.
func collectIssues(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var issues []string
	for _, cause := range verr.Causes {
		issues = append(issues, collectIssues(cause)...)
	}
	return issues
}

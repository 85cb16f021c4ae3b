package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Template names.
const (
	DiagramGeneration   = "diagram_generation"
	RepairSpecification = "repair_specification"
	AssistantReasoning  = "assistant_reasoning"
	ConceptExplanation  = "concept_explanation"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Example is a few-shot exchange rendered between the system prefix and the user input.
type Example struct {
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}

// Template is one named prompt as declared in the YAML file.
type Template struct {
	SystemPrefix     string    `yaml:"system_prefix"`
	Examples         []Example `yaml:"examples,omitempty"`
	UserInputWrapper string    `yaml:"user_input_wrapper"`
}

// Prompt is a rendered template. System carries the instructions and
// examples; User carries the request itself.
type Prompt struct {
	Name   string
	System string
	User   string
}

// Manager holds parsed prompt templates. Safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	raw    map[string]Template
	system map[string]*template.Template
	user   map[string]*template.Template
}

// NewManager parses YAML prompt definitions.
func NewManager(data []byte) (*Manager, error) {
	var raw map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "prompts: parse yaml: %s", err.Error()).WithCause(err)
	}

	m := &Manager{
		raw:    make(map[string]Template, len(raw)),
		system: make(map[string]*template.Template, len(raw)),
		user:   make(map[string]*template.Template, len(raw)),
	}
	for name, t := range raw {
		if err := m.add(name, t); err != nil {
			return nil, err
		}
	}
	for _, required := range []string{DiagramGeneration, RepairSpecification, AssistantReasoning} {
		if _, ok := m.raw[required]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "prompts: missing template %q", required)
		}
	}
	return m, nil
}

// Default returns the embedded templates.
func Default() *Manager {
	m, err := NewManager(defaultPromptsYAML)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded templates: %v", err))
	}
	return m
}

// LoadFile reads templates from path. Templates missing from the file fall
// back to the embedded defaults.
func LoadFile(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}

	var overrides map[string]Template
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "prompts: parse %s: %s", path, err.Error()).WithCause(err)
	}

	m := Default()
	for name, t := range overrides {
		if err := m.add(name, t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) add(name string, t Template) error {
	sys, err := template.New(name + ".system").Option("missingkey=error").Parse(t.SystemPrefix)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "prompts: %s system_prefix: %s", name, err.Error()).WithCause(err)
	}
	usr, err := template.New(name + ".user").Option("missingkey=error").Parse(t.UserInputWrapper)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "prompts: %s user_input_wrapper: %s", name, err.Error()).WithCause(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw[name] = t
	m.system[name] = sys
	m.user[name] = usr
	return nil
}

// Names lists the available templates, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.raw))
	for n := range m.raw {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data.
func (m *Manager) Render(name string, data any) (Prompt, error) {
	m.mu.RLock()
	raw, ok := m.raw[name]
	sys := m.system[name]
	usr := m.user[name]
	m.mu.RUnlock()
	if !ok {
		return Prompt{}, schema.NewErrorf(schema.ErrCodeNotFound, "prompt %q not found", name)
	}

	var sb, ub bytes.Buffer
	if err := sys.Execute(&sb, data); err != nil {
		return Prompt{}, fmt.Errorf("prompts: render %s system: %w", name, err)
	}
	if err := usr.Execute(&ub, data); err != nil {
		return Prompt{}, fmt.Errorf("prompts: render %s user: %w", name, err)
	}

	system := strings.TrimRight(sb.String(), "\n")
	if len(raw.Examples) > 0 {
		var eb strings.Builder
		eb.WriteString(system)
		eb.WriteString("\n\nExamples:")
		for i, ex := range raw.Examples {
			fmt.Fprintf(&eb, "\n\nExample %d:\nUser: %s\nAssistant: %s", i+1,
				strings.TrimSpace(ex.User), strings.TrimSpace(ex.Assistant))
		}
		system = eb.String()
	}

	return Prompt{
		Name:   name,
		System: system,
		User:   strings.TrimRight(ub.String(), "\n"),
	}, nil
}

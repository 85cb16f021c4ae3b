package prompts

import (
	"strings"

	"github.com/rendis/diagrammer/pkg/schema"
)

// HistoryWindow is how many trailing turns are shown to the assessment prompt.
const HistoryWindow = 5

// Tool descriptions shown to the assistant.
var assistantTools = []string{
	"- generate_diagram: produce the diagram once components and relationships are known",
	"- ask_clarification: ask one focused question about missing components or relationships",
	"- explain_concept: explain an architecture concept the user asked about",
}

// NameLister exposes the registered node kinds.
type NameLister interface {
	Names() []string
}

// Composer builds every prompt the system sends to the generator. All methods
// are pure: the same inputs and vocabulary always yield the same text.
type Composer struct {
	templates *Manager
	kinds     NameLister
}

// NewComposer creates a Composer over the given templates and vocabulary.
func NewComposer(templates *Manager, kinds NameLister) *Composer {
	return &Composer{templates: templates, kinds: kinds}
}

type generationData struct {
	NodeTypes   string
	Description string
}

type repairData struct {
	NodeTypes      string
	Description    string
	PreviousOutput string
	Violations     []schema.Violation
}

type assessmentData struct {
	NodeTypes    string
	Tools        string
	Requirements map[string]string
	History      []schema.Turn
	Message      string
}

type explanationData struct {
	Concept string
}

// Generation builds the first-attempt prompt for a description.
func (c *Composer) Generation(description string) (Prompt, error) {
	return c.templates.Render(DiagramGeneration, generationData{
		NodeTypes:   c.nodeTypes(),
		Description: description,
	})
}

// Compose builds the repair prompt for a failed attempt. The description and
// previous output are embedded verbatim and every violation gets its own line
// in validator order, untruncated.
func (c *Composer) Compose(description, previousOutput string, violations schema.Violations) (Prompt, error) {
	return c.templates.Render(RepairSpecification, repairData{
		NodeTypes:      c.nodeTypes(),
		Description:    description,
		PreviousOutput: previousOutput,
		Violations:     violations,
	})
}

// Assessment builds the sufficiency prompt for a conversation turn.
func (c *Composer) Assessment(state schema.ConversationState, message string) (Prompt, error) {
	return c.templates.Render(AssistantReasoning, assessmentData{
		NodeTypes:    c.nodeTypes(),
		Tools:        strings.Join(assistantTools, "\n"),
		Requirements: state.Requirements,
		History:      state.RecentTurns(HistoryWindow),
		Message:      message,
	})
}

// Explanation builds the prompt for an explain_concept action.
func (c *Composer) Explanation(concept string) (Prompt, error) {
	return c.templates.Render(ConceptExplanation, explanationData{Concept: concept})
}

func (c *Composer) nodeTypes() string {
	return strings.Join(c.kinds.Names(), ", ")
}

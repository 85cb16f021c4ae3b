package validation

import "github.com/rendis/diagrammer/pkg/schema"

// Validator checks a parsed specification and returns its violations in a
// stable order. An empty result means the specification is valid.
type Validator interface {
	Validate(spec *schema.Specification) schema.Violations
}

// KindSet is the view of the vocabulary the validator depends on.
type KindSet interface {
	Has(kind string) bool
	Suggest(kind string) (string, bool)
	Names() []string
}

// SpecValidator runs the structural checks in a fixed order:
//  1. non-empty node set (short-circuits)
//  2. unique node ids
//  3. registered node kinds
//  4. connection endpoints
//  5. cluster membership
//
// followed by optional policy rules. It holds no mutable state and is safe for
// concurrent use.
type SpecValidator struct {
	kinds    KindSet
	policies *PolicySet
}

// Option configures a SpecValidator.
type Option func(*SpecValidator)

// WithPolicies appends policy checks after the structural checks.
func WithPolicies(ps *PolicySet) Option {
	return func(v *SpecValidator) { v.policies = ps }
}

// New creates a SpecValidator over the given vocabulary.
func New(kinds KindSet, opts ...Option) *SpecValidator {
	v := &SpecValidator{kinds: kinds}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate satisfies the Validator interface.
func (v *SpecValidator) Validate(spec *schema.Specification) schema.Violations {
	if empty := checkEmpty(spec); len(empty) > 0 {
		return empty
	}

	nodes := spec.Nodes()
	ids := nodeIDSet(nodes)

	var out schema.Violations
	out = append(out, checkDuplicateIDs(nodes)...)
	out = append(out, checkKinds(nodes, v.kinds)...)
	out = append(out, checkConnections(spec.Connections(), ids)...)
	out = append(out, checkClusters(spec.Clusters(), ids)...)

	if v.policies != nil {
		out = append(out, v.policies.Check(spec)...)
	}
	return out
}

var _ Validator = (*SpecValidator)(nil)

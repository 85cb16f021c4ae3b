package validation

import (
	"context"
	"fmt"

	"github.com/rendis/diagrammer/internal/expressions"
	"github.com/rendis/diagrammer/pkg/schema"
)

// PolicyScope selects what a policy expression is evaluated against.
type PolicyScope string

const (
	ScopeSpecification PolicyScope = "specification"
	ScopeNode          PolicyScope = "node"
	ScopeConnection    PolicyScope = "connection"
	ScopeCluster       PolicyScope = "cluster"
)

// Policy is a CEL rule that must evaluate to true for every item in its scope.
type Policy struct {
	Name       string      `json:"name" validate:"required"`
	Scope      PolicyScope `json:"scope" validate:"required,oneof=specification node connection cluster"`
	Expression string      `json:"expression" validate:"required"`
	Message    string      `json:"message,omitempty"`
}

// BuiltinPolicies can be enabled by name from configuration.
var BuiltinPolicies = map[string]Policy{
	"no_self_loops": {
		Name:       "no_self_loops",
		Scope:      ScopeConnection,
		Expression: "connection.from != connection.to",
		Message:    "connection must not start and end at the same node",
	},
	"max_nodes": {
		Name:       "max_nodes",
		Scope:      ScopeSpecification,
		Expression: "size(spec.nodes) <= 50",
		Message:    "specification must not exceed 50 nodes",
	},
	"labeled_connections": {
		Name:       "labeled_connections",
		Scope:      ScopeConnection,
		Expression: `connection.label != ""`,
		Message:    "connection must carry a label",
	},
}

// PolicySet evaluates compiled policies. Policies run in declaration order.
type PolicySet struct {
	engine   *expressions.CELEngine
	policies []Policy
}

// NewPolicySet compiles every policy up front so bad rules fail at startup.
func NewPolicySet(engine *expressions.CELEngine, policies []Policy) (*PolicySet, error) {
	for _, p := range policies {
		switch p.Scope {
		case ScopeSpecification, ScopeNode, ScopeConnection, ScopeCluster:
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "policy %q: unknown scope %q", p.Name, p.Scope)
		}
		if err := engine.Compile(p.Expression); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "policy %q: %s", p.Name, err.Error()).WithCause(err)
		}
	}
	return &PolicySet{engine: engine, policies: policies}, nil
}

// ResolvePolicies maps builtin names to policies and appends custom ones.
func ResolvePolicies(names []string, custom []Policy) ([]Policy, error) {
	out := make([]Policy, 0, len(names)+len(custom))
	for _, n := range names {
		p, ok := BuiltinPolicies[n]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown builtin policy %q", n)
		}
		out = append(out, p)
	}
	return append(out, custom...), nil
}

// Len returns the number of policies.
func (ps *PolicySet) Len() int {
	return len(ps.policies)
}

// Check evaluates all policies against spec.
func (ps *PolicySet) Check(spec *schema.Specification) schema.Violations {
	var out schema.Violations
	specData := specToData(spec)

	for _, p := range ps.policies {
		switch p.Scope {
		case ScopeSpecification:
			out = ps.eval(out, p, "$", map[string]any{"spec": specData})
		case ScopeNode:
			for i, n := range spec.Nodes() {
				out = ps.eval(out, p, fmt.Sprintf("nodes[%d]", i), map[string]any{"spec": specData, "node": nodeToData(n)})
			}
		case ScopeConnection:
			for i, c := range spec.Connections() {
				out = ps.eval(out, p, fmt.Sprintf("connections[%d]", i), map[string]any{"spec": specData, "connection": connectionToData(c)})
			}
		case ScopeCluster:
			for i, c := range spec.Clusters() {
				out = ps.eval(out, p, fmt.Sprintf("clusters[%d]", i), map[string]any{"spec": specData, "cluster": clusterToData(c)})
			}
		}
	}
	return out
}

func (ps *PolicySet) eval(out schema.Violations, p Policy, path string, data map[string]any) schema.Violations {
	ok, err := expressions.EvaluateBool(context.Background(), ps.engine, p.Expression, data)
	if err != nil {
		return append(out, schema.Violation{
			Kind:    schema.ViolationPolicy,
			Path:    path,
			Message: fmt.Sprintf("policy %q could not be evaluated: %s", p.Name, err.Error()),
		})
	}
	if ok {
		return out
	}
	msg := p.Message
	if msg == "" {
		msg = fmt.Sprintf("violates %s", p.Expression)
	}
	return append(out, schema.Violation{
		Kind:         schema.ViolationPolicy,
		Path:         path,
		Message:      fmt.Sprintf("policy %q: %s", p.Name, msg),
		SuggestedFix: fmt.Sprintf("Change the specification so that %s holds", p.Expression),
	})
}

func nodeToData(n schema.Node) map[string]any {
	props := map[string]any{}
	for k, v := range n.Properties {
		props[k] = v
	}
	return map[string]any{
		"name":       n.ID,
		"type":       n.Kind,
		"label":      n.DisplayLabel(),
		"properties": props,
	}
}

func connectionToData(c schema.Connection) map[string]any {
	return map[string]any{"from": c.From, "to": c.To, "label": c.Label}
}

func clusterToData(c schema.Cluster) map[string]any {
	members := make([]any, len(c.Members))
	for i, m := range c.Members {
		members[i] = m
	}
	return map[string]any{"name": c.Name, "nodes": members}
}

func specToData(spec *schema.Specification) map[string]any {
	nodes := spec.Nodes()
	conns := spec.Connections()
	clusters := spec.Clusters()

	nd := make([]any, len(nodes))
	for i, n := range nodes {
		nd[i] = nodeToData(n)
	}
	cd := make([]any, len(conns))
	for i, c := range conns {
		cd[i] = connectionToData(c)
	}
	kd := make([]any, len(clusters))
	for i, c := range clusters {
		kd[i] = clusterToData(c)
	}
	return map[string]any{"nodes": nd, "connections": cd, "clusters": kd}
}

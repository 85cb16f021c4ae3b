package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Per-category repair hints attached to violations.
const (
	hintDuplicate = "Each node must have a unique name. Consider adding numbers or descriptive suffixes to duplicate names"
	hintDangling  = "Ensure all nodes are defined before being referenced in connections or clusters. Check spelling of node names"
	hintOverlap   = "A node can belong to at most one cluster. Remove it from all but one cluster"
	hintEmpty     = "Add at least one node describing a component of the architecture"
)

// checkEmpty reports the empty specification. When it fires, no other check runs.
func checkEmpty(spec *schema.Specification) schema.Violations {
	if spec != nil && !spec.IsEmpty() {
		return nil
	}
	return schema.Violations{{
		Kind:         schema.ViolationEmptySpecification,
		Path:         "nodes",
		Message:      "specification has no nodes",
		SuggestedFix: hintEmpty,
	}}
}

// checkDuplicateIDs reports every node whose id was already declared.
func checkDuplicateIDs(nodes []schema.Node) schema.Violations {
	var out schema.Violations
	first := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if j, dup := first[n.ID]; dup {
			out = append(out, schema.Violation{
				Kind:         schema.ViolationDuplicateNodeID,
				Path:         fmt.Sprintf("nodes[%d].name", i),
				Message:      fmt.Sprintf("duplicate node id %q (first declared at nodes[%d])", n.ID, j),
				SuggestedFix: hintDuplicate,
			})
			continue
		}
		first[n.ID] = i
	}
	return out
}

// checkKinds reports nodes whose kind is not registered.
func checkKinds(nodes []schema.Node, kinds KindSet) schema.Violations {
	var out schema.Violations
	for i, n := range nodes {
		if kinds.Has(n.Kind) {
			continue
		}
		fix := "Use only these node types: " + strings.Join(kinds.Names(), ", ")
		if suggestion, ok := kinds.Suggest(n.Kind); ok {
			fix = fmt.Sprintf("Use node type %q instead of %q", suggestion, n.Kind)
		}
		out = append(out, schema.Violation{
			Kind:         schema.ViolationUnknownNodeKind,
			Path:         fmt.Sprintf("nodes[%d].type", i),
			Message:      fmt.Sprintf("node %q has unsupported type %q", n.ID, n.Kind),
			SuggestedFix: fix,
		})
	}
	return out
}

// checkConnections reports endpoints that do not name an existing node.
func checkConnections(conns []schema.Connection, ids map[string]bool) schema.Violations {
	var out schema.Violations
	for i, c := range conns {
		if !ids[c.From] {
			out = append(out, danglingEndpoint(i, "from", c.From))
		}
		if !ids[c.To] {
			out = append(out, danglingEndpoint(i, "to", c.To))
		}
	}
	return out
}

func danglingEndpoint(i int, end, id string) schema.Violation {
	return schema.Violation{
		Kind:         schema.ViolationDanglingEndpoint,
		Path:         fmt.Sprintf("connections[%d].%s", i, end),
		Message:      fmt.Sprintf("connection %d references unknown node %q", i, id),
		SuggestedFix: fmt.Sprintf("Define a node named %q or point the connection at an existing node. %s", id, hintDangling),
	}
}

// checkClusters reports unknown members and nodes listed by more than one cluster.
// A node repeated inside the same cluster is not an overlap.
func checkClusters(clusters []schema.Cluster, ids map[string]bool) schema.Violations {
	var out schema.Violations
	owner := make(map[string]string)
	for i, c := range clusters {
		for j, m := range c.Members {
			path := fmt.Sprintf("clusters[%d].nodes[%d]", i, j)
			if !ids[m] {
				out = append(out, schema.Violation{
					Kind:         schema.ViolationDanglingMember,
					Path:         path,
					Message:      fmt.Sprintf("cluster %q references unknown node %q", c.Name, m),
					SuggestedFix: hintDangling,
				})
				continue
			}
			prev, seen := owner[m]
			if !seen {
				owner[m] = c.Name
				continue
			}
			if prev != c.Name {
				out = append(out, schema.Violation{
					Kind:         schema.ViolationClusterOverlap,
					Path:         path,
					Message:      fmt.Sprintf("node %q in cluster %q already belongs to cluster %q", m, c.Name, prev),
					SuggestedFix: hintOverlap,
				})
			}
		}
	}
	return out
}

func nodeIDSet(nodes []schema.Node) map[string]bool {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	return ids
}

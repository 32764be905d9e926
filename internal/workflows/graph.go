// Package workflows models workflows as directed graphs of nodes whose
// execution is delegated to the backend.
package workflows

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"lab-console/internal/validation"
	"lab-console/pkg/api"
)

// KindResolver reports whether a node kind names a plugin, evaluator or task
// the backend can run.
type KindResolver interface {
	Resolve(kind string) bool
}

type KindResolverFunc func(kind string) bool

func (f KindResolverFunc) Resolve(kind string) bool {
	return f(kind)
}

// Kinds resolves exactly the listed kinds.
func Kinds(kinds ...string) KindResolver {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return KindResolverFunc(func(kind string) bool {
		_, ok := set[kind]
		return ok
	})
}

// AnyKind accepts every non-empty kind.
var AnyKind KindResolver = KindResolverFunc(func(kind string) bool {
	return strings.TrimSpace(kind) != ""
})

// Validate checks that node ids are unique, every kind resolves, every edge
// points at a node of the same workflow and the graph has no cycles.
func Validate(def api.WorkflowDefinition, resolver KindResolver) error {
	if resolver == nil {
		resolver = AnyKind
	}

	index := make(map[string]int, len(def.Nodes))
	for i, node := range def.Nodes {
		if strings.TrimSpace(node.Id) == "" {
			return validation.Errorf("nodes", "node %d has no id", i)
		}
		if _, ok := index[node.Id]; ok {
			return validation.Errorf("nodes", "duplicate node id %q", node.Id)
		}
		index[node.Id] = i
	}

	for _, node := range def.Nodes {
		if !resolver.Resolve(node.Kind) {
			return validation.Errorf("kind", "node %q has unknown kind %q", node.Id, node.Kind)
		}
		for _, edge := range node.Out {
			if _, ok := index[edge.To]; !ok {
				return validation.Errorf("edges", "node %q points at unknown node %q", node.Id, edge.To)
			}
		}
	}

	if cycle := findCycle(def, index); cycle != nil {
		return validation.Errorf("edges", "cycle detected: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

const (
	white = iota
	grey
	black
)

// findCycle returns the node ids of one cycle, closing back on its first
// node, or nil if the graph is acyclic.
func findCycle(def api.WorkflowDefinition, index map[string]int) []string {
	color := make([]int, len(def.Nodes))
	var stack []string

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = grey
		stack = append(stack, def.Nodes[i].Id)
		for _, edge := range def.Nodes[i].Out {
			j := index[edge.To]
			switch color[j] {
			case grey:
				start := slices.Index(stack, edge.To)
				return append(slices.Clone(stack[start:]), edge.To)
			case white:
				if cycle := visit(j); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range def.Nodes {
		if color[i] == white {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder lists node ids so that every node comes after the nodes
// pointing at it. Ties keep definition order. The definition must be valid.
func TopologicalOrder(def api.WorkflowDefinition) ([]string, error) {
	indegree := make(map[string]int, len(def.Nodes))
	for _, node := range def.Nodes {
		if _, ok := indegree[node.Id]; !ok {
			indegree[node.Id] = 0
		}
		for _, edge := range node.Out {
			indegree[edge.To]++
		}
	}

	byId := make(map[string]api.WorkflowNode, len(def.Nodes))
	for _, node := range def.Nodes {
		byId[node.Id] = node
	}

	order := make([]string, 0, len(def.Nodes))
	done := make(map[string]bool, len(def.Nodes))
	for len(order) < len(def.Nodes) {
		progressed := false
		for _, node := range def.Nodes {
			if done[node.Id] || indegree[node.Id] > 0 {
				continue
			}
			done[node.Id] = true
			order = append(order, node.Id)
			for _, edge := range byId[node.Id].Out {
				indegree[edge.To]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, validation.Errorf("edges", "workflow graph has a cycle")
		}
	}
	return order, nil
}

// Encode serializes a definition in the form stored as a workflow's config.
func Encode(def api.WorkflowDefinition) (string, error) {
	if def.Nodes == nil {
		def.Nodes = []api.WorkflowNode{}
	}
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("error encoding workflow definition: %w", err)
	}
	return string(data), nil
}

package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/bizflow/internal/model"
)

// CycleWarning represents a potential cycle between automation rules.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - A rule that normalizes a field it also watches, guarded by a condition
//   - Rules that hand an entity back and forth until a status settles
//
// At runtime the engine's depth cap and per-flow budget bound any cycle.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on automation rules.
//
// It builds a graph where an edge A → B means an action of rule A makes a
// mutation that B's trigger can match, then detects strongly connected
// components. Conditions are ignored, so a reported cycle may never occur
// in practice.
//
// The algorithm:
//  1. Build rule → rule dependency graph from action targets and triggers
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// taskType is the entity type CREATE_TASK creates when an action names none.
// An acyclic rule set returns an empty warning list.
func AnalyzeCycles(rules []model.AutomationRule, taskType string) []CycleWarning {
	if len(rules) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(rules, taskType)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps rule name → names of rules its actions could trigger.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the rule dependency graph.
//
// For each action:
//   - CREATE_OBJECT and CREATE_TASK reach ON_CREATE rules on the created type
//   - UPDATE_OBJECT reaches ON_UPDATE rules on the target type, and
//     ON_FIELD_CHANGE rules whose watched field the action sets
func buildDependencyGraph(rules []model.AutomationRule, taskType string) dependencyGraph {
	graph := make(dependencyGraph, len(rules))
	for _, r := range rules {
		graph[r.Name] = []string{}
	}

	for _, from := range rules {
		seen := make(map[string]bool)
		for _, act := range from.Actions {
			for _, to := range rules {
				if seen[to.Name] || !to.Active || !triggers(act, to, taskType) {
					continue
				}
				seen[to.Name] = true
				graph[from.Name] = append(graph[from.Name], to.Name)
			}
		}
		sort.Strings(graph[from.Name])
	}
	return graph
}

// triggers reports whether act can produce an event matching rule's trigger.
func triggers(act model.AutomationAction, rule model.AutomationRule, taskType string) bool {
	switch act.Type {
	case model.ActionCreateObject:
		return rule.Trigger == model.TriggerOnCreate && act.TargetType == rule.EntityType
	case model.ActionCreateTask:
		target := act.TargetType
		if target == "" {
			target = taskType
		}
		return rule.Trigger == model.TriggerOnCreate && target == rule.EntityType
	case model.ActionUpdateObject:
		if act.TargetType != rule.EntityType {
			return false
		}
		switch rule.Trigger {
		case model.TriggerOnUpdate:
			return true
		case model.TriggerOnFieldChange:
			_, sets := act.Params[rule.TriggerField]
			return sets
		}
	}
	return false
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of rule names.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit nodes in name order for stable output
	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// The path shows the cycle sequence by reconstructing a path through the SCC.
// For self-loops, the path is [rule, rule].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		// Self-loop
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-triggering rule detected: %s → %s", name, name),
			Level:   "warning",
		}
	}

	// Multi-node cycle - reconstruct a cycle path from the first name
	sort.Strings(scc)
	path := reconstructCyclePath(scc, graph)

	pathStr := strings.Join(path, " → ")
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", pathStr),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}

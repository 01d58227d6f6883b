package core

import (
	"slices"
	"strings"
)

// CycleError reports a dependency cycle between entity types.
// Path starts and ends with the same entity type.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// topoSort orders the definitions with Kahn's algorithm. Among entities that
// are ready at the same time the lower ImportOrder goes first, then the
// entity type name. Self references are not edges.
func topoSort(byType map[string]EntityDefinition) ([]EntityDefinition, error) {
	indegree := make(map[string]int, len(byType))
	dependents := make(map[string][]string, len(byType))

	for name := range byType {
		indegree[name] = 0
	}
	for name, def := range byType {
		for _, dep := range uniq(def.DependsOn) {
			if dep == name {
				return nil, &CycleError{Path: []string{name, name}}
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []EntityDefinition
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, byType[name])
		}
	}

	sorted := make([]EntityDefinition, 0, len(byType))
	for len(ready) > 0 {
		slices.SortFunc(ready, compareDefinitions)
		next := ready[0]
		ready = ready[1:]
		sorted = append(sorted, next)

		for _, name := range dependents[next.EntityType] {
			indegree[name]--
			if indegree[name] == 0 {
				ready = append(ready, byType[name])
			}
		}
	}

	if len(sorted) < len(byType) {
		return nil, &CycleError{Path: findCycle(byType, indegree)}
	}
	return sorted, nil
}

// findCycle walks the entities left over by topoSort and returns one cycle.
func findCycle(byType map[string]EntityDefinition, indegree map[string]int) []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(byType))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = onStack
		stack = append(stack, name)

		deps := slices.Clone(byType[name].DependsOn)
		slices.Sort(deps)
		for _, dep := range deps {
			if indegree[dep] == 0 {
				continue
			}
			switch state[dep] {
			case onStack:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range sortedKeys(byType) {
		if indegree[name] > 0 && state[name] == unvisited && visit(name) {
			break
		}
	}

	// A cycle path follows dependency edges, so reverse it to read in
	// import order: a -> b means b depends on a.
	slices.Reverse(cycle)
	return cycle
}

func uniq(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

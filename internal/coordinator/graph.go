package coordinator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// outputPlaceholderRe matches references to a previous subtask's result
// inside task parameters.
var outputPlaceholderRe = regexp.MustCompile(`<output_of_task_(\d+)>`)

// TaskGraph is the dependency structure of a decomposed plan. Indices are
// positions in the original subtask slice.
type TaskGraph struct {
	Subtasks []Subtask
	// DependsOn[i] lists the task indices task i references.
	DependsOn [][]int
	// Order is a deterministic topological execution order.
	Order []int
}

// BuildGraph extracts placeholder dependencies from every subtask,
// validates them, and computes a topological order. References to
// nonexistent tasks and dependency cycles are errors.
func BuildGraph(subtasks []Subtask) (*TaskGraph, error) {
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("no subtasks to order")
	}

	dependsOn := make([][]int, len(subtasks))
	for i, subtask := range subtasks {
		deps := dependenciesOf(subtask.TaskParameters)
		for _, dep := range deps {
			if dep < 0 || dep >= len(subtasks) {
				return nil, fmt.Errorf("task %d references nonexistent task %d", i, dep)
			}
			if dep == i {
				return nil, fmt.Errorf("task %d references its own output", i)
			}
		}
		dependsOn[i] = deps
	}

	order, err := topoOrder(dependsOn)
	if err != nil {
		return nil, err
	}

	return &TaskGraph{Subtasks: subtasks, DependsOn: dependsOn, Order: order}, nil
}

// dependenciesOf walks the parameter tree and collects every referenced
// task index, sorted and deduplicated.
func dependenciesOf(value any) []int {
	set := make(map[int]struct{})
	collectDependencies(value, set)

	deps := make([]int, 0, len(set))
	for dep := range set {
		deps = append(deps, dep)
	}
	sort.Ints(deps)
	return deps
}

func collectDependencies(value any, set map[int]struct{}) {
	switch v := value.(type) {
	case string:
		for _, match := range outputPlaceholderRe.FindAllStringSubmatch(v, -1) {
			if index, err := strconv.Atoi(match[1]); err == nil {
				set[index] = struct{}{}
			}
		}
	case map[string]any:
		for _, item := range v {
			collectDependencies(item, set)
		}
	case []any:
		for _, item := range v {
			collectDependencies(item, set)
		}
	}
}

// topoOrder runs Kahn's algorithm. Among ready tasks the lowest index goes
// first, so the order is stable across runs.
func topoOrder(dependsOn [][]int) ([]int, error) {
	n := len(dependsOn)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, deps := range dependsOn {
		indegree[i] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], i)
		}
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != n {
		var stuck []string
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				stuck = append(stuck, strconv.Itoa(i))
			}
		}
		return nil, fmt.Errorf("dependency cycle among tasks %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

// SubstituteParameters returns a copy of the subtask's parameters with every
// placeholder replaced by the referenced outcome. A parameter that is
// exactly one placeholder receives the decoded JSON value; placeholders
// embedded in longer strings are replaced textually.
func SubstituteParameters(params map[string]any, outcomes map[int]Outcome) map[string]any {
	replaced := substituteValue(params, outcomes)
	if out, ok := replaced.(map[string]any); ok {
		return out
	}
	return params
}

func substituteValue(value any, outcomes map[int]Outcome) any {
	switch v := value.(type) {
	case string:
		return substituteString(v, outcomes)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = substituteValue(item, outcomes)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = substituteValue(item, outcomes)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, outcomes map[int]Outcome) any {
	// Whole-string placeholder: inject the decoded result so downstream
	// handlers see structured data, not a JSON string.
	if match := outputPlaceholderRe.FindStringSubmatch(s); match != nil && match[0] == s {
		index, _ := strconv.Atoi(match[1])
		if outcome, ok := outcomes[index]; ok && outcome.OK() {
			var decoded any
			if err := json.Unmarshal(outcome.Payload, &decoded); err == nil {
				return decoded
			}
		}
		if outcome, ok := outcomes[index]; ok {
			return outcome.Text()
		}
		return s
	}

	return outputPlaceholderRe.ReplaceAllStringFunc(s, func(placeholder string) string {
		match := outputPlaceholderRe.FindStringSubmatch(placeholder)
		index, _ := strconv.Atoi(match[1])
		if outcome, ok := outcomes[index]; ok {
			return outcome.Text()
		}
		return placeholder
	})
}

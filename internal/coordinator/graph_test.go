package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"angela/internal/hsp"
)

func TestBuildGraph_LinearChain(t *testing.T) {
	subtasks := []Subtask{
		{CapabilityNeeded: "text_summarization", TaskParameters: map[string]any{"text": "long report"}},
		{CapabilityNeeded: "sentiment_analysis", TaskParameters: map[string]any{"text": "<output_of_task_0>"}},
		{CapabilityNeeded: "entity_extraction", TaskParameters: map[string]any{"text": "<output_of_task_1>"}},
	}

	graph, err := BuildGraph(subtasks)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	wantDeps := [][]int{nil, {0}, {1}}
	if diff := cmp.Diff(wantDeps, graph.DependsOn, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("DependsOn mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, graph.Order); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildGraph_DiamondOrderIsDeterministic(t *testing.T) {
	subtasks := []Subtask{
		{CapabilityNeeded: "a", TaskParameters: map[string]any{"in": "source"}},
		{CapabilityNeeded: "b", TaskParameters: map[string]any{"in": "<output_of_task_0>"}},
		{CapabilityNeeded: "c", TaskParameters: map[string]any{"in": "<output_of_task_0>"}},
		{CapabilityNeeded: "d", TaskParameters: map[string]any{
			"left":  "<output_of_task_1>",
			"right": "<output_of_task_2>",
		}},
	}

	for i := 0; i < 20; i++ {
		graph, err := BuildGraph(subtasks)
		if err != nil {
			t.Fatalf("BuildGraph: %v", err)
		}
		if diff := cmp.Diff([]int{0, 1, 2, 3}, graph.Order); diff != "" {
			t.Fatalf("run %d: Order mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestBuildGraph_ReverseDeclarationOrder(t *testing.T) {
	// Task 0 consumes task 1's output, so task 1 must run first.
	subtasks := []Subtask{
		{CapabilityNeeded: "sentiment_analysis", TaskParameters: map[string]any{"text": "<output_of_task_1>"}},
		{CapabilityNeeded: "text_summarization", TaskParameters: map[string]any{"text": "raw"}},
	}

	graph, err := BuildGraph(subtasks)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if diff := cmp.Diff([]int{1, 0}, graph.Order); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildGraph_NestedPlaceholders(t *testing.T) {
	subtasks := []Subtask{
		{CapabilityNeeded: "a", TaskParameters: map[string]any{"in": "x"}},
		{CapabilityNeeded: "b", TaskParameters: map[string]any{
			"items": []any{"static", "<output_of_task_0>"},
			"nested": map[string]any{
				"deep": "prefix <output_of_task_0> suffix",
			},
		}},
	}

	graph, err := BuildGraph(subtasks)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if diff := cmp.Diff([]int{0}, graph.DependsOn[1]); diff != "" {
		t.Errorf("DependsOn[1] mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildGraph_Errors(t *testing.T) {
	cases := []struct {
		name     string
		subtasks []Subtask
	}{
		{"empty plan", nil},
		{"out of range reference", []Subtask{
			{CapabilityNeeded: "a", TaskParameters: map[string]any{"in": "<output_of_task_5>"}},
		}},
		{"self reference", []Subtask{
			{CapabilityNeeded: "a", TaskParameters: map[string]any{"in": "<output_of_task_0>"}},
		}},
		{"two task cycle", []Subtask{
			{CapabilityNeeded: "a", TaskParameters: map[string]any{"in": "<output_of_task_1>"}},
			{CapabilityNeeded: "b", TaskParameters: map[string]any{"in": "<output_of_task_0>"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildGraph(tc.subtasks); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSubstituteParameters(t *testing.T) {
	outcomes := map[int]Outcome{
		0: {
			Kind:      OutcomeSuccess,
			TaskIndex: 0,
			Payload:   json.RawMessage(`{"summary":"short text","score":0.9}`),
		},
	}

	params := map[string]any{
		"text":   "<output_of_task_0>",
		"prefix": "analysis of <output_of_task_0> done",
		"nested": map[string]any{"inner": "<output_of_task_0>"},
		"list":   []any{"<output_of_task_0>", 42.0},
		"plain":  "untouched",
	}

	got := SubstituteParameters(params, outcomes)

	// Whole-string placeholders receive the decoded value.
	decoded, ok := got["text"].(map[string]any)
	if !ok || decoded["summary"] != "short text" {
		t.Errorf("text = %#v", got["text"])
	}
	if inner := got["nested"].(map[string]any)["inner"]; inner.(map[string]any)["score"] != 0.9 {
		t.Errorf("nested.inner = %#v", inner)
	}
	if item := got["list"].([]any)[0]; item.(map[string]any)["summary"] != "short text" {
		t.Errorf("list[0] = %#v", item)
	}

	// Embedded placeholders are replaced textually with the JSON.
	if prefix := got["prefix"].(string); prefix != `analysis of {"summary":"short text","score":0.9} done` {
		t.Errorf("prefix = %q", prefix)
	}
	if got["plain"] != "untouched" {
		t.Errorf("plain = %v", got["plain"])
	}

	// The original map is not mutated.
	if params["text"] != "<output_of_task_0>" {
		t.Error("input parameters were mutated")
	}
}

func TestSubstituteParameters_FailedDependencyText(t *testing.T) {
	outcomes := map[int]Outcome{
		0: {
			Kind:      OutcomeFailure,
			TaskIndex: 0,
			Err:       &hsp.ErrorDetails{Code: hsp.ErrCodeExecutionFailed, Message: "boom"},
		},
	}

	got := SubstituteParameters(map[string]any{"text": "<output_of_task_0>"}, outcomes)
	text, ok := got["text"].(string)
	if !ok || text == "<output_of_task_0>" {
		t.Errorf("text = %#v, want rendered error text", got["text"])
	}
}

func TestOutcomeText(t *testing.T) {
	success := Outcome{Kind: OutcomeSuccess, Payload: json.RawMessage(`{"ok":true}`)}
	if success.Text() != `{"ok":true}` {
		t.Errorf("success text = %q", success.Text())
	}

	failure := Outcome{
		Kind: OutcomeTimeout,
		Err:  &hsp.ErrorDetails{Code: hsp.ErrCodeTimeout, Message: "no result", Retryable: true},
	}
	var decoded hsp.ErrorDetails
	if err := json.Unmarshal([]byte(failure.Text()), &decoded); err != nil {
		t.Fatalf("failure text is not JSON: %v", err)
	}
	if decoded.Code != hsp.ErrCodeTimeout {
		t.Errorf("decoded code = %s", decoded.Code)
	}
}

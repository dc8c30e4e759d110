package agents

import (
	"context"
	"errors"
	"testing"

	"angela/internal/hsp"
)

func TestComputeStatistics(t *testing.T) {
	raw, err := computeStatistics(context.Background(), map[string]any{
		"data": []any{2.0, 4.0, 4.0, 4.0, 5.0, 5.0, 7.0, 9.0},
	})
	if err != nil {
		t.Fatalf("computeStatistics: %v", err)
	}
	result := raw.(map[string]any)

	if got := result["count"].(int); got != 8 {
		t.Errorf("count = %d", got)
	}
	if got := result["mean"].(float64); got != 5.0 {
		t.Errorf("mean = %v", got)
	}
	if got := result["median"].(float64); got != 4.5 {
		t.Errorf("median = %v", got)
	}
	if got := result["min"].(float64); got != 2.0 {
		t.Errorf("min = %v", got)
	}
	if got := result["max"].(float64); got != 9.0 {
		t.Errorf("max = %v", got)
	}
	// Classic example series with population std dev exactly 2.
	if got := result["std_dev"].(float64); got != 2.0 {
		t.Errorf("std_dev = %v", got)
	}
}

func TestComputeStatistics_NumericStrings(t *testing.T) {
	raw, err := computeStatistics(context.Background(), map[string]any{
		"data": []any{"1", " 2 ", "3"},
	})
	if err != nil {
		t.Fatalf("computeStatistics: %v", err)
	}
	if got := raw.(map[string]any)["mean"].(float64); got != 2.0 {
		t.Errorf("mean = %v", got)
	}
}

func TestComputeStatistics_InvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]any
	}{
		{"missing", map[string]any{}},
		{"not a list", map[string]any{"data": "oops"}},
		{"empty list", map[string]any{"data": []any{}}},
		{"non numeric item", map[string]any{"data": []any{1.0, "two"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := computeStatistics(context.Background(), tc.params)
			var details *hsp.ErrorDetails
			if !errors.As(err, &details) || details.Code != hsp.ErrCodeInvalidParameters {
				t.Errorf("err = %v, want INVALID_PARAMETERS", err)
			}
		})
	}
}

func TestEvaluateArithmetic(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-3 + 5", 2},
		{"2 * (1 + (3 - 1))", 6},
		{"1.5 * 2", 3},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			raw, err := evaluateArithmetic(context.Background(), map[string]any{"expression": tc.expr})
			if err != nil {
				t.Fatalf("evaluateArithmetic(%q): %v", tc.expr, err)
			}
			if got := raw.(map[string]any)["result"].(float64); got != tc.want {
				t.Errorf("%q = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluateArithmetic_Invalid(t *testing.T) {
	for _, expr := range []string{"", "1 +", "(1 + 2", "1 / 0", "abc", "1 2"} {
		t.Run(expr, func(t *testing.T) {
			_, err := evaluateArithmetic(context.Background(), map[string]any{"expression": expr})
			var details *hsp.ErrorDetails
			if !errors.As(err, &details) || details.Code != hsp.ErrCodeInvalidParameters {
				t.Errorf("err for %q = %v, want INVALID_PARAMETERS", expr, err)
			}
		})
	}
}

func TestKindForCapability(t *testing.T) {
	cases := []struct {
		capability string
		wantKind   string
		wantOK     bool
	}{
		{"sentiment_analysis", "nlp_processing", true},
		{"nlp_agent_sentiment_analysis_v1.0", "nlp_processing", true},
		{"statistical_analysis_v1.0", "data_analysis", true},
		{"echo", "echo", true},
		{"quantum_teleportation", "", false},
	}
	for _, tc := range cases {
		kind, ok := KindForCapability(tc.capability)
		if kind != tc.wantKind || ok != tc.wantOK {
			t.Errorf("KindForCapability(%q) = %q, %v; want %q, %v",
				tc.capability, kind, ok, tc.wantKind, tc.wantOK)
		}
	}
}

func TestBuiltinKinds(t *testing.T) {
	kinds := BuiltinKinds()
	if len(kinds) != 3 {
		t.Fatalf("BuiltinKinds = %v", kinds)
	}
	for _, kind := range kinds {
		if _, ok := Builtin(kind); !ok {
			t.Errorf("Builtin(%q) missing", kind)
		}
	}
}

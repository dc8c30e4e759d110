package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"angela/internal/hsp"
)

// NewDataAnalysisAgent builds an agent exposing numeric capabilities.
func NewDataAnalysisAgent(cfg Config, bus hsp.Bus) *Agent {
	agent := New(cfg, bus)
	aiID := cfg.AIID

	agent.RegisterCapability(hsp.CapabilityAdvertisement{
		CapabilityID: aiID + "_statistical_analysis_v1.0",
		Name:         "statistical_analysis",
		Description:  "Computes descriptive statistics over a numeric series.",
		Version:      "1.0",
		Tags:         []string{"data", "statistics"},
	}, computeStatistics)

	agent.RegisterCapability(hsp.CapabilityAdvertisement{
		CapabilityID: aiID + "_arithmetic_calculation_v1.0",
		Name:         "arithmetic_calculation",
		Description:  "Evaluates an arithmetic expression with +, -, *, / and parentheses.",
		Version:      "1.0",
		Tags:         []string{"data", "math"},
	}, evaluateArithmetic)

	return agent
}

// computeStatistics accepts params["data"] as a list of numbers. Numeric
// strings are tolerated because upstream task outputs arrive JSON-encoded.
func computeStatistics(_ context.Context, params map[string]any) (any, error) {
	values, err := numericSeries(params["data"])
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, &hsp.ErrorDetails{
			Code:    hsp.ErrCodeInvalidParameters,
			Message: "no numeric data provided for statistical analysis",
		}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	return map[string]any{
		"count":   len(values),
		"sum":     round3(sum),
		"mean":    round3(mean),
		"median":  round3(median),
		"min":     sorted[0],
		"max":     sorted[len(sorted)-1],
		"std_dev": round3(math.Sqrt(variance)),
	}, nil
}

func numericSeries(raw any) ([]float64, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, &hsp.ErrorDetails{
			Code:    hsp.ErrCodeInvalidParameters,
			Message: fmt.Sprintf("data must be a list of numbers, got %T", raw),
		}
	}
	values := make([]float64, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case float64:
			values = append(values, v)
		case int:
			values = append(values, float64(v))
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, &hsp.ErrorDetails{
					Code:    hsp.ErrCodeInvalidParameters,
					Message: fmt.Sprintf("data[%d] is not numeric: %q", i, v),
				}
			}
			values = append(values, parsed)
		default:
			return nil, &hsp.ErrorDetails{
				Code:    hsp.ErrCodeInvalidParameters,
				Message: fmt.Sprintf("data[%d] has unsupported type %T", i, item),
			}
		}
	}
	return values, nil
}

// evaluateArithmetic evaluates params["expression"] with a small recursive
// descent parser. Division by zero and malformed input are invalid-parameter
// failures, not crashes.
func evaluateArithmetic(_ context.Context, params map[string]any) (any, error) {
	expr, _ := params["expression"].(string)
	if strings.TrimSpace(expr) == "" {
		return nil, &hsp.ErrorDetails{
			Code:    hsp.ErrCodeInvalidParameters,
			Message: "no expression provided for arithmetic calculation",
		}
	}

	p := &exprParser{input: expr}
	result, err := p.parseExpr()
	if err != nil {
		return nil, &hsp.ErrorDetails{
			Code:    hsp.ErrCodeInvalidParameters,
			Message: fmt.Sprintf("invalid expression %q: %v", expr, err),
		}
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, &hsp.ErrorDetails{
			Code:    hsp.ErrCodeInvalidParameters,
			Message: fmt.Sprintf("unexpected trailing input in %q at position %d", expr, p.pos),
		}
	}

	return map[string]any{
		"expression": expr,
		"result":     result,
	}, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}
	if p.input[p.pos] == '-' {
		p.pos++
		value, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected a number at position %d", start)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

package coordinator

import (
	"context"
	"fmt"
	"strings"

	"angela/internal/llm"
	"angela/internal/logging"
)

// integrate asks the model to merge the subtask outcomes into one response.
// If the model is unreachable the outcomes are rendered directly so the
// caller still gets an answer.
func integrate(ctx context.Context, client llm.Client, prompts *Prompts, query string, outcomes []Outcome) string {
	prompt := prompts.IntegrationPrompt(query, formatOutcomes(outcomes))

	resp, err := client.Complete(ctx, prompt)
	if err != nil {
		logging.Coordinator("integration request failed, returning raw results: %v", err)
		return fallbackResponse(outcomes)
	}
	return strings.TrimSpace(resp)
}

// formatOutcomes renders outcomes for the integration prompt, in task
// order.
func formatOutcomes(outcomes []Outcome) string {
	var b strings.Builder
	for _, outcome := range outcomes {
		fmt.Fprintf(&b, "task %d (%s, %s): %s\n",
			outcome.TaskIndex, outcome.CapabilityNeeded, outcome.Kind, outcome.Text())
	}
	return strings.TrimRight(b.String(), "\n")
}

func fallbackResponse(outcomes []Outcome) string {
	var b strings.Builder
	b.WriteString("Results:\n")
	for _, outcome := range outcomes {
		status := "ok"
		if !outcome.OK() {
			status = string(outcome.Kind)
		}
		fmt.Fprintf(&b, "- %s [%s]: %s\n", outcome.CapabilityNeeded, status, outcome.Text())
	}
	return strings.TrimRight(b.String(), "\n")
}

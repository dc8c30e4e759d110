package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"angela/internal/hsp"
	"angela/internal/llm"
	"angela/internal/logging"
)

var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

// decompose asks the model to break the query into subtasks against the
// currently known capabilities.
func decompose(ctx context.Context, client llm.Client, prompts *Prompts, query string, capabilities []hsp.CapabilityAdvertisement) ([]Subtask, error) {
	prompt := prompts.DecompositionPrompt(query, formatCapabilities(capabilities))

	resp, err := client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("decomposition request failed: %w", err)
	}

	subtasks, err := parseSubtasks(resp)
	if err != nil {
		logging.Coordinator("decomposition parse failed: %v (response: %.200s)", err, resp)
		return nil, err
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("decomposition produced no subtasks")
	}

	for i, subtask := range subtasks {
		if subtask.CapabilityNeeded == "" {
			return nil, fmt.Errorf("subtask %d has no capability_needed", i)
		}
	}

	logging.Coordinator("decomposed request into %d subtasks", len(subtasks))
	return subtasks, nil
}

// parseSubtasks recovers the subtask list from a model response. Accepts a
// bare JSON array, an object wrapping it under "subtasks", or an array
// embedded in surrounding prose.
func parseSubtasks(resp string) ([]Subtask, error) {
	cleaned := cleanJSONResponse(resp)

	var subtasks []Subtask
	if err := json.Unmarshal([]byte(cleaned), &subtasks); err == nil {
		return subtasks, nil
	}

	var wrapped struct {
		Subtasks []Subtask `json:"subtasks"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && len(wrapped.Subtasks) > 0 {
		return wrapped.Subtasks, nil
	}

	if match := jsonArrayRe.FindString(cleaned); match != "" {
		if err := json.Unmarshal([]byte(match), &subtasks); err == nil {
			return subtasks, nil
		}
	}

	return nil, fmt.Errorf("response contains no parseable subtask list")
}

// cleanJSONResponse removes markdown code fences from a model response.
func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// formatCapabilities renders the live capability list for the decomposition
// prompt.
func formatCapabilities(capabilities []hsp.CapabilityAdvertisement) string {
	if len(capabilities) == 0 {
		return "(no live capabilities; use well-known capability names)"
	}
	var b strings.Builder
	for _, capability := range capabilities {
		fmt.Fprintf(&b, "- %s (id %s): %s\n", capability.Name, capability.CapabilityID, capability.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

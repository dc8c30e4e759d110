// Package coordinator turns a user request into a dependency-ordered plan
// of subtasks, dispatches each one to a capable agent over the bus, and
// integrates the collected results into a single response.
package coordinator

import (
	"encoding/json"
	"fmt"

	"angela/internal/hsp"
)

// Subtask is one step of a decomposed project. TaskParameters may embed
// placeholders of the form <output_of_task_N> that are substituted with the
// result of subtask N before dispatch.
type Subtask struct {
	CapabilityNeeded string         `json:"capability_needed"`
	TaskParameters   map[string]any `json:"task_parameters"`
	TaskDescription  string         `json:"task_description,omitempty"`
}

// OutcomeKind discriminates the ways a subtask can end.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"  // agent returned a payload
	OutcomeFailure  OutcomeKind = "failure"  // agent reported an error
	OutcomeTimeout  OutcomeKind = "timeout"  // no result within the deadline
	OutcomeDispatch OutcomeKind = "dispatch" // never reached an agent
	OutcomeSkipped  OutcomeKind = "skipped"  // an upstream dependency failed
)

// Outcome is the tagged result of one subtask. Payload is set only for
// OutcomeSuccess; Err is set for every other kind.
type Outcome struct {
	Kind             OutcomeKind       `json:"kind"`
	TaskIndex        int               `json:"task_index"`
	CapabilityNeeded string            `json:"capability_needed"`
	ExecutingAIID    string            `json:"executing_ai_id,omitempty"`
	Payload          json.RawMessage   `json:"payload,omitempty"`
	Err              *hsp.ErrorDetails `json:"error,omitempty"`
}

// OK reports whether the subtask produced a usable payload.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// Text renders the outcome as the JSON text substituted into downstream
// task parameters and shown to the integration model.
func (o Outcome) Text() string {
	if o.OK() {
		return string(o.Payload)
	}
	if o.Err != nil {
		data, err := json.Marshal(o.Err)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf(`{"error_code":"UNKNOWN","error_message":"subtask %d ended as %s"}`, o.TaskIndex, o.Kind)
}

func successOutcome(index int, capability string, result hsp.TaskResultPayload) Outcome {
	return Outcome{
		Kind:             OutcomeSuccess,
		TaskIndex:        index,
		CapabilityNeeded: capability,
		ExecutingAIID:    result.ExecutingAIID,
		Payload:          result.Payload,
	}
}

func failureOutcome(index int, capability string, result hsp.TaskResultPayload) Outcome {
	err := result.Error
	if err == nil {
		err = &hsp.ErrorDetails{Code: hsp.ErrCodeExecutionFailed, Message: "agent reported failure without details"}
	}
	return Outcome{
		Kind:             OutcomeFailure,
		TaskIndex:        index,
		CapabilityNeeded: capability,
		ExecutingAIID:    result.ExecutingAIID,
		Err:              err,
	}
}

func timeoutOutcome(index int, capability string, message string) Outcome {
	return Outcome{
		Kind:             OutcomeTimeout,
		TaskIndex:        index,
		CapabilityNeeded: capability,
		Err:              &hsp.ErrorDetails{Code: hsp.ErrCodeTimeout, Message: message, Retryable: true},
	}
}

func dispatchOutcome(index int, capability string, code hsp.ErrorCode, message string) Outcome {
	return Outcome{
		Kind:             OutcomeDispatch,
		TaskIndex:        index,
		CapabilityNeeded: capability,
		Err:              &hsp.ErrorDetails{Code: code, Message: message},
	}
}

func skippedOutcome(index int, capability string, failedDep int) Outcome {
	return Outcome{
		Kind:             OutcomeSkipped,
		TaskIndex:        index,
		CapabilityNeeded: capability,
		Err: &hsp.ErrorDetails{
			Code:    hsp.ErrCodeDispatchFailed,
			Message: fmt.Sprintf("skipped because dependency task %d did not succeed", failedDep),
		},
	}
}

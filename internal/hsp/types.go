// Package hsp implements the Heterogeneous Service Protocol: a versioned
// message-envelope convention for routing task requests, task results, and
// capability advertisements between agents over a pub/sub bus.
//
// The protocol has exactly three first-class message types. Everything an
// agent needs to answer a request travels inside the envelope payload;
// routing happens on bus topics, never by inspecting payload internals.
package hsp

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is the HSP envelope version emitted by this module.
const ProtocolVersion = "0.1"

// MessageType identifies the payload carried by an envelope.
type MessageType string

const (
	MessageTypeTaskRequest  MessageType = "HSP::TaskRequest_v0.1"
	MessageTypeTaskResult   MessageType = "HSP::TaskResult_v0.1"
	MessageTypeCapability   MessageType = "HSP::CapabilityAdvertisement_v0.1"
	MessageTypeAcknowledge  MessageType = "HSP::Acknowledgement_v0.1"
)

// TaskStatus is the outcome reported in a TaskResultPayload.
type TaskStatus string

const (
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailure TaskStatus = "failure"
)

// QoSParameters carries delivery hints for the bus layer.
type QoSParameters struct {
	Priority        string `json:"priority,omitempty"` // low, normal, high
	RequiresAck     bool   `json:"requires_ack,omitempty"`
	DurableDelivery bool   `json:"durable_delivery,omitempty"`
}

// Envelope is the HSP wire frame. Payload is kept raw so the connector can
// route on MessageType before committing to a payload schema.
type Envelope struct {
	MessageID       string          `json:"message_id"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	SenderAIID      string          `json:"sender_ai_id"`
	RecipientAIID   string          `json:"recipient_ai_id,omitempty"`
	Timestamp       time.Time       `json:"timestamp_sent"`
	MessageType     MessageType     `json:"message_type"`
	ProtocolVersion string          `json:"protocol_version"`
	Payload         json.RawMessage `json:"payload"`
	QoS             *QoSParameters  `json:"qos_parameters,omitempty"`
}

// TaskRequestPayload asks a capability provider to perform one unit of work.
type TaskRequestPayload struct {
	RequestID          string         `json:"request_id"`
	RequesterAIID      string         `json:"requester_ai_id"`
	TargetAIID         string         `json:"target_ai_id,omitempty"`
	CapabilityIDFilter string         `json:"capability_id_filter"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	// CallbackAddress is the bus topic the result must be published to.
	// Optional: when empty, providers fall back to the requester's default
	// results topic (ResultsTopic(requester, request_id)).
	CallbackAddress string `json:"callback_address,omitempty"`
	Description     string `json:"description,omitempty"`
}

// ErrorCode classifies task failures so callers can decide between retrying
// and giving up without parsing message strings.
type ErrorCode string

const (
	ErrCodeCapabilityNotFound    ErrorCode = "CAPABILITY_NOT_FOUND"
	ErrCodeCapabilityUnsupported ErrorCode = "CAPABILITY_NOT_SUPPORTED"
	ErrCodeInvalidParameters     ErrorCode = "INVALID_PARAMETERS"
	ErrCodeExecutionFailed       ErrorCode = "EXECUTION_FAILED"
	ErrCodeQueueFull             ErrorCode = "QUEUE_FULL"
	ErrCodeDispatchFailed        ErrorCode = "DISPATCH_FAILED"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
)

// ErrorDetails is the single error shape used across the protocol.
type ErrorDetails struct {
	Code      ErrorCode `json:"error_code"`
	Message   string    `json:"error_message"`
	Retryable bool      `json:"retryable,omitempty"`
}

func (e *ErrorDetails) Error() string {
	return string(e.Code) + ": " + e.Message
}

// TaskResultPayload reports the outcome of a TaskRequestPayload. Exactly one
// of Payload (on success) or Error (on failure) is populated.
type TaskResultPayload struct {
	RequestID      string          `json:"request_id"`
	ExecutingAIID  string          `json:"executing_ai_id"`
	Status         TaskStatus      `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          *ErrorDetails   `json:"error_details,omitempty"`
	CompletedAt    time.Time       `json:"timestamp_completed"`
}

// CapabilityAdvertisement announces a named, versioned skill an agent can
// perform. Requesters match on ID, name substring, or tags.
type CapabilityAdvertisement struct {
	CapabilityID       string   `json:"capability_id"`
	AIID               string   `json:"ai_id"`
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Version            string   `json:"version"`
	AvailabilityStatus string   `json:"availability_status"` // online, degraded, offline
	Tags               []string `json:"tags,omitempty"`
	// TTLSeconds bounds how long a discovery registry may serve this
	// advertisement without a refresh. Zero means the registry default.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// SuccessResult builds a success TaskResultPayload from any JSON-encodable
// result value.
func SuccessResult(requestID, executorID string, result any) (TaskResultPayload, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return TaskResultPayload{}, err
	}
	return TaskResultPayload{
		RequestID:     requestID,
		ExecutingAIID: executorID,
		Status:        TaskStatusSuccess,
		Payload:       raw,
		CompletedAt:   time.Now().UTC(),
	}, nil
}

// FailureResult builds a failure TaskResultPayload.
func FailureResult(requestID, executorID string, code ErrorCode, message string, retryable bool) TaskResultPayload {
	return TaskResultPayload{
		RequestID:     requestID,
		ExecutingAIID: executorID,
		Status:        TaskStatusFailure,
		Error: &ErrorDetails{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
		CompletedAt: time.Now().UTC(),
	}
}

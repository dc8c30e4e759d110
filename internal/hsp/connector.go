package hsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"angela/internal/logging"
)

// TaskRequestHandler receives task requests addressed to this AI.
type TaskRequestHandler func(payload TaskRequestPayload, senderAIID string, envelope Envelope)

// TaskResultHandler receives task results addressed to this AI.
type TaskResultHandler func(payload TaskResultPayload, senderAIID string, envelope Envelope)

// CapabilityHandler receives capability advertisements from any agent.
type CapabilityHandler func(payload CapabilityAdvertisement, senderAIID string, envelope Envelope)

// Connector binds one AI identity to the bus: it wraps outbound payloads in
// HSP envelopes and routes inbound envelopes to registered typed callbacks.
// Malformed inbound messages are logged and dropped; they never take the
// consume loop down.
type Connector struct {
	aiID string
	bus  Bus

	mu            sync.RWMutex
	onTaskRequest []TaskRequestHandler
	onTaskResult  []TaskResultHandler
	onCapability  []CapabilityHandler
	started       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnector creates a connector for the given AI identity.
func NewConnector(aiID string, bus Bus) *Connector {
	return &Connector{aiID: aiID, bus: bus}
}

// AIID returns the identity this connector publishes as.
func (c *Connector) AIID() string { return c.aiID }

// RegisterOnTaskRequest adds a task-request callback.
func (c *Connector) RegisterOnTaskRequest(handler TaskRequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTaskRequest = append(c.onTaskRequest, handler)
}

// RegisterOnTaskResult adds a task-result callback.
func (c *Connector) RegisterOnTaskResult(handler TaskResultHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTaskResult = append(c.onTaskResult, handler)
}

// RegisterOnCapability adds a capability-advertisement callback.
func (c *Connector) RegisterOnCapability(handler CapabilityHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCapability = append(c.onCapability, handler)
}

// Start subscribes to this AI's request and result topics plus the shared
// capability-advertisement feed, and begins dispatching callbacks. The
// connector runs until ctx is cancelled or Close is called.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("connector already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	patterns := []string{
		RequestsTopic(c.aiID),
		ResultsPattern(c.aiID),
		CapabilitiesPattern(),
	}
	for _, pattern := range patterns {
		deliveries, err := c.bus.Subscribe(pattern)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
		c.wg.Add(1)
		go c.consume(ctx, deliveries)
	}

	logging.Bus("[%s] Connector started (%d subscriptions)", c.aiID, len(patterns))
	return nil
}

func (c *Connector) consume(ctx context.Context, deliveries <-chan Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(d)
		}
	}
}

func (c *Connector) handleDelivery(d Delivery) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		logging.Get(logging.CategoryBus).Warn(
			"[%s] Dropping malformed envelope on %s: %v", c.aiID, d.Topic, err)
		return
	}

	switch env.MessageType {
	case MessageTypeTaskRequest:
		var payload TaskRequestPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			logging.Get(logging.CategoryBus).Warn(
				"[%s] Dropping malformed task request %s: %v", c.aiID, env.MessageID, err)
			return
		}
		c.mu.RLock()
		handlers := c.onTaskRequest
		c.mu.RUnlock()
		for _, h := range handlers {
			h(payload, env.SenderAIID, env)
		}

	case MessageTypeTaskResult:
		var payload TaskResultPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			logging.Get(logging.CategoryBus).Warn(
				"[%s] Dropping malformed task result %s: %v", c.aiID, env.MessageID, err)
			return
		}
		c.mu.RLock()
		handlers := c.onTaskResult
		c.mu.RUnlock()
		for _, h := range handlers {
			h(payload, env.SenderAIID, env)
		}

	case MessageTypeCapability:
		var payload CapabilityAdvertisement
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			logging.Get(logging.CategoryBus).Warn(
				"[%s] Dropping malformed capability advertisement %s: %v", c.aiID, env.MessageID, err)
			return
		}
		c.mu.RLock()
		handlers := c.onCapability
		c.mu.RUnlock()
		for _, h := range handlers {
			h(payload, env.SenderAIID, env)
		}

	default:
		logging.BusDebug("[%s] Ignoring message type %s on %s", c.aiID, env.MessageType, d.Topic)
	}
}

func (c *Connector) newEnvelope(messageType MessageType, recipient, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", messageType, err)
	}
	return Envelope{
		MessageID:       "msg_" + uuid.New().String(),
		CorrelationID:   correlationID,
		SenderAIID:      c.aiID,
		RecipientAIID:   recipient,
		Timestamp:       time.Now().UTC(),
		MessageType:     messageType,
		ProtocolVersion: ProtocolVersion,
		Payload:         raw,
	}, nil
}

func (c *Connector) publishEnvelope(ctx context.Context, topic string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.bus.Publish(ctx, topic, body)
}

// SendTaskRequest publishes a task request to the target agent's request
// topic and returns the correlation ID the result will carry. The request ID
// doubles as the correlation ID, so waiters can key on either.
func (c *Connector) SendTaskRequest(ctx context.Context, payload TaskRequestPayload, targetAIID string) (string, error) {
	if payload.RequestID == "" {
		payload.RequestID = "taskreq_" + uuid.New().String()
	}
	if payload.RequesterAIID == "" {
		payload.RequesterAIID = c.aiID
	}
	if payload.CallbackAddress == "" {
		payload.CallbackAddress = ResultsTopic(c.aiID, payload.RequestID)
	}

	env, err := c.newEnvelope(MessageTypeTaskRequest, targetAIID, payload.RequestID, payload)
	if err != nil {
		return "", err
	}
	if err := c.publishEnvelope(ctx, RequestsTopic(targetAIID), env); err != nil {
		return "", err
	}

	logging.WithRequestID(logging.CategoryBus, payload.RequestID).
		Info("[%s] Task request sent to %s (capability=%s)", c.aiID, targetAIID, payload.CapabilityIDFilter)
	return payload.RequestID, nil
}

// SendTaskResult publishes a result to the callback topic of a request.
func (c *Connector) SendTaskResult(ctx context.Context, payload TaskResultPayload, callbackTopic, correlationID string) error {
	if payload.ExecutingAIID == "" {
		payload.ExecutingAIID = c.aiID
	}
	env, err := c.newEnvelope(MessageTypeTaskResult, "", correlationID, payload)
	if err != nil {
		return err
	}
	if err := c.publishEnvelope(ctx, callbackTopic, env); err != nil {
		return err
	}
	logging.WithRequestID(logging.CategoryBus, correlationID).
		Info("[%s] Task result sent (status=%s)", c.aiID, payload.Status)
	return nil
}

// Advertise publishes a capability advertisement on this AI's capability
// topic. Agents call this on startup and on a TTL-refresh ticker.
func (c *Connector) Advertise(ctx context.Context, capability CapabilityAdvertisement) error {
	if capability.AIID == "" {
		capability.AIID = c.aiID
	}
	env, err := c.newEnvelope(MessageTypeCapability, "", "", capability)
	if err != nil {
		return err
	}
	return c.publishEnvelope(ctx, CapabilityTopic(c.aiID), env)
}

// Close stops the consume loops. The bus itself is owned by the caller.
func (c *Connector) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

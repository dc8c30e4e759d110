// Package agents implements the worker side of the task protocol: an Agent
// owns a set of capabilities, advertises them periodically, and executes
// incoming task requests from a bounded queue.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"angela/internal/hsp"
	"angela/internal/logging"
)

const (
	defaultQueueSize      = 16
	defaultHandlerTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultRetryDelay     = 250 * time.Millisecond
	defaultAdvertiseTTL   = 5 * time.Minute
)

// Handler executes one capability invocation. The returned value is
// serialized as the result payload. Returning *hsp.ErrorDetails controls the
// error code and retryability reported to the requester; any other error is
// reported as EXECUTION_FAILED.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Config tunes one agent instance. Zero values take defaults.
type Config struct {
	AIID           string
	QueueSize      int
	HandlerTimeout time.Duration
	MaxAttempts    uint
	RetryDelay     time.Duration
	AdvertiseTTL   time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = defaultHandlerTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.AdvertiseTTL <= 0 {
		c.AdvertiseTTL = defaultAdvertiseTTL
	}
}

// Agent is a single worker process on the bus. It consumes task requests
// addressed to its AI ID and replies on each request's callback topic.
type Agent struct {
	cfg       Config
	connector *hsp.Connector

	mu       sync.Mutex
	handlers map[string]Handler
	caps     []hsp.CapabilityAdvertisement
	started  bool

	queue  chan queuedTask
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type queuedTask struct {
	payload hsp.TaskRequestPayload
	sender  string
}

// New creates an agent on the given bus. Capabilities are registered before
// Start.
func New(cfg Config, bus hsp.Bus) *Agent {
	cfg.applyDefaults()
	return &Agent{
		cfg:       cfg,
		connector: hsp.NewConnector(cfg.AIID, bus),
		handlers:  make(map[string]Handler),
		queue:     make(chan queuedTask, cfg.QueueSize),
	}
}

// AIID returns the agent's identity on the bus.
func (a *Agent) AIID() string { return a.cfg.AIID }

// Capabilities returns a copy of the registered advertisements.
func (a *Agent) Capabilities() []hsp.CapabilityAdvertisement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]hsp.CapabilityAdvertisement, len(a.caps))
	copy(out, a.caps)
	return out
}

// RegisterCapability binds a handler to a capability advertisement.
// Must be called before Start.
func (a *Agent) RegisterCapability(adv hsp.CapabilityAdvertisement, handler Handler) {
	if adv.AIID == "" {
		adv.AIID = a.cfg.AIID
	}
	if adv.AvailabilityStatus == "" {
		adv.AvailabilityStatus = "online"
	}
	if adv.TTLSeconds == 0 {
		adv.TTLSeconds = int(a.cfg.AdvertiseTTL / time.Second)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[adv.CapabilityID] = handler
	a.caps = append(a.caps, adv)
}

// Start connects the agent to the bus, advertises its capabilities, and
// begins processing requests. The agent runs until Stop.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("agent %s already started", a.cfg.AIID)
	}
	if len(a.caps) == 0 {
		a.mu.Unlock()
		return fmt.Errorf("agent %s has no capabilities registered", a.cfg.AIID)
	}
	a.started = true
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.connector.RegisterOnTaskRequest(a.onTaskRequest)
	if err := a.connector.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("agent %s failed to start connector: %w", a.cfg.AIID, err)
	}

	if err := a.advertiseAll(ctx); err != nil {
		logging.Agents("[%s] initial advertisement failed: %v", a.cfg.AIID, err)
	}

	a.wg.Add(2)
	go a.worker(runCtx)
	go a.advertiseLoop(runCtx)

	logging.Agents("[%s] started with %d capabilities", a.cfg.AIID, len(a.Capabilities()))
	return nil
}

// Stop drains the agent: no new requests are accepted and the worker exits.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.connector.Close()
	a.wg.Wait()
	logging.Agents("[%s] stopped", a.cfg.AIID)
}

// onTaskRequest enqueues without blocking the bus consumer. A full queue is
// reported back as a retryable failure so the requester can back off.
func (a *Agent) onTaskRequest(payload hsp.TaskRequestPayload, senderAIID string, _ hsp.Envelope) {
	select {
	case a.queue <- queuedTask{payload: payload, sender: senderAIID}:
		logging.AgentsDebug("[%s] queued task %s (%s)", a.cfg.AIID, payload.RequestID, payload.CapabilityIDFilter)
	default:
		logging.Agents("[%s] queue full, rejecting task %s", a.cfg.AIID, payload.RequestID)
		result := hsp.FailureResult(payload.RequestID, a.cfg.AIID, hsp.ErrCodeQueueFull,
			fmt.Sprintf("agent %s task queue is full", a.cfg.AIID), true)
		a.sendResult(context.Background(), result, payload)
	}
}

func (a *Agent) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-a.queue:
			a.process(ctx, task)
		}
	}
}

func (a *Agent) process(ctx context.Context, task queuedTask) {
	payload := task.payload
	handler, ok := a.resolveHandler(payload.CapabilityIDFilter)
	if !ok {
		result := hsp.FailureResult(payload.RequestID, a.cfg.AIID, hsp.ErrCodeCapabilityUnsupported,
			fmt.Sprintf("capability %q is not supported by agent %s", payload.CapabilityIDFilter, a.cfg.AIID), false)
		a.sendResult(ctx, result, payload)
		return
	}

	timer := logging.StartTimer(logging.CategoryAgents, "task "+payload.RequestID)
	value, err := a.execute(ctx, handler, payload.Parameters)
	elapsed := timer.Stop()

	var result hsp.TaskResultPayload
	if err != nil {
		logging.Agents("[%s] task %s failed after %s: %v", a.cfg.AIID, payload.RequestID, elapsed.Round(time.Millisecond), err)
		result = failureFromError(payload.RequestID, a.cfg.AIID, err)
	} else {
		logging.Agents("[%s] task %s completed in %s", a.cfg.AIID, payload.RequestID, elapsed.Round(time.Millisecond))
		result, err = hsp.SuccessResult(payload.RequestID, a.cfg.AIID, value)
		if err != nil {
			result = hsp.FailureResult(payload.RequestID, a.cfg.AIID, hsp.ErrCodeExecutionFailed,
				fmt.Sprintf("result serialization failed: %v", err), false)
		}
	}
	a.sendResult(ctx, result, payload)
}

// execute runs the handler with a per-task timeout, retrying failures the
// handler marks retryable.
func (a *Agent) execute(ctx context.Context, handler Handler, params map[string]any) (any, error) {
	var value any
	err := retry.Do(
		func() error {
			taskCtx, cancel := context.WithTimeout(ctx, a.cfg.HandlerTimeout)
			defer cancel()
			var err error
			value, err = handler(taskCtx, params)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(a.cfg.MaxAttempts),
		retry.Delay(a.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var details *hsp.ErrorDetails
			return errors.As(err, &details) && details.Retryable
		}),
	)
	return value, err
}

func (a *Agent) resolveHandler(capabilityID string) (Handler, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	handler, ok := a.handlers[capabilityID]
	return handler, ok
}

func (a *Agent) sendResult(ctx context.Context, result hsp.TaskResultPayload, request hsp.TaskRequestPayload) {
	callback := request.CallbackAddress
	if callback == "" {
		callback = hsp.ResultsTopic(request.RequesterAIID, request.RequestID)
	}
	if err := a.connector.SendTaskResult(ctx, result, callback, request.RequestID); err != nil {
		logging.Agents("[%s] failed to send result for %s: %v", a.cfg.AIID, request.RequestID, err)
	}
}

func (a *Agent) advertiseAll(ctx context.Context) error {
	for _, capability := range a.Capabilities() {
		if err := a.connector.Advertise(ctx, capability); err != nil {
			return err
		}
	}
	return nil
}

// advertiseLoop re-advertises at half the TTL so entries never lapse while
// the agent is healthy.
func (a *Agent) advertiseLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.AdvertiseTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.advertiseAll(ctx); err != nil {
				logging.Agents("[%s] re-advertisement failed: %v", a.cfg.AIID, err)
			}
		}
	}
}

func failureFromError(requestID, aiID string, err error) hsp.TaskResultPayload {
	var details *hsp.ErrorDetails
	if errors.As(err, &details) {
		return hsp.FailureResult(requestID, aiID, details.Code, details.Message, details.Retryable)
	}
	return hsp.FailureResult(requestID, aiID, hsp.ErrCodeExecutionFailed, err.Error(), false)
}

package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"angela/internal/agents"
	"angela/internal/discovery"
	"angela/internal/hsp"
	"angela/internal/launcher"
	"angela/internal/logging"
)

// dispatcher sends one subtask at a time to a capable agent and waits for
// the correlated result on a per-request channel.
type dispatcher struct {
	connector *hsp.Connector
	registry  *discovery.Registry
	launcher  *launcher.Launcher

	timeout     time.Duration
	maxAttempts uint
	retryDelay  time.Duration

	mu      sync.Mutex
	pending map[string]chan hsp.TaskResultPayload
}

func newDispatcher(connector *hsp.Connector, registry *discovery.Registry, l *launcher.Launcher, timeout time.Duration, maxAttempts uint, retryDelay time.Duration) *dispatcher {
	return &dispatcher{
		connector:   connector,
		registry:    registry,
		launcher:    l,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		pending:     make(map[string]chan hsp.TaskResultPayload),
	}
}

// onTaskResult routes a result to whoever is waiting on its request ID.
// Plugged into the connector's result callback. Unmatched results are late
// arrivals from abandoned attempts and are dropped.
func (d *dispatcher) onTaskResult(payload hsp.TaskResultPayload, senderAIID string, _ hsp.Envelope) {
	d.mu.Lock()
	ch, ok := d.pending[payload.RequestID]
	d.mu.Unlock()
	if !ok {
		logging.CoordinatorDebug("dropping unmatched result %s from %s", payload.RequestID, senderAIID)
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

func (d *dispatcher) register(requestID string) chan hsp.TaskResultPayload {
	ch := make(chan hsp.TaskResultPayload, 1)
	d.mu.Lock()
	d.pending[requestID] = ch
	d.mu.Unlock()
	return ch
}

func (d *dispatcher) unregister(requestID string) {
	d.mu.Lock()
	delete(d.pending, requestID)
	d.mu.Unlock()
}

// dispatch executes one subtask end to end: provider lookup (launching an
// agent if nobody serves the capability yet), request send, and a bounded
// wait for the result. Transient failures and timeouts are retried with
// backoff.
func (d *dispatcher) dispatch(ctx context.Context, index int, subtask Subtask, params map[string]any) Outcome {
	capability := subtask.CapabilityNeeded

	provider, found, err := d.findProvider(ctx, capability)
	if err != nil {
		return dispatchOutcome(index, capability, hsp.ErrCodeCapabilityNotFound,
			fmt.Sprintf("no provider for %q: %v", capability, err))
	}
	if !found {
		return dispatchOutcome(index, capability, hsp.ErrCodeCapabilityNotFound,
			fmt.Sprintf("no provider advertises %q", capability))
	}

	var result hsp.TaskResultPayload
	err = retry.Do(
		func() error {
			var attemptErr error
			result, attemptErr = d.sendAndWait(ctx, provider, subtask, params)
			return attemptErr
		},
		retry.Context(ctx),
		retry.Attempts(d.maxAttempts),
		retry.Delay(d.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(attempt uint, err error) {
			logging.Coordinator("task %d attempt %d failed, retrying: %v", index, attempt+1, err)
		}),
	)
	if err != nil {
		if transientErr, ok := err.(*transientError); ok && transientErr.timedOut {
			return timeoutOutcome(index, capability, transientErr.Error())
		}
		// Retries exhausted on an agent-reported failure: surface the
		// agent's error rather than a generic dispatch one.
		if result.Status == hsp.TaskStatusFailure && result.Error != nil {
			return failureOutcome(index, capability, result)
		}
		return dispatchOutcome(index, capability, hsp.ErrCodeDispatchFailed, err.Error())
	}

	if result.Status == hsp.TaskStatusSuccess {
		return successOutcome(index, capability, result)
	}
	return failureOutcome(index, capability, result)
}

// findProvider resolves the best advertisement for a capability name,
// launching the builtin agent for it when discovery comes up empty.
func (d *dispatcher) findProvider(ctx context.Context, capability string) (hsp.CapabilityAdvertisement, bool, error) {
	filter := discovery.Filter{Name: agents.NormalizeCapability(capability)}

	providers := d.registry.Find(filter)
	if len(providers) == 0 && d.launcher != nil {
		logging.Coordinator("no live provider for %q, launching an agent", capability)
		launched, err := d.launcher.LaunchForCapability(ctx, capability)
		if err != nil {
			return hsp.CapabilityAdvertisement{}, false, err
		}
		providers = launched
	}
	if len(providers) == 0 {
		return hsp.CapabilityAdvertisement{}, false, nil
	}

	sort.Slice(providers, func(i, j int) bool {
		return providers[i].CapabilityID < providers[j].CapabilityID
	})
	return providers[0], true, nil
}

// transientError marks dispatch failures worth another attempt.
type transientError struct {
	message  string
	timedOut bool
}

func (e *transientError) Error() string { return e.message }

func isTransient(err error) bool {
	_, ok := err.(*transientError)
	return ok
}

// sendAndWait performs one request/response exchange. The result channel is
// registered before the send so even an instant reply cannot be missed.
func (d *dispatcher) sendAndWait(ctx context.Context, provider hsp.CapabilityAdvertisement, subtask Subtask, params map[string]any) (hsp.TaskResultPayload, error) {
	requestID := "taskreq_" + uuid.New().String()
	ch := d.register(requestID)
	defer d.unregister(requestID)

	payload := hsp.TaskRequestPayload{
		RequestID:          requestID,
		TargetAIID:         provider.AIID,
		CapabilityIDFilter: provider.CapabilityID,
		Parameters:         params,
		Description:        subtask.TaskDescription,
	}
	if _, err := d.connector.SendTaskRequest(ctx, payload, provider.AIID); err != nil {
		return hsp.TaskResultPayload{}, &transientError{message: fmt.Sprintf("send failed: %v", err)}
	}

	select {
	case result := <-ch:
		if result.Status == hsp.TaskStatusFailure && result.Error != nil && result.Error.Retryable {
			return result, &transientError{message: result.Error.Error()}
		}
		return result, nil
	case <-ctx.Done():
		return hsp.TaskResultPayload{}, fmt.Errorf("dispatch cancelled: %w", ctx.Err())
	case <-time.After(d.timeout):
		return hsp.TaskResultPayload{}, &transientError{
			message:  fmt.Sprintf("no result from %s within %s", provider.AIID, d.timeout),
			timedOut: true,
		}
	}
}

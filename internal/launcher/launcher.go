// Package launcher brings builtin agents up on demand and tears them down
// again. The coordinator uses it when a subtask needs a capability that has
// no live provider on the bus.
package launcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"angela/internal/agents"
	"angela/internal/discovery"
	"angela/internal/hsp"
	"angela/internal/logging"
)

// DefaultReadyTimeout bounds how long WaitForReady waits for a freshly
// launched agent's first advertisement.
const DefaultReadyTimeout = 10 * time.Second

// Launcher owns the set of locally running agents.
type Launcher struct {
	bus      hsp.Bus
	registry *discovery.Registry
	agentCfg agents.Config

	mu      sync.Mutex
	running map[string]*agents.Agent // keyed by agent kind
}

// New creates a launcher. agentCfg supplies queue and retry settings for
// every agent it starts; the AIID field is ignored and generated per launch.
func New(bus hsp.Bus, registry *discovery.Registry, agentCfg agents.Config) *Launcher {
	return &Launcher{
		bus:      bus,
		registry: registry,
		agentCfg: agentCfg,
		running:  make(map[string]*agents.Agent),
	}
}

// Launch starts the builtin agent of the given kind if it is not already
// running, and returns its AI ID. Launching an already-running kind is a
// no-op.
func (l *Launcher) Launch(ctx context.Context, kind string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if agent, ok := l.running[kind]; ok {
		return agent.AIID(), nil
	}

	ctor, ok := agents.Builtin(kind)
	if !ok {
		return "", fmt.Errorf("unknown agent kind: %q", kind)
	}

	cfg := l.agentCfg
	cfg.AIID = fmt.Sprintf("did:hsp:%s_agent_%s", kind, uuid.NewString()[:6])

	agent := ctor(cfg, l.bus)
	if err := agent.Start(ctx); err != nil {
		return "", fmt.Errorf("launching %s agent: %w", kind, err)
	}

	l.running[kind] = agent
	logging.Agents("launched %s agent as %s", kind, cfg.AIID)
	return cfg.AIID, nil
}

// LaunchForCapability resolves which agent kind serves the capability,
// launches it, and blocks until the capability shows up in discovery.
func (l *Launcher) LaunchForCapability(ctx context.Context, capability string) ([]hsp.CapabilityAdvertisement, error) {
	kind, ok := agents.KindForCapability(capability)
	if !ok {
		return nil, fmt.Errorf("no agent kind provides capability %q", capability)
	}

	if _, err := l.Launch(ctx, kind); err != nil {
		return nil, err
	}
	return l.WaitForReady(ctx, capability)
}

// WaitForReady polls discovery until a provider for the capability appears.
func (l *Launcher) WaitForReady(ctx context.Context, capability string) ([]hsp.CapabilityAdvertisement, error) {
	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, DefaultReadyTimeout)
		defer cancel()
	}

	found, err := l.registry.AwaitCapability(waitCtx, discovery.Filter{Name: agents.NormalizeCapability(capability)})
	if err != nil {
		return nil, fmt.Errorf("agent for %q did not become ready: %w", capability, err)
	}
	return found, nil
}

// Running lists the kinds of agents currently managed by this launcher.
func (l *Launcher) Running() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]string, 0, len(l.running))
	for kind := range l.running {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Shutdown stops the agent of the given kind if running.
func (l *Launcher) Shutdown(kind string) {
	l.mu.Lock()
	agent, ok := l.running[kind]
	delete(l.running, kind)
	l.mu.Unlock()
	if ok {
		agent.Stop()
		logging.Agents("shut down %s agent %s", kind, agent.AIID())
	}
}

// ShutdownAll stops every managed agent.
func (l *Launcher) ShutdownAll() {
	l.mu.Lock()
	running := l.running
	l.running = make(map[string]*agents.Agent)
	l.mu.Unlock()

	for kind, agent := range running {
		agent.Stop()
		logging.Agents("shut down %s agent %s", kind, agent.AIID())
	}
}

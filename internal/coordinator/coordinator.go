package coordinator

import (
	"context"
	"fmt"
	"time"

	"angela/internal/casestore"
	"angela/internal/discovery"
	"angela/internal/hsp"
	"angela/internal/launcher"
	"angela/internal/llm"
	"angela/internal/logging"
)

// Config tunes project handling. Zero values take defaults.
type Config struct {
	AIID            string
	DispatchTimeout time.Duration
	MaxAttempts     uint
	RetryDelay      time.Duration
	PromptsPath     string
}

func (c *Config) applyDefaults() {
	if c.AIID == "" {
		c.AIID = "did:hsp:coordinator"
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
}

// ProjectResult is what HandleProject returns to the caller.
type ProjectResult struct {
	Response string
	Subtasks []Subtask
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Succeeded reports whether every subtask produced a payload.
func (r ProjectResult) Succeeded() bool {
	for _, outcome := range r.Outcomes {
		if !outcome.OK() {
			return false
		}
	}
	return len(r.Outcomes) > 0
}

// Coordinator orchestrates a project: decomposition, dependency ordering,
// dispatch, and integration.
type Coordinator struct {
	cfg        Config
	connector  *hsp.Connector
	registry   *discovery.Registry
	launcher   *launcher.Launcher
	llm        llm.Client
	prompts    *Prompts
	dispatcher *dispatcher
	store      *casestore.Store // optional
}

// New wires a coordinator onto the bus. The store may be nil when case
// persistence is disabled.
func New(cfg Config, bus hsp.Bus, registry *discovery.Registry, l *launcher.Launcher, client llm.Client, store *casestore.Store) (*Coordinator, error) {
	cfg.applyDefaults()

	prompts, err := NewPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	connector := hsp.NewConnector(cfg.AIID, bus)
	d := newDispatcher(connector, registry, l, cfg.DispatchTimeout, cfg.MaxAttempts, cfg.RetryDelay)

	connector.RegisterOnCapability(registry.ProcessAdvertisement)
	connector.RegisterOnTaskResult(d.onTaskResult)

	return &Coordinator{
		cfg:        cfg,
		connector:  connector,
		registry:   registry,
		launcher:   l,
		llm:        client,
		prompts:    prompts,
		dispatcher: d,
		store:      store,
	}, nil
}

// Start attaches the coordinator to the bus.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.connector.Start(ctx)
}

// Close detaches from the bus and stops the prompt watcher.
func (c *Coordinator) Close() {
	c.connector.Close()
	c.prompts.Close()
}

// HandleProject runs the full pipeline for one user request. Subtasks whose
// dependencies failed are skipped rather than dispatched with unresolved
// placeholders.
func (c *Coordinator) HandleProject(ctx context.Context, query string) (ProjectResult, error) {
	started := time.Now()
	logging.Coordinator("handling project: %.120s", query)

	subtasks, err := decompose(ctx, c.llm, c.prompts, query, c.registry.All())
	if err != nil {
		return ProjectResult{}, fmt.Errorf("could not decompose request: %w", err)
	}

	graph, err := BuildGraph(subtasks)
	if err != nil {
		return ProjectResult{Subtasks: subtasks}, fmt.Errorf("invalid task plan: %w", err)
	}

	outcomes := c.execute(ctx, graph)

	response := integrate(ctx, c.llm, c.prompts, query, outcomes)
	result := ProjectResult{
		Response: response,
		Subtasks: subtasks,
		Outcomes: outcomes,
		Elapsed:  time.Since(started),
	}

	c.recordCase(query, result)
	logging.Coordinator("project finished in %s (succeeded=%v)", result.Elapsed.Round(time.Millisecond), result.Succeeded())
	return result, nil
}

// execute dispatches the subtasks in topological order, substituting each
// task's placeholders with upstream outcomes.
func (c *Coordinator) execute(ctx context.Context, graph *TaskGraph) []Outcome {
	byIndex := make(map[int]Outcome, len(graph.Subtasks))

	for _, index := range graph.Order {
		subtask := graph.Subtasks[index]

		if failedDep, ok := failedDependency(graph.DependsOn[index], byIndex); ok {
			logging.Coordinator("skipping task %d: dependency %d failed", index, failedDep)
			byIndex[index] = skippedOutcome(index, subtask.CapabilityNeeded, failedDep)
			continue
		}

		params := SubstituteParameters(subtask.TaskParameters, byIndex)
		byIndex[index] = c.dispatcher.dispatch(ctx, index, subtask, params)
	}

	outcomes := make([]Outcome, len(graph.Subtasks))
	for i := range graph.Subtasks {
		outcomes[i] = byIndex[i]
	}
	return outcomes
}

func failedDependency(deps []int, byIndex map[int]Outcome) (int, bool) {
	for _, dep := range deps {
		if outcome, ok := byIndex[dep]; ok && !outcome.OK() {
			return dep, true
		}
	}
	return 0, false
}

func (c *Coordinator) recordCase(query string, result ProjectResult) {
	if c.store == nil {
		return
	}
	_, err := c.store.Save(casestore.Case{
		Query:     query,
		Subtasks:  casestore.MarshalField(result.Subtasks),
		Results:   casestore.MarshalField(result.Outcomes),
		Response:  result.Response,
		Succeeded: result.Succeeded(),
		ElapsedMS: result.Elapsed.Milliseconds(),
	})
	if err != nil {
		logging.Coordinator("failed to record case: %v", err)
	}
}

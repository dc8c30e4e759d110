package coordinator

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"angela/internal/logging"
)

// Default prompt templates. Overridable via configs/prompts.yaml, which is
// hot-reloaded while the process runs.

const defaultDecompositionPrompt = `You are a task decomposition engine. Break the user's request into a JSON list of subtasks.

Each subtask must be an object with these fields:
- "capability_needed": one of the available capability names below
- "task_parameters": an object with the parameters for that capability
- "task_description": a short human-readable description

A subtask may reference the output of an earlier subtask by using the string "<output_of_task_N>" (N is the zero-based index of that subtask) anywhere inside task_parameters.

Available capabilities:
{{capabilities}}

User request:
{{query}}

Respond with ONLY the JSON list, no prose.`

const defaultIntegrationPrompt = `You are integrating the results of a multi-step plan into one answer.

Original request:
{{query}}

Subtask results (JSON, in execution order):
{{results}}

Write a clear, direct response to the original request based on these results. Mention failures only if they prevent answering.`

// promptFile mirrors the YAML override layout.
type promptFile struct {
	Decomposition string `yaml:"decomposition"`
	Integration   string `yaml:"integration"`
}

// Prompts serves the current prompt templates and keeps them fresh when the
// override file changes on disk.
type Prompts struct {
	mu            sync.RWMutex
	decomposition string
	integration   string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPrompts returns the built-in templates, overlaid with the YAML file at
// path when it exists. An empty path skips overrides entirely.
func NewPrompts(path string) (*Prompts, error) {
	p := &Prompts{
		decomposition: defaultDecompositionPrompt,
		integration:   defaultIntegrationPrompt,
		done:          make(chan struct{}),
	}
	if path == "" {
		return p, nil
	}

	if err := p.load(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Coordinator("prompt watcher unavailable: %v", err)
		return p, nil
	}
	if err := watcher.Add(path); err != nil {
		// File may not exist yet; reload stays manual in that case.
		watcher.Close()
		return p, nil
	}
	p.watcher = watcher
	go p.watch(path)
	return p, nil
}

func (p *Prompts) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse prompts file %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if file.Decomposition != "" {
		p.decomposition = file.Decomposition
	}
	if file.Integration != "" {
		p.integration = file.Integration
	}
	return nil
}

func (p *Prompts) watch(path string) {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := p.load(path); err != nil {
					logging.Coordinator("prompt reload failed: %v", err)
				} else {
					logging.Coordinator("reloaded prompts from %s", path)
				}
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			logging.Coordinator("prompt watcher error: %v", err)
		}
	}
}

// Close stops the file watcher.
func (p *Prompts) Close() {
	close(p.done)
	if p.watcher != nil {
		p.watcher.Close()
	}
}

// DecompositionPrompt renders the decomposition template.
func (p *Prompts) DecompositionPrompt(query, capabilities string) string {
	p.mu.RLock()
	template := p.decomposition
	p.mu.RUnlock()
	return renderPrompt(template, map[string]string{
		"query":        query,
		"capabilities": capabilities,
	})
}

// IntegrationPrompt renders the integration template.
func (p *Prompts) IntegrationPrompt(query, results string) string {
	p.mu.RLock()
	template := p.integration
	p.mu.RUnlock()
	return renderPrompt(template, map[string]string{
		"query":   query,
		"results": results,
	})
}

func renderPrompt(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// Package llm abstracts the language model used for task decomposition and
// result integration.
package llm

import (
	"context"
	"fmt"
)

// Client is the minimal completion surface the coordinator needs.
type Client interface {
	// Complete sends a prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt under a system instruction.
	CompleteWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// Config selects and tunes the model backend.
type Config struct {
	Provider    string  `yaml:"provider"` // "gemini"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature"`
}

// NewClient builds a client for the configured provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}

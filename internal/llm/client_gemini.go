package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"angela/internal/logging"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient completes prompts against Google's Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends a prompt and returns the model's text response.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, nil, prompt)
}

// CompleteWithSystem sends a prompt under a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	var instruction *genai.Content
	if system != "" {
		instruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return c.generate(ctx, instruction, prompt)
}

func (c *GeminiClient) generate(ctx context.Context, system *genai.Content, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "gemini generate")

	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}
	if c.temperature > 0 {
		temp := c.temperature
		config.Temperature = &temp
	}

	result, err := c.client.Models.GenerateContent(ctx,
		c.model,
		genai.Text(prompt),
		config,
	)
	if err != nil {
		timer.Stop()
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		timer.Stop()
		return "", fmt.Errorf("gemini returned an empty response")
	}

	elapsed := timer.Stop()
	logging.LLM("generate model=%s prompt_len=%d response_len=%d elapsed=%s",
		c.model, len(prompt), len(text), elapsed.Round(time.Millisecond))
	return text, nil
}

// Name identifies the backend for logs.
func (c *GeminiClient) Name() string {
	return fmt.Sprintf("gemini:%s", c.model)
}

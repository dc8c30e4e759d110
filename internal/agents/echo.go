package agents

import (
	"context"
	"time"

	"angela/internal/hsp"
)

// NewEchoAgent builds a trivial agent that mirrors its parameters back.
// Useful for connectivity checks and end-to-end tests.
func NewEchoAgent(cfg Config, bus hsp.Bus) *Agent {
	agent := New(cfg, bus)

	agent.RegisterCapability(hsp.CapabilityAdvertisement{
		CapabilityID: cfg.AIID + "_echo_v1.0",
		Name:         "echo",
		Description:  "Returns the received parameters unchanged.",
		Version:      "1.0",
		Tags:         []string{"diagnostic"},
	}, func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{
			"echoed":    params,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil
	})

	return agent
}

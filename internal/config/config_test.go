package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AIID != "did:hsp:angela_coordinator" {
		t.Errorf("AIID = %q", cfg.AIID)
	}
	if cfg.Bus.Type != "memory" {
		t.Errorf("Bus.Type = %q", cfg.Bus.Type)
	}
	if cfg.DispatchTimeout() != 30*time.Second {
		t.Errorf("DispatchTimeout = %s", cfg.DispatchTimeout())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ai_id: did:hsp:test_coordinator
bus:
  type: amqp
  url: amqp://broker:5672/
coordinator:
  dispatch_timeout: 10s
  max_attempts: 5
agents:
  autostart: [nlp_processing, echo]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AIID != "did:hsp:test_coordinator" {
		t.Errorf("AIID = %q", cfg.AIID)
	}
	if cfg.Bus.Type != "amqp" || cfg.Bus.URL != "amqp://broker:5672/" {
		t.Errorf("Bus = %+v", cfg.Bus)
	}
	if cfg.DispatchTimeout() != 10*time.Second {
		t.Errorf("DispatchTimeout = %s", cfg.DispatchTimeout())
	}
	if cfg.Coordinator.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d", cfg.Coordinator.MaxAttempts)
	}
	if len(cfg.Agents.Autostart) != 2 || cfg.Agents.Autostart[0] != "nlp_processing" {
		t.Errorf("Autostart = %v", cfg.Agents.Autostart)
	}
	// Untouched sections keep defaults.
	if cfg.Store.Path == "" || !cfg.Store.Enabled {
		t.Errorf("Store = %+v", cfg.Store)
	}
}

func TestLoad_InvalidBusType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bus:\n  type: carrier_pigeon\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANGELA_AI_ID", "did:hsp:from_env")
	t.Setenv("ANGELA_AMQP_URL", "amqp://env:5672/")
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AIID != "did:hsp:from_env" {
		t.Errorf("AIID = %q", cfg.AIID)
	}
	if cfg.Bus.Type != "amqp" || cfg.Bus.URL != "amqp://env:5672/" {
		t.Errorf("Bus = %+v", cfg.Bus)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.AIID = "did:hsp:saved"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.AIID != "did:hsp:saved" {
		t.Errorf("AIID = %q", loaded.AIID)
	}
}

func TestParseDurationFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coordinator.DispatchTimeout = "garbage"
	if cfg.DispatchTimeout() != 30*time.Second {
		t.Errorf("fallback = %s", cfg.DispatchTimeout())
	}
}

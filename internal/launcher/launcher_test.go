package launcher

import (
	"context"
	"testing"
	"time"

	"angela/internal/agents"
	"angela/internal/discovery"
	"angela/internal/hsp"
)

// testFabric wires a bus, a discovery registry fed by a connector, and a
// launcher, the way the coordinator composes them.
func testFabric(t *testing.T) (hsp.Bus, *discovery.Registry, *Launcher) {
	t.Helper()

	bus := hsp.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	registry := discovery.NewRegistry(0)
	observer := hsp.NewConnector("coordinator", bus)
	observer.RegisterOnCapability(registry.ProcessAdvertisement)
	if err := observer.Start(context.Background()); err != nil {
		t.Fatalf("observer start: %v", err)
	}
	t.Cleanup(observer.Close)

	l := New(bus, registry, agents.Config{AdvertiseTTL: time.Minute})
	t.Cleanup(l.ShutdownAll)
	return bus, registry, l
}

func TestLauncher_LaunchForCapability(t *testing.T) {
	_, registry, l := testFabric(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	found, err := l.LaunchForCapability(ctx, "sentiment_analysis")
	if err != nil {
		t.Fatalf("LaunchForCapability: %v", err)
	}
	if len(found) == 0 {
		t.Fatal("no provider reported ready")
	}
	if found[0].Name != "sentiment_analysis" {
		t.Errorf("ready capability = %q", found[0].Name)
	}

	// The whole nlp agent came up, so sibling capabilities are live too.
	if caps := registry.Find(discovery.Filter{Name: "entity_extraction"}); len(caps) == 0 {
		t.Error("sibling capability not advertised")
	}
	if running := l.Running(); len(running) != 1 || running[0] != "nlp_processing" {
		t.Errorf("Running() = %v", running)
	}
}

func TestLauncher_LaunchIsIdempotent(t *testing.T) {
	_, _, l := testFabric(t)

	ctx := context.Background()
	first, err := l.Launch(ctx, "echo")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	second, err := l.Launch(ctx, "echo")
	if err != nil {
		t.Fatalf("second Launch: %v", err)
	}
	if first != second {
		t.Errorf("relaunch changed AI ID: %q then %q", first, second)
	}
}

func TestLauncher_UnknownKind(t *testing.T) {
	_, _, l := testFabric(t)
	if _, err := l.Launch(context.Background(), "time_travel"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := l.LaunchForCapability(context.Background(), "quantum_teleportation"); err == nil {
		t.Error("expected error for unmapped capability")
	}
}

func TestLauncher_Shutdown(t *testing.T) {
	_, _, l := testFabric(t)

	if _, err := l.Launch(context.Background(), "echo"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	l.Shutdown("echo")
	if running := l.Running(); len(running) != 0 {
		t.Errorf("Running() after Shutdown = %v", running)
	}

	// Shutting down a kind that is not running is harmless.
	l.Shutdown("echo")
}

func TestLauncher_WaitForReadyTimeout(t *testing.T) {
	_, _, l := testFabric(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := l.WaitForReady(ctx, "sentiment_analysis"); err == nil {
		t.Error("expected timeout waiting for a capability nobody provides")
	}
}

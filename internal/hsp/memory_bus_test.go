package hsp

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ch, err := bus.Subscribe("hsp.requests.agent_1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), "hsp.requests.agent_1", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case d := <-ch:
		if string(d.Body) != "hello" {
			t.Errorf("got body %q", d.Body)
		}
		if d.Topic != "hsp.requests.agent_1" {
			t.Errorf("got topic %q", d.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryBus_WildcardRouting(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	all, err := bus.Subscribe("hsp.capabilities.advertisements.*")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	other, err := bus.Subscribe("hsp.requests.agent_2")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), "hsp.capabilities.advertisements.nlp", []byte("cap")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case d := <-all:
		if string(d.Body) != "cap" {
			t.Errorf("got body %q", d.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber did not receive message")
	}

	select {
	case d := <-other:
		t.Errorf("unrelated subscriber received %q", d.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	if _, err := bus.Subscribe("hsp.requests.slow"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Nobody drains the channel; overflow messages must be dropped, not
	// block the publisher.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < memoryBusBuffer+10; i++ {
			_ = bus.Publish(context.Background(), "hsp.requests.slow", []byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus()
	ch, err := bus.Subscribe("hsp.requests.agent_1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := <-ch; ok {
		t.Error("subscription channel should be closed")
	}
	if err := bus.Publish(context.Background(), "hsp.requests.agent_1", []byte("x")); err == nil {
		t.Error("Publish after Close should fail")
	}
	if _, err := bus.Subscribe("hsp.requests.agent_2"); err == nil {
		t.Error("Subscribe after Close should fail")
	}
	// Idempotent
	if err := bus.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestMemoryBus_PublishCancelledContext(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Publish(ctx, "hsp.requests.agent_1", []byte("x")); err == nil {
		t.Error("Publish with cancelled context should fail")
	}
}

package hsp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// startConnector spins up a connector on the shared bus and tears it down
// with the test.
func startConnector(t *testing.T, bus Bus, aiID string) *Connector {
	t.Helper()
	c := NewConnector(aiID, bus)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s) failed: %v", aiID, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestConnector_TaskRequestRoundTrip(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	requester := startConnector(t, bus, "coordinator")
	provider := startConnector(t, bus, "echo_agent")

	results := make(chan TaskResultPayload, 1)
	requester.RegisterOnTaskResult(func(p TaskResultPayload, sender string, env Envelope) {
		if sender != "echo_agent" {
			t.Errorf("result sender = %q", sender)
		}
		if env.CorrelationID != p.RequestID {
			t.Errorf("correlation id %q != request id %q", env.CorrelationID, p.RequestID)
		}
		results <- p
	})

	provider.RegisterOnTaskRequest(func(p TaskRequestPayload, sender string, env Envelope) {
		result, err := SuccessResult(p.RequestID, "echo_agent", p.Parameters)
		if err != nil {
			t.Errorf("SuccessResult: %v", err)
			return
		}
		if err := provider.SendTaskResult(context.Background(), result, p.CallbackAddress, p.RequestID); err != nil {
			t.Errorf("SendTaskResult: %v", err)
		}
	})

	corrID, err := requester.SendTaskRequest(context.Background(), TaskRequestPayload{
		CapabilityIDFilter: "echo_v1.0",
		Parameters:         map[string]any{"data": "ping"},
	}, "echo_agent")
	if err != nil {
		t.Fatalf("SendTaskRequest failed: %v", err)
	}
	if corrID == "" {
		t.Fatal("expected non-empty correlation id")
	}

	select {
	case result := <-results:
		if result.Status != TaskStatusSuccess {
			t.Errorf("status = %s", result.Status)
		}
		var echoed map[string]any
		if err := json.Unmarshal(result.Payload, &echoed); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if echoed["data"] != "ping" {
			t.Errorf("echoed payload = %v", echoed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestConnector_CapabilityAdvertisement(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	observer := startConnector(t, bus, "coordinator")
	agent := startConnector(t, bus, "nlp_agent")

	var mu sync.Mutex
	var seen []CapabilityAdvertisement
	observer.RegisterOnCapability(func(p CapabilityAdvertisement, sender string, env Envelope) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	err := agent.Advertise(context.Background(), CapabilityAdvertisement{
		CapabilityID:       "nlp_agent_sentiment_analysis_v1.0",
		Name:               "Sentiment Analysis",
		Version:            "1.0",
		AvailabilityStatus: "online",
	})
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("advertisement never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0].AIID != "nlp_agent" {
		t.Errorf("AIID defaulted to %q, want nlp_agent", seen[0].AIID)
	}
	if seen[0].CapabilityID != "nlp_agent_sentiment_analysis_v1.0" {
		t.Errorf("CapabilityID = %q", seen[0].CapabilityID)
	}
}

func TestConnector_MalformedMessagesAreDropped(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	c := startConnector(t, bus, "coordinator")

	got := make(chan TaskResultPayload, 1)
	c.RegisterOnTaskResult(func(p TaskResultPayload, sender string, env Envelope) {
		got <- p
	})

	// Garbage envelope, then garbage payload, then a valid result. The loop
	// must survive the first two and deliver the third.
	topic := ResultsTopic("coordinator", "req_1")
	_ = bus.Publish(context.Background(), topic, []byte("not json"))

	badEnv, _ := json.Marshal(Envelope{
		MessageID:       "msg_bad",
		MessageType:     MessageTypeTaskResult,
		ProtocolVersion: ProtocolVersion,
		SenderAIID:      "x",
		Payload:         json.RawMessage(`"not an object"`),
	})
	_ = bus.Publish(context.Background(), topic, badEnv)

	other := startConnector(t, bus, "echo_agent")
	result, _ := SuccessResult("req_1", "echo_agent", map[string]string{"ok": "yes"})
	if err := other.SendTaskResult(context.Background(), result, topic, "req_1"); err != nil {
		t.Fatalf("SendTaskResult failed: %v", err)
	}

	select {
	case p := <-got:
		if p.RequestID != "req_1" {
			t.Errorf("RequestID = %q", p.RequestID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid result was not delivered after malformed traffic")
	}
}

func TestConnector_DoubleStart(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	c := startConnector(t, bus, "coordinator")
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestConnector_CallbackAddressDefault(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	requester := startConnector(t, bus, "coordinator")
	provider := startConnector(t, bus, "echo_agent")

	callbacks := make(chan string, 1)
	provider.RegisterOnTaskRequest(func(p TaskRequestPayload, sender string, env Envelope) {
		callbacks <- p.CallbackAddress
	})

	corrID, err := requester.SendTaskRequest(context.Background(), TaskRequestPayload{
		CapabilityIDFilter: "echo_v1.0",
	}, "echo_agent")
	if err != nil {
		t.Fatalf("SendTaskRequest failed: %v", err)
	}

	select {
	case addr := <-callbacks:
		want := ResultsTopic("coordinator", corrID)
		if addr != want {
			t.Errorf("callback address = %q, want %q", addr, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
}

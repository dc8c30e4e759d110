package hsp

import "testing"

func TestTopicBuilders(t *testing.T) {
	if got := RequestsTopic("did:hsp:agent_1"); got != "hsp.requests.did:hsp:agent_1" {
		t.Errorf("RequestsTopic = %q", got)
	}
	if got := ResultsTopic("coordinator", "taskreq_abc"); got != "hsp.results.coordinator.taskreq_abc" {
		t.Errorf("ResultsTopic = %q", got)
	}
	if got := CapabilityTopic("nlp_agent"); got != "hsp.capabilities.advertisements.nlp_agent" {
		t.Errorf("CapabilityTopic = %q", got)
	}
}

func TestTopicBuilders_SanitizeSegments(t *testing.T) {
	// IDs must not inject extra topic levels or wildcards.
	if got := RequestsTopic("evil.id.#"); got != "hsp.requests.evil_id__" {
		t.Errorf("sanitized topic = %q", got)
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"hsp.requests.agent_1", "hsp.requests.agent_1", true},
		{"hsp.requests.agent_1", "hsp.requests.agent_2", false},
		{"hsp.requests.*", "hsp.requests.agent_1", true},
		{"hsp.requests.*", "hsp.requests.agent_1.extra", false},
		{"hsp.results.coord.#", "hsp.results.coord.req_1", true},
		{"hsp.results.coord.#", "hsp.results.coord", true},
		{"hsp.results.coord.#", "hsp.results.other.req_1", false},
		{"hsp.capabilities.advertisements.*", "hsp.capabilities.advertisements.nlp", true},
		{"#", "anything.at.all", true},
		{"hsp.*.agent_1", "hsp.requests.agent_1", true},
		{"hsp.#.agent_1", "hsp.a.b.agent_1", true},
		{"hsp.requests", "hsp.requests.agent_1", false},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

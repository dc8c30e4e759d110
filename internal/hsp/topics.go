package hsp

import "strings"

// Topic scheme. Segments are dot-separated so they map directly onto AMQP
// topic-exchange routing keys:
//
//	hsp.requests.<ai_id>                      task requests addressed to one agent
//	hsp.results.<ai_id>.<request_id>          result callback for one request
//	hsp.capabilities.advertisements.<ai_id>   capability advertisements
//
// Subscription patterns use the AMQP wildcards: "*" matches exactly one
// segment, "#" matches zero or more trailing segments.
const (
	topicRequests     = "hsp.requests"
	topicResults      = "hsp.results"
	topicCapabilities = "hsp.capabilities.advertisements"
)

// RequestsTopic is the topic an agent consumes task requests from.
func RequestsTopic(aiID string) string {
	return topicRequests + "." + sanitizeSegment(aiID)
}

// ResultsTopic is the default callback topic for one request.
func ResultsTopic(aiID, requestID string) string {
	return topicResults + "." + sanitizeSegment(aiID) + "." + sanitizeSegment(requestID)
}

// ResultsPattern subscribes to every result addressed to aiID.
func ResultsPattern(aiID string) string {
	return topicResults + "." + sanitizeSegment(aiID) + ".#"
}

// CapabilityTopic is where an agent publishes its advertisements.
func CapabilityTopic(aiID string) string {
	return topicCapabilities + "." + sanitizeSegment(aiID)
}

// CapabilitiesPattern subscribes to every capability advertisement.
func CapabilitiesPattern() string {
	return topicCapabilities + ".*"
}

// MatchTopic reports whether a concrete topic matches a subscription
// pattern with AMQP topic-exchange wildcard semantics.
func MatchTopic(pattern, topic string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchSegments(pattern, topic []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			// "#" may absorb zero or more segments.
			for i := 0; i <= len(topic); i++ {
				if matchSegments(pattern[1:], topic[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(topic) == 0 {
				return false
			}
		default:
			if len(topic) == 0 || pattern[0] != topic[0] {
				return false
			}
		}
		pattern = pattern[1:]
		topic = topic[1:]
	}
	return len(topic) == 0
}

// sanitizeSegment keeps IDs from injecting extra topic levels.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, "#", "_")
	return s
}

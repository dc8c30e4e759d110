package agents

import (
	"sort"
	"strings"

	"angela/internal/hsp"
)

// Constructor builds a preconfigured agent on the given bus.
type Constructor func(cfg Config, bus hsp.Bus) *Agent

// builtins maps agent kinds to their constructors. The launcher uses this
// to bring up an agent on demand when a needed capability has no live
// provider.
var builtins = map[string]Constructor{
	"nlp_processing": NewNLPAgent,
	"data_analysis":  NewDataAnalysisAgent,
	"echo":           NewEchoAgent,
}

// capabilityKinds maps capability names to the builtin agent kind that
// provides them.
var capabilityKinds = map[string]string{
	"text_summarization":     "nlp_processing",
	"sentiment_analysis":     "nlp_processing",
	"entity_extraction":      "nlp_processing",
	"language_detection":     "nlp_processing",
	"statistical_analysis":   "data_analysis",
	"arithmetic_calculation": "data_analysis",
	"echo":                   "echo",
}

// Builtin looks up a constructor by agent kind.
func Builtin(kind string) (Constructor, bool) {
	ctor, ok := builtins[kind]
	return ctor, ok
}

// BuiltinKinds lists the known agent kinds in stable order.
func BuiltinKinds() []string {
	kinds := make([]string, 0, len(builtins))
	for kind := range builtins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// NormalizeCapability reduces a capability reference to its canonical name:
// "nlp_agent_sentiment_analysis_v1.0" becomes "sentiment_analysis". Unknown
// references are returned unchanged.
func NormalizeCapability(capability string) string {
	if _, ok := capabilityKinds[capability]; ok {
		return capability
	}
	best := ""
	for name := range capabilityKinds {
		if strings.Contains(capability, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return best
	}
	return capability
}

// KindForCapability resolves which builtin agent provides the named
// capability. Version suffixes and surrounding identifiers are tolerated:
// "sentiment_analysis_v1.0" and "nlp_agent_sentiment_analysis_v1.0" both
// resolve to the nlp_processing kind.
func KindForCapability(capability string) (string, bool) {
	kind, ok := capabilityKinds[NormalizeCapability(capability)]
	return kind, ok
}

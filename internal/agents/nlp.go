package agents

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"angela/internal/hsp"
)

// NLP capability heuristics. These are deterministic and dependency-free on
// purpose: they give the fleet useful text capabilities without an extra
// model call per subtask.

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
	wordRe          = regexp.MustCompile(`\b\w+\b`)

	personRe   = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
	dateRe     = regexp.MustCompile(`\b(?:\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}[/-]\d{1,2}[/-]\d{1,2}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{2,4})\b`)
	emailRe    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe    = regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
	acronymRe  = regexp.MustCompile(`\b[A-Z]{2,}\b`)
	latinRe    = regexp.MustCompile(`[A-Za-z]`)
	chineseRe  = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
	arabicRe   = regexp.MustCompile(`[\x{0600}-\x{06ff}]`)
	cyrillicRe = regexp.MustCompile(`[\x{0400}-\x{04ff}]`)
)

var positiveWords = wordSet(
	"good", "great", "excellent", "amazing", "wonderful", "fantastic", "brilliant", "outstanding",
	"perfect", "superb", "marvelous", "terrific", "fabulous", "incredible", "awesome", "delightful",
	"pleasant", "enjoyable", "satisfactory", "fine", "nice", "positive", "happy", "pleased",
	"glad", "cheerful", "joyful", "enthusiastic", "optimistic", "confident", "hopeful", "encouraging",
)

var negativeWords = wordSet(
	"bad", "terrible", "awful", "horrible", "dreadful", "abysmal", "atrocious", "appalling",
	"disgusting", "revolting", "nauseating", "sickening", "vile", "ghastly", "grim", "dismal",
	"poor", "mediocre", "inferior", "substandard", "unsatisfactory", "disappointing", "frustrating",
	"annoying", "irritating", "bothersome", "troublesome", "problematic", "difficult", "challenging",
	"negative", "sad", "unhappy", "depressed", "displeased", "upset", "angry", "furious",
	"outraged", "livid", "enraged", "incensed", "irate", "infuriated", "offended", "hurt",
)

var neutralWords = wordSet(
	"okay", "alright", "fine", "acceptable", "adequate", "sufficient", "moderate", "average",
	"normal", "standard", "regular", "usual", "typical", "common", "ordinary", "conventional",
	"expected", "predictable", "stable", "consistent", "reliable", "steady", "unchanged",
)

var commonEnglishWords = wordSet(
	"the", "be", "to", "of", "and", "a", "in", "that", "have", "i",
	"it", "for", "not", "on", "with", "he", "as", "you", "do", "at",
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// NewNLPAgent builds an agent exposing the text-processing capabilities.
func NewNLPAgent(cfg Config, bus hsp.Bus) *Agent {
	agent := New(cfg, bus)
	aiID := cfg.AIID

	agent.RegisterCapability(hsp.CapabilityAdvertisement{
		CapabilityID: aiID + "_text_summarization_v1.0",
		Name:         "text_summarization",
		Description:  "Generates concise summaries of provided text content.",
		Version:      "1.0",
		Tags:         []string{"nlp", "text"},
	}, summarizeText)

	agent.RegisterCapability(hsp.CapabilityAdvertisement{
		CapabilityID: aiID + "_sentiment_analysis_v1.0",
		Name:         "sentiment_analysis",
		Description:  "Performs sentiment analysis on text content.",
		Version:      "1.0",
		Tags:         []string{"nlp", "text"},
	}, analyzeSentiment)

	agent.RegisterCapability(hsp.CapabilityAdvertisement{
		CapabilityID: aiID + "_entity_extraction_v1.0",
		Name:         "entity_extraction",
		Description:  "Extracts named entities (people, organizations, dates, contacts) from text.",
		Version:      "1.0",
		Tags:         []string{"nlp", "text"},
	}, extractEntities)

	agent.RegisterCapability(hsp.CapabilityAdvertisement{
		CapabilityID: aiID + "_language_detection_v1.0",
		Name:         "language_detection",
		Description:  "Detects the language of provided text content.",
		Version:      "1.0",
		Tags:         []string{"nlp", "text"},
	}, detectLanguage)

	return agent
}

func textParam(params map[string]any, operation string) (string, error) {
	text, _ := params["text"].(string)
	if text == "" {
		return "", &hsp.ErrorDetails{
			Code:    hsp.ErrCodeInvalidParameters,
			Message: fmt.Sprintf("no text provided for %s", operation),
		}
	}
	return text, nil
}

// summarizeText scores sentences by the frequency of their words across the
// whole text and keeps the top fraction, in original order.
func summarizeText(_ context.Context, params map[string]any) (any, error) {
	text, err := textParam(params, "summarization")
	if err != nil {
		return nil, err
	}
	length, _ := params["summary_length"].(string)

	var sentences []string
	for _, s := range sentenceSplitRe.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return map[string]any{"summary": "", "original_length": len(text), "summary_length": 0}, nil
	}

	freq := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		freq[w]++
	}

	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, len(sentences))
	for i, sentence := range sentences {
		score := 0
		for _, w := range wordRe.FindAllString(strings.ToLower(sentence), -1) {
			score += freq[w]
		}
		ranked[i] = scored{index: i, score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var keep int
	switch length {
	case "short":
		keep = max(1, len(sentences)/4)
	case "long":
		keep = max(1, len(sentences)/2)
	default:
		keep = max(1, len(sentences)/3)
	}

	top := ranked[:keep]
	sort.Slice(top, func(i, j int) bool { return top[i].index < top[j].index })

	parts := make([]string, len(top))
	for i, s := range top {
		parts[i] = sentences[s.index]
	}
	summary := strings.Join(parts, ". ") + "."

	return map[string]any{
		"summary":                summary,
		"original_length":        len(text),
		"summary_length":         len(summary),
		"compression_ratio":      round3(float64(len(summary)) / float64(len(text))),
		"num_sentences_original": len(sentences),
		"num_sentences_summary":  len(top),
	}, nil
}

// analyzeSentiment counts lexicon hits and derives a polarity in [-1, 1].
func analyzeSentiment(_ context.Context, params map[string]any) (any, error) {
	text, err := textParam(params, "sentiment analysis")
	if err != nil {
		return nil, err
	}

	words := wordRe.FindAllString(strings.ToLower(text), -1)
	var positive, negative, neutral int
	for _, w := range words {
		if _, ok := positiveWords[w]; ok {
			positive++
		}
		if _, ok := negativeWords[w]; ok {
			negative++
		}
		if _, ok := neutralWords[w]; ok {
			neutral++
		}
	}

	total := positive + negative + neutral
	var polarity, confidence float64
	if total == 0 {
		confidence = 0.5
	} else {
		polarity = float64(positive-negative) / float64(total)
		confidence = float64(total) / float64(len(words))
	}

	overall := "neutral"
	switch {
	case polarity > 0.1:
		overall = "positive"
	case polarity < -0.1:
		overall = "negative"
	}

	ratio := 0.0
	if len(words) > 0 {
		ratio = float64(total) / float64(len(words))
	}

	return map[string]any{
		"overall_sentiment":     overall,
		"polarity_score":        round3(polarity),
		"confidence":            round3(confidence),
		"positive_words_count":  positive,
		"negative_words_count":  negative,
		"neutral_words_count":   neutral,
		"total_words":           len(words),
		"sentiment_words_ratio": round3(ratio),
	}, nil
}

// extractEntities pulls entity candidates with pattern matching.
func extractEntities(_ context.Context, params map[string]any) (any, error) {
	text, err := textParam(params, "entity extraction")
	if err != nil {
		return nil, err
	}

	var persons []string
	for _, candidate := range personRe.FindAllString(text, -1) {
		lower := strings.ToLower(candidate)
		if len(candidate) > 1 && lower != "the" && lower != "this" && lower != "that" && lower != "these" && lower != "those" {
			persons = append(persons, candidate)
		}
	}
	persons = dedupe(persons)

	personSet := make(map[string]struct{}, len(persons))
	for _, p := range persons {
		personSet[p] = struct{}{}
	}
	var organizations []string
	for _, candidate := range acronymRe.FindAllString(text, -1) {
		if _, isPerson := personSet[candidate]; len(candidate) > 2 && !isPerson {
			organizations = append(organizations, candidate)
		}
	}
	organizations = dedupe(organizations)

	dates := dedupe(dateRe.FindAllString(text, -1))
	emails := dedupe(emailRe.FindAllString(text, -1))
	phones := dedupe(phoneRe.FindAllString(text, -1))

	return map[string]any{
		"persons":        persons,
		"organizations":  organizations,
		"dates":          dates,
		"emails":         emails,
		"phones":         phones,
		"total_entities": len(persons) + len(organizations) + len(dates) + len(emails) + len(phones),
	}, nil
}

// detectLanguage classifies by script coverage, falling back to a common
// English word check when no script dominates.
func detectLanguage(_ context.Context, params map[string]any) (any, error) {
	text, err := textParam(params, "language detection")
	if err != nil {
		return nil, err
	}

	latin := len(latinRe.FindAllString(text, -1))
	chinese := len(chineseRe.FindAllString(text, -1))
	arabic := len(arabicRe.FindAllString(text, -1))
	cyrillic := len(cyrillicRe.FindAllString(text, -1))
	total := len([]rune(text))

	scores := map[string]float64{
		"English": float64(latin) / float64(total),
		"Chinese": float64(chinese) / float64(total),
		"Arabic":  float64(arabic) / float64(total),
		"Russian": float64(cyrillic) / float64(total),
	}

	detected := "unknown"
	confidence := 0.0
	for _, lang := range []string{"English", "Chinese", "Arabic", "Russian"} {
		if scores[lang] > confidence {
			detected = lang
			confidence = scores[lang]
		}
	}

	if confidence < 0.3 {
		words := wordRe.FindAllString(strings.ToLower(text), -1)
		hits := 0
		for _, w := range words {
			if _, ok := commonEnglishWords[w]; ok {
				hits++
			}
		}
		if len(words) > 0 && float64(hits)/float64(len(words)) > 0.2 {
			detected = "English"
			confidence = float64(hits) / float64(len(words))
		}
	}

	return map[string]any{
		"language":   detected,
		"confidence": round3(confidence),
		"character_analysis": map[string]int{
			"latin":    latin,
			"chinese":  chinese,
			"arabic":   arabic,
			"cyrillic": cyrillic,
			"total":    total,
		},
	}, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

package classifier

import (
	"regexp"
	"strings"
)

// IntentPattern is one rule: keywords gate it cheaply, the regex confirms.
type IntentPattern struct {
	ID          string
	Category    string
	Subcategory string
	Keywords    []string
	Regex       *regexp.Regexp
	Confidence  float64
}

// Matches reports whether the pattern matches a lowercased message. At
// least one keyword must appear; if a regex is set it must match too.
func (p *IntentPattern) Matches(message string) bool {
	msg := strings.ToLower(message)

	if len(p.Keywords) > 0 {
		found := false
		for _, kw := range p.Keywords {
			if strings.Contains(msg, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if p.Regex != nil {
		return p.Regex.MatchString(msg)
	}
	return true
}

// defaultPatterns returns the built-in pattern set for a personal
// assistant. Order matters: earlier patterns are more specific.
func defaultPatterns() []*IntentPattern {
	return []*IntentPattern{
		{
			ID:          "memory_remember",
			Category:    "memory",
			Subcategory: "remember",
			Keywords:    []string{"remember", "don't forget", "note that", "keep in mind"},
			Regex:       regexp.MustCompile(`(?i)(remember|don'?t forget|note that|keep in mind)\s+`),
			Confidence:  0.9,
		},
		{
			ID:          "memory_recall",
			Category:    "memory",
			Subcategory: "recall",
			Keywords:    []string{"did i", "what did", "last time", "we talked", "we discussed", "you said"},
			Regex:       regexp.MustCompile(`(?i)(did i|what did (i|we|you)|last time|we (talked|discussed)|you (said|told))`),
			Confidence:  0.85,
		},
		{
			ID:          "lookup_web",
			Category:    "lookup",
			Subcategory: "web_search",
			Keywords:    []string{"search", "look up", "google", "latest", "news", "current"},
			Regex:       regexp.MustCompile(`(?i)(search|look up|google|latest|current|news about)`),
			Confidence:  0.85,
		},
		{
			ID:          "lookup_weather",
			Category:    "lookup",
			Subcategory: "weather",
			Keywords:    []string{"weather", "forecast", "temperature", "rain"},
			Regex:       regexp.MustCompile(`(?i)(weather|forecast|temperature|going to rain)`),
			Confidence:  0.9,
		},
		{
			ID:          "task_create",
			Category:    "task",
			Subcategory: "create",
			Keywords:    []string{"remind me", "add a task", "todo", "to-do", "schedule"},
			Regex:       regexp.MustCompile(`(?i)(remind me|add (a )?(task|todo)|to-?do|schedule)`),
			Confidence:  0.85,
		},
		{
			ID:          "question_factual",
			Category:    "question",
			Subcategory: "factual",
			Keywords:    []string{"what is", "who is", "when is", "where is", "how does", "why does"},
			Regex:       regexp.MustCompile(`(?i)^(what|who|when|where|how|why)\s`),
			Confidence:  0.75,
		},
		{
			ID:          "chat_greeting",
			Category:    "chat",
			Subcategory: "greeting",
			Keywords:    []string{"hello", "hi", "hey", "good morning", "good evening"},
			Regex:       regexp.MustCompile(`(?i)^(hello|hi|hey|good (morning|afternoon|evening))\b`),
			Confidence:  0.9,
		},
	}
}

// Package classifier provides rule-based intent classification for incoming
// user messages. The result guides tool hinting in the system prompt and is
// recorded during post-processing for later analysis.
package classifier

import (
	"fmt"
	"strings"
)

// Intent is a classified user intent.
type Intent struct {
	Category    string  `json:"category"`    // e.g. "lookup", "memory", "task"
	Subcategory string  `json:"subcategory"` // e.g. "web_search", "recall"
	Confidence  float64 `json:"confidence"`  // 0-1
}

// String returns the intent in "category.subcategory" format.
func (i *Intent) String() string {
	if i.Subcategory != "" {
		return fmt.Sprintf("%s.%s", i.Category, i.Subcategory)
	}
	return i.Category
}

// Classifier matches messages against an ordered pattern list. The first
// matching pattern wins, so more specific patterns come earlier.
type Classifier struct {
	patterns      []*IntentPattern
	minConfidence float64
}

// New creates a classifier with the default pattern set.
func New() *Classifier {
	return &Classifier{
		patterns:      defaultPatterns(),
		minConfidence: 0.7,
	}
}

// Classify determines the intent of a user message. Messages that match no
// pattern fall back to general chat with middling confidence.
func (c *Classifier) Classify(message string) *Intent {
	msg := strings.ToLower(strings.TrimSpace(message))

	for _, pattern := range c.patterns {
		if pattern.Matches(msg) && pattern.Confidence >= c.minConfidence {
			return &Intent{
				Category:    pattern.Category,
				Subcategory: pattern.Subcategory,
				Confidence:  pattern.Confidence,
			}
		}
	}

	return &Intent{
		Category:    "chat",
		Subcategory: "general",
		Confidence:  0.5,
	}
}

// AddPattern registers an extra pattern ahead of the defaults.
func (c *Classifier) AddPattern(pattern *IntentPattern) {
	c.patterns = append([]*IntentPattern{pattern}, c.patterns...)
}

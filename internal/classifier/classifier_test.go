package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := New()

	tests := []struct {
		message string
		want    string
	}{
		{"Remember that my sister's birthday is in June", "memory.remember"},
		{"What did we discuss last time about the kitchen remodel?", "memory.recall"},
		{"Search for the latest Go release notes", "lookup.web_search"},
		{"What's the weather forecast for tomorrow?", "lookup.weather"},
		{"Remind me to call the dentist on Monday", "task.create"},
		{"What is the capital of Mongolia", "question.factual"},
		{"Hey there!", "chat.greeting"},
		{"asdkjhasd random noise", "chat.general"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			intent := c.Classify(tt.message)
			assert.Equal(t, tt.want, intent.String())
		})
	}
}

func TestClassifyFallbackConfidence(t *testing.T) {
	c := New()
	intent := c.Classify("zzz unmatched zzz")
	assert.Equal(t, "chat", intent.Category)
	assert.InDelta(t, 0.5, intent.Confidence, 0.001)
}

func TestAddPatternTakesPriority(t *testing.T) {
	c := New()
	c.AddPattern(&IntentPattern{
		ID:          "custom_status",
		Category:    "system",
		Subcategory: "status",
		Keywords:    []string{"status report"},
		Confidence:  0.95,
	})

	intent := c.Classify("give me a status report")
	assert.Equal(t, "system.status", intent.String())
}

func TestPatternRequiresKeywordAndRegex(t *testing.T) {
	p := &IntentPattern{
		Keywords: []string{"weather"},
	}
	assert.True(t, p.Matches("how is the weather"))
	assert.False(t, p.Matches("how is the traffic"))
}

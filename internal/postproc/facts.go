package postproc

import (
	"regexp"
	"strings"
)

// factPatterns capture self-disclosed durable facts in user messages. Each
// pattern's first capture group is the fact payload; the template rebuilds
// it as a normalized statement.
var factPatterns = []struct {
	re       *regexp.Regexp
	template string
}{
	{regexp.MustCompile(`(?i)\bmy name is ([a-zA-Z][a-zA-Z '-]{1,40})`), "name is %s"},
	{regexp.MustCompile(`(?i)\bi live in ([a-zA-Z][a-zA-Z ,'-]{1,60})`), "lives in %s"},
	{regexp.MustCompile(`(?i)\bi work (?:at|for) ([a-zA-Z0-9][a-zA-Z0-9 ,'&.-]{1,60})`), "works at %s"},
	{regexp.MustCompile(`(?i)\bmy birthday is (?:on )?([a-zA-Z0-9][a-zA-Z0-9 ,-]{1,30})`), "birthday is %s"},
	{regexp.MustCompile(`(?i)\bi(?: really)? (?:prefer|love|like) ([a-zA-Z0-9][^.,!?\n]{1,60})`), "likes %s"},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) allergic to ([a-zA-Z][^.,!?\n]{1,40})`), "allergic to %s"},
	{regexp.MustCompile(`(?i)\bremember that ([^.!?\n]{3,120})`), "%s"},
}

// ExtractFacts scans a user message for self-disclosed facts worth keeping.
// The extraction is deliberately conservative: short bounded captures,
// stripped of trailing punctuation, deduplicated.
func ExtractFacts(message string) []string {
	var facts []string
	seen := make(map[string]bool)

	for _, p := range factPatterns {
		matches := p.re.FindAllStringSubmatch(message, -1)
		for _, m := range matches {
			payload := strings.TrimSpace(strings.Trim(m[1], " .,!?"))
			if payload == "" {
				continue
			}
			fact := strings.Replace(p.template, "%s", payload, 1)
			key := strings.ToLower(fact)
			if seen[key] {
				continue
			}
			seen[key] = true
			facts = append(facts, fact)
		}
	}
	return facts
}

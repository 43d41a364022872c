package annotate

import (
	"regexp"
	"strings"
)

var entityPattern = regexp.MustCompile(`(?i)^[a-z 0-9.,&]+$`)

// functionWords are rejected as entities regardless of what the NLP
// service returns.
var functionWords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "nor": true,
	"yet": true, "its": true, "his": true, "her": true, "our": true,
	"you": true, "she": true, "him": true, "they": true, "them": true,
	"this": true, "that": true, "these": true, "those": true, "with": true,
	"from": true, "into": true, "onto": true, "than": true, "then": true,
	"there": true, "their": true, "here": true, "who": true, "what": true,
	"which": true, "when": true, "where": true, "why": true, "how": true,
	"all": true, "any": true, "some": true, "not": true, "are": true,
	"was": true, "were": true, "been": true, "has": true, "had": true,
	"have": true, "will": true, "would": true, "can": true, "could": true,
}

// FilterEntities cleans an entity list returned by the NLP service:
// duplicates are removed keeping the first occurrence, and only entries
// longer than two characters, made of letters, digits, spaces and . , &,
// that are not function words survive.
func FilterEntities(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, e := range raw {
		if seen[e] {
			continue
		}
		seen[e] = true
		if len(e) <= 2 || !entityPattern.MatchString(e) {
			continue
		}
		if functionWords[strings.ToLower(strings.TrimSpace(e))] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SentimentLabel buckets a sentiment score into one of five labels.
// Only an exact zero is neutral; small non-zero scores and NaN fall
// through to negative.
func SentimentLabel(v float64) string {
	switch {
	case v == 0:
		return "neutral"
	case v >= 0.75:
		return "very positive"
	case v >= 0.25:
		return "positive"
	case v <= -0.75:
		return "very negative"
	default:
		return "negative"
	}
}

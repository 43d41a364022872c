package annotate

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// charsPerMinute is the reading speed behind Stats.MinutesToRead.
const charsPerMinute = 650

// A sentence ends at a period followed by whitespace or end of text, or
// at a long token followed by a blank line (headings and list tails).
var sentenceEnd = regexp.MustCompile(`(?m)\.(\s+|\s*$)|\S{8,}[ \t]*(\n|\r\n|\r){2,}`)

// Stats summarizes a post's text.
type Stats struct {
	Words         int `json:"words"`
	Sentences     int `json:"sentences"`
	MinutesToRead int `json:"minutes_to_read"`
}

// ReadStats counts words and sentences in text and estimates reading time.
func ReadStats(text string) Stats {
	return Stats{
		Words:         len(strings.Fields(text)),
		Sentences:     len(sentenceEnd.FindAllStringIndex(text, -1)),
		MinutesToRead: int(math.Ceil(float64(utf8.RuneCountInString(text)) / charsPerMinute)),
	}
}

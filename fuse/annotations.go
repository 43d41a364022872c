package fuse

import (
	"blog-mirror/annotate"
)

// Snapshot is the document shown under nlp/<post>/. Entity kinds are
// always present, possibly empty. Sentiment and its label are left out
// when the score is unavailable.
func Snapshot(results map[annotate.Kind]annotate.Result, text string) map[string]any {
	doc := make(map[string]any, len(results)+2)
	for k, res := range results {
		if k.IsEntity() {
			doc[string(k)] = res.Value()
			continue
		}
		if res.Sentiment != nil {
			doc[string(k)] = *res.Sentiment
			doc["label"] = annotate.SentimentLabel(*res.Sentiment)
		}
	}
	doc["stats"] = annotate.ReadStats(text)
	return doc
}

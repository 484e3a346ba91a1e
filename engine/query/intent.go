// Package query turns raw user text into a query vector: truncation,
// intent detection, cached LLM rewriting with graceful fallback, and
// embedding.
package query

import (
	"strings"

	"github.com/retina-search/retina/engine/domain"
)

// chatMarkers flag conversational phrasing that embeds poorly and is
// worth a rewrite into caption style.
var chatMarkers = []string{
	"show me",
	"please",
	"give me",
	"can you",
	"i want",
	"find me",
	"could you",
	"i need",
	"looking for",
}

// interrogatives that open a question rather than a caption.
var interrogatives = map[string]bool{
	"what": true, "which": true, "where": true, "who": true,
	"how": true, "why": true, "when": true, "is": true,
	"are": true, "do": true, "does": true,
}

// DefaultPassThroughWords is the word-count ceiling for treating a query
// as an already-usable caption.
const DefaultPassThroughWords = 8

// Classifier decides whether a query needs rewriting. Pure and
// side-effect free; unknown input defaults to rewrite so we fail toward
// quality over cost.
type Classifier struct {
	// MaxPassThroughWords is the word count at or below which a
	// non-conversational query passes through unrewritten.
	MaxPassThroughWords int
}

// NewClassifier returns a classifier with default thresholds.
func NewClassifier() *Classifier {
	return &Classifier{MaxPassThroughWords: DefaultPassThroughWords}
}

// Classify returns the intent for a query.
func (c *Classifier) Classify(q string) domain.Intent {
	q = strings.TrimSpace(strings.ToLower(q))
	if q == "" {
		return domain.IntentRewrite
	}
	if strings.HasSuffix(q, "?") {
		return domain.IntentRewrite
	}
	for _, m := range chatMarkers {
		if strings.Contains(q, m) {
			return domain.IntentRewrite
		}
	}
	words := strings.Fields(q)
	if interrogatives[words[0]] {
		return domain.IntentRewrite
	}
	max := c.MaxPassThroughWords
	if max <= 0 {
		max = DefaultPassThroughWords
	}
	if len(words) > max {
		return domain.IntentRewrite
	}
	return domain.IntentPassThrough
}

package intent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/learnlens/backend/pkg/logger"
)

const (
	IntentReport = "report"
	IntentQA     = "qa"
)

// Result is the resolved intent plus any subject/topic filter pulled out
// of the query text.
type Result struct {
	Intent  string
	Subject string
	Topic   string
}

type tieBreaker interface {
	ClassifyIntent(ctx context.Context, query string) (string, error)
}

// Classifier resolves a free-text query to report/qa using keyword
// heuristics. A configured LLM may override the heuristic result, but only
// when it answers with exactly one of the two labels.
type Classifier struct {
	llm tieBreaker
}

func NewClassifier(llm tieBreaker) *Classifier {
	return &Classifier{llm: llm}
}

var subjectAliases = map[string]string{
	"math":    "Math",
	"maths":   "Math",
	"algebra": "Math",
	"science": "Science",
	"biology": "Science",
	"physics": "Science",
	"english": "English",
	"grammar": "English",
	"reading": "English",
	"history": "History",
}

var topicKeywords = map[string]string{
	"fraction":       "fractions",
	"fractions":      "fractions",
	"decimal":        "decimals",
	"geometry":       "geometry",
	"equation":       "equations",
	"word problem":   "word problems",
	"photosynthesis": "photosynthesis",
	"cell":           "cells",
	"force":          "forces",
	"punctuation":    "punctuation",
	"spelling":       "spelling",
	"comprehension":  "reading comprehension",
}

var reportPhrases = []string{
	"generate report",
	"full report",
	"performance report",
	"generate my report",
	"overall performance",
	"complete analysis",
	"how am i doing overall",
}

var qaPhrases = []string{
	"what",
	"which",
	"why",
	"where",
	"how many",
	"how often",
	"got wrong",
	"get wrong",
	"struggle",
	"weakest",
	"worst",
	"mistakes",
	"improve",
}

// Classify is a pure function of the query plus an optional LLM call.
func (c *Classifier) Classify(ctx context.Context, query string) Result {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{Intent: IntentReport}
	}

	lower := strings.ToLower(trimmed)

	result := Result{
		Subject: matchSubject(lower),
		Topic:   matchTopic(lower),
	}
	result.Intent = heuristicIntent(lower)

	if c.llm != nil {
		token, err := c.llm.ClassifyIntent(ctx, trimmed)
		if err != nil {
			logger.Debug("Intent tie-break failed, keeping heuristic", zap.Error(err))
		} else if token == IntentReport || token == IntentQA {
			result.Intent = token
		}
	}

	logger.Debug("Intent classified",
		zap.String("intent", result.Intent),
		zap.String("subject", result.Subject),
		zap.String("topic", result.Topic),
	)

	return result
}

func heuristicIntent(lower string) string {
	for _, phrase := range reportPhrases {
		if strings.Contains(lower, phrase) {
			return IntentReport
		}
	}

	for _, phrase := range qaPhrases {
		if strings.Contains(lower, phrase) {
			return IntentQA
		}
	}

	return IntentQA
}

func matchSubject(lower string) string {
	for alias, subject := range subjectAliases {
		if strings.Contains(lower, alias) {
			return subject
		}
	}
	return ""
}

func matchTopic(lower string) string {
	// Longer keywords first so "fractions" is not shadowed by "fraction".
	best := ""
	bestLen := 0
	for keyword, topic := range topicKeywords {
		if strings.Contains(lower, keyword) && len(keyword) > bestLen {
			best = topic
			bestLen = len(keyword)
		}
	}
	return best
}

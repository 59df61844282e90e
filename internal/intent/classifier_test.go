package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTieBreaker struct {
	token string
	err   error
}

func (f *fakeTieBreaker) ClassifyIntent(_ context.Context, _ string) (string, error) {
	return f.token, f.err
}

func TestClassifyEmptyQueryDefaultsToReport(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify(context.Background(), "   ")

	assert.Equal(t, IntentReport, res.Intent)
	assert.Empty(t, res.Subject)
	assert.Empty(t, res.Topic)
}

func TestClassifyHeuristics(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		intent  string
		subject string
		topic   string
	}{
		{"report phrase", "generate my report please", IntentReport, "", ""},
		{"overall performance", "show my overall performance", IntentReport, "", ""},
		{"question word", "what do I get wrong most?", IntentQA, "", ""},
		{"weakness question", "which is my weakest subject?", IntentQA, "", ""},
		{"subject alias", "how am I doing in maths?", IntentQA, "Math", ""},
		{"topic keyword", "why do I struggle with fractions?", IntentQA, "", "fractions"},
		{"singular topic", "what fraction mistakes do I make?", IntentQA, "", "fractions"},
		{"subject and topic", "how many photosynthesis questions in science did I miss?", IntentQA, "Science", "photosynthesis"},
		{"no phrase at all", "tell me something", IntentQA, "", ""},
	}

	c := NewClassifier(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(context.Background(), tt.query)
			assert.Equal(t, tt.intent, res.Intent)
			assert.Equal(t, tt.subject, res.Subject)
			assert.Equal(t, tt.topic, res.Topic)
		})
	}
}

func TestClassifyLLMOverridesOnlyWithExactToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		err      error
		expected string
	}{
		{"exact report token", "report", nil, IntentReport},
		{"exact qa token", "qa", nil, IntentQA},
		{"verbose answer ignored", "this looks like a report request", nil, IntentQA},
		{"empty token ignored", "", nil, IntentQA},
		{"error keeps heuristic", "", errors.New("model unavailable"), IntentQA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&fakeTieBreaker{token: tt.token, err: tt.err})
			res := c.Classify(context.Background(), "which topics are hard for me?")
			assert.Equal(t, tt.expected, res.Intent)
		})
	}
}

func TestClassifyEmptyQuerySkipsLLM(t *testing.T) {
	c := NewClassifier(&fakeTieBreaker{token: "qa"})

	res := c.Classify(context.Background(), "")

	assert.Equal(t, IntentReport, res.Intent)
}

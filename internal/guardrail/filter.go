package guardrail

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/metrics"
	"github.com/learnlens/backend/pkg/logger"
)

const (
	ReasonPromptInjection   = "prompt_injection_detected"
	ReasonDisallowedContent = "disallowed_content"

	// SafetyMessage replaces model output that trips the output guardrail.
	SafetyMessage = "The generated response was withheld because it did not meet our content guidelines. Please try rephrasing your question."
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[ \-.]?\(?\d{2,4}\)?[ \-.]?\d{3,4}[ \-.]?\d{3,4}`)
)

var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard your instructions",
	"you are now",
	"system prompt",
	"act as if",
	"jailbreak",
	"developer mode",
	"pretend you are",
	"override your rules",
}

var disallowedMarkers = []string{
	"how to cheat",
	"exam answers leak",
	"hack the",
	"steal the",
	"self-harm",
	"hurt myself",
	"violence against",
	"make a weapon",
}

// InputResult is the outcome of screening one user query.
type InputResult struct {
	Masked   string
	Blocked  bool
	Reason   string
	Findings []string
}

type Filter struct{}

func NewFilter() *Filter {
	return &Filter{}
}

// ScreenInput masks PII and scans the masked text for injection and
// disallowed-content markers. Injection takes precedence when both match.
// Masking is idempotent: placeholders contain nothing the patterns match.
func (f *Filter) ScreenInput(text string) InputResult {
	masked := MaskPII(text)

	result := InputResult{Masked: masked}
	if masked != text {
		result.Findings = append(result.Findings, "pii_masked")
	}

	lower := strings.ToLower(masked)

	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			result.Findings = append(result.Findings, ReasonPromptInjection)
			result.Blocked = true
			result.Reason = ReasonPromptInjection
			break
		}
	}

	for _, marker := range disallowedMarkers {
		if strings.Contains(lower, marker) {
			result.Findings = append(result.Findings, ReasonDisallowedContent)
			if !result.Blocked {
				result.Blocked = true
				result.Reason = ReasonDisallowedContent
			}
			break
		}
	}

	if result.Blocked {
		metrics.GuardrailBlocks.WithLabelValues(result.Reason).Inc()
		logger.Warn("Input blocked by guardrail", zap.String("reason", result.Reason))
	}

	return result
}

// ScreenOutput scans generated text against the disallowed-content list
// and substitutes the whole output with a fixed safety message on a match.
func (f *Filter) ScreenOutput(text string) (string, []string) {
	lower := strings.ToLower(text)

	for _, marker := range disallowedMarkers {
		if strings.Contains(lower, marker) {
			metrics.GuardrailBlocks.WithLabelValues("output_" + ReasonDisallowedContent).Inc()
			logger.Warn("Output replaced by guardrail")
			return SafetyMessage, []string{"output_" + ReasonDisallowedContent}
		}
	}

	return text, nil
}

// MaskPII substitutes email, card-number, and phone patterns. Emails go
// first, then card numbers, then phones, so the longer digit runs are
// consumed before the looser phone pattern sees them.
func MaskPII(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	text = cardPattern.ReplaceAllString(text, "[CARD]")
	text = phonePattern.ReplaceAllString(text, "[PHONE]")
	return text
}

package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/learnlens/backend/pkg/logger"
)

type generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// Input is everything the analyst needs from the pipeline for one run.
type Input struct {
	Query              string
	Subject            string
	Topic              string
	HybridContext      string
	Summary            string
	EvidenceSufficient bool
}

// Output is a degraded-but-valid result in every case; the analyst never
// lets an LLM or parsing failure escape.
type Output struct {
	Text      string
	ModelUsed string
	Fallback  bool
	Step      string
}

const unavailableMessage = "AI analysis is currently unavailable. Your raw performance data is shown below.\n\n"

// Analyst turns an evidence bundle into a narrative report or a direct
// answer. A nil generator means no LLM is configured and every path
// degrades to templated output.
type Analyst struct {
	llm generator
}

func NewAnalyst(llm generator) *Analyst {
	return &Analyst{llm: llm}
}

// GenerateReport produces the full multi-section report. With insufficient
// evidence it returns only the raw aggregates plus generic recommendations;
// it never fabricates analysis the data cannot support.
func (a *Analyst) GenerateReport(ctx context.Context, in Input) Output {
	if a.llm == nil {
		return Output{
			Text:     unavailableMessage + in.Summary,
			Fallback: true,
			Step:     "analysis skipped: no language model configured",
		}
	}

	if !in.EvidenceSufficient {
		return Output{
			Text:     basicReport(in.Summary),
			Fallback: true,
			Step:     "generated basic report: evidence insufficient",
		}
	}

	systemPrompt := `You are an experienced learning coach. Write a structured performance
report for a student based strictly on the evidence provided. Never invent
data that is not in the evidence.

Sections, in order:
1. Overall summary
2. Weakness analysis by topic > subtopic > concept
3. Difficulty and cognitive-level patterns
4. Recurring mistake patterns
5. Targeted recommendations
6. Study strategies

Be specific, encouraging, and concrete.`

	userPrompt := fmt.Sprintf("Evidence:\n%s\n\nWrite the performance report.", in.HybridContext)

	text, err := a.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		logger.Warn("Report generation failed, using templated fallback", zap.Error(err))
		return Output{
			Text:      errorReport(in.Summary),
			ModelUsed: a.llm.Model(),
			Fallback:  true,
			Step:      "report generation failed, returned templated fallback",
		}
	}

	return Output{
		Text:      text,
		ModelUsed: a.llm.Model(),
		Step:      "generated full analysis report",
	}
}

// GenerateAnswer answers a narrow question about the student's
// performance, citing the hierarchy breakdowns in the evidence.
func (a *Analyst) GenerateAnswer(ctx context.Context, in Input) Output {
	if a.llm == nil {
		return Output{
			Text:     unavailableMessage + in.Summary,
			Fallback: true,
			Step:     "answer skipped: no language model configured",
		}
	}

	if !in.EvidenceSufficient {
		return Output{
			Text:     "There is not enough recorded data to answer that reliably yet.\n\n" + in.Summary,
			Fallback: true,
			Step:     "returned summary answer: evidence insufficient",
		}
	}

	scope := ""
	if in.Subject != "" {
		scope = fmt.Sprintf(" Focus on the subject %q.", in.Subject)
	}
	if in.Topic != "" {
		scope += fmt.Sprintf(" Focus on the topic %q.", in.Topic)
	}

	systemPrompt := fmt.Sprintf(`You answer a student's question about their own performance using only
the evidence provided.%s Cite specific topic, subtopic, and concept
breakdowns and give concrete examples from the evidence. If the evidence
does not contain the answer, say so.`, scope)

	userPrompt := fmt.Sprintf("Question: %s\n\nEvidence:\n%s", in.Query, in.HybridContext)

	text, err := a.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			logger.Warn("Answer generation failed, returning summary", zap.Error(err))
		}
		return Output{
			Text:      in.Summary,
			ModelUsed: a.llm.Model(),
			Fallback:  true,
			Step:      "answer generation failed, returned raw summary",
		}
	}

	return Output{
		Text:      text,
		ModelUsed: a.llm.Model(),
		Step:      "generated direct answer",
	}
}

func basicReport(summary string) string {
	return fmt.Sprintf(`Performance Report (basic)

%s
Not enough evidence was gathered for a detailed analysis. General recommendations:
- Keep answering questions regularly so trends become visible.
- Revisit questions you answered incorrectly and compare with the correct answers.
- Ask for a new report once you have more attempts recorded.`, summary)
}

func errorReport(summary string) string {
	return fmt.Sprintf(`Performance Report

%s
A detailed AI analysis could not be produced right now. The summary above
reflects your recorded attempts; please try again later.`, summary)
}

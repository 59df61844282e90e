package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/analysis"
	"github.com/learnlens/backend/internal/guardrail"
	"github.com/learnlens/backend/internal/intent"
	"github.com/learnlens/backend/internal/metrics"
	"github.com/learnlens/backend/internal/retrieval"
	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/pkg/logger"
)

type reportStore interface {
	GetAttempts(studentUID string) ([]models.AttemptRecord, error)
	GetLastReportTime(studentUID string) (time.Time, error)
	SaveReport(r *models.PerformanceReportRecord) error
}

type classifier interface {
	Classify(ctx context.Context, query string) intent.Result
}

type screener interface {
	ScreenInput(text string) guardrail.InputResult
	ScreenOutput(text string) (string, []string)
}

type ingester interface {
	Ingest(ctx context.Context, studentUID string) error
}

type retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) *retrieval.Evidence
}

type analyst interface {
	GenerateReport(ctx context.Context, in analysis.Input) analysis.Output
	GenerateAnswer(ctx context.Context, in analysis.Input) analysis.Output
}

type Config struct {
	MaxRetrievalRetries int
	CooldownHours       int
	AdminBypassKey      string
}

// Service is the pipeline orchestrator: a plain sequential state machine
// CooldownCheck → IntentClassify → GuardrailInput → [DataIngest] →
// Retrieve(loop) → Analyze → GuardrailOutput → Persist → Respond.
type Service struct {
	store      reportStore
	intents    classifier
	guardrails screener
	ingester   ingester
	retriever  retriever
	analyst    analyst
	cfg        Config
	stepHook   func(step string)
}

func NewService(store reportStore, intents classifier, guardrails screener, ing ingester, ret retriever, an analyst, cfg Config) *Service {
	if cfg.MaxRetrievalRetries == 0 {
		cfg.MaxRetrievalRetries = 2
	}
	if cfg.CooldownHours == 0 {
		cfg.CooldownHours = 24
	}
	return &Service{
		store:      store,
		intents:    intents,
		guardrails: guardrails,
		ingester:   ing,
		retriever:  ret,
		analyst:    an,
		cfg:        cfg,
	}
}

// WithStepHook returns a shallow copy whose execution-log appends are also
// forwarded to hook, for live progress streaming.
func (s *Service) WithStepHook(hook func(step string)) *Service {
	clone := *s
	clone.stepHook = hook
	return &clone
}

// HandleRequest runs the whole pipeline for one request. It always
// returns a well-formed envelope; no stage failure escapes as an error
// or panic.
func (s *Service) HandleRequest(ctx context.Context, req Request) (env *Envelope) {
	state := newPipelineState(req.StudentUID, req.Query, req.SkipIngestion)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panicked", zap.Any("panic", r))
			state.recordError("pipeline", fmt.Errorf("panic: %v", r))
			env = s.respond(state, false, false, SourceError)
			s.persist(state, env)
		}
	}()

	s.step(state, "pipeline started")

	// IntentClassify
	res := s.intents.Classify(ctx, state.Query)
	if req.IntentHint == intent.IntentReport || req.IntentHint == intent.IntentQA {
		res.Intent = req.IntentHint
	}
	state.Intent = res.Intent
	state.Subject = res.Subject
	state.Topic = res.Topic
	s.step(state, fmt.Sprintf("intent resolved: %s (subject=%q topic=%q)", res.Intent, res.Subject, res.Topic))

	// CooldownCheck applies to full reports only. The admin bypass is
	// honored only when a bypass key is actually configured.
	if state.Intent == intent.IntentReport {
		bypass := s.cfg.AdminBypassKey != "" && req.AdminKey == s.cfg.AdminBypassKey
		if remaining, active := s.cooldownRemaining(state); active && !bypass {
			metrics.CooldownRejections.Inc()
			s.step(state, fmt.Sprintf("cooldown active: %s remaining", remaining.Round(time.Minute)))
			env = s.respond(state, false, false, SourceCooldown)
			env.CooldownRemaining = int64(remaining.Seconds())
			s.persist(state, env)
			return env
		}
	}

	// GuardrailInput
	screened := s.guardrails.ScreenInput(state.Query)
	state.Query = screened.Masked
	state.Guardrails = append(state.Guardrails, screened.Findings...)
	if screened.Blocked {
		s.step(state, "request blocked by input guardrail: "+screened.Reason)
		env = s.respond(state, true, true, SourceGuardrails)
		env.Answer = guardrail.SafetyMessage
		s.persist(state, env)
		return env
	}
	s.step(state, "input guardrail passed")

	// DataIngest (optional per request)
	if !state.SkipIngestion {
		if err := s.ingester.Ingest(ctx, state.StudentUID); err != nil {
			state.recordError("ingest", err)
			s.step(state, "ingestion failed, continuing with existing derived data")
		} else {
			s.step(state, "attempt history materialized into graph")
		}
	} else {
		s.step(state, "ingestion skipped by request")
	}

	if state.Intent == intent.IntentQA {
		state.FallbackContext = s.databaseSummary(state.StudentUID)
	}

	// Retrieve loop, bounded by MaxRetrievalRetries.
	maxAttempts := s.cfg.MaxRetrievalRetries + 1
	for state.RetrievalAttempt < maxAttempts {
		state.RetrievalAttempt++

		ev := s.retriever.Retrieve(ctx, retrieval.Request{
			StudentUID:      state.StudentUID,
			Query:           state.Query,
			Intent:          state.Intent,
			Subject:         state.Subject,
			Topic:           state.Topic,
			Attempt:         state.RetrievalAttempt,
			FallbackSummary: state.FallbackContext,
		})

		state.Stats = ev.Stats
		state.GraphContext = ev.GraphContext
		state.VectorContext = ev.VectorContext
		state.HybridContext = ev.HybridContext
		state.EvidenceScore = ev.Score
		state.EvidenceSufficient = ev.Sufficient

		s.step(state, fmt.Sprintf("retrieval attempt %d: evidence score %.2f", state.RetrievalAttempt, ev.Score))

		if ev.Sufficient {
			break
		}
	}
	if !state.EvidenceSufficient {
		s.step(state, "retry budget exhausted with insufficient evidence")
	}

	// Analyze
	in := analysis.Input{
		Query:              state.Query,
		Subject:            state.Subject,
		Topic:              state.Topic,
		HybridContext:      state.HybridContext,
		Summary:            retrieval.SummaryText(state.Stats),
		EvidenceSufficient: state.EvidenceSufficient,
	}

	var out analysis.Output
	if state.Intent == intent.IntentReport {
		out = s.analyst.GenerateReport(ctx, in)
		state.AnalysisReport = out.Text
	} else {
		out = s.analyst.GenerateAnswer(ctx, in)
		state.Answer = out.Text
	}
	state.ModelUsed = out.ModelUsed
	s.step(state, out.Step)

	// GuardrailOutput
	source := SourceAIGenerated
	if out.Fallback {
		source = SourceDatabaseFallback
	}

	filtered, findings := s.guardrails.ScreenOutput(out.Text)
	if len(findings) > 0 {
		state.Guardrails = append(state.Guardrails, findings...)
		source = SourceGuardrails
		out.Fallback = true
		s.step(state, "output replaced by guardrail")
		if state.Intent == intent.IntentReport {
			state.AnalysisReport = filtered
		} else {
			state.Answer = filtered
		}
	}

	env = s.respond(state, true, out.Fallback, source)
	s.persist(state, env)
	return env
}

func (s *Service) cooldownRemaining(state *PipelineState) (time.Duration, bool) {
	last, err := s.store.GetLastReportTime(state.StudentUID)
	if err != nil {
		state.recordError("cooldown", err)
		return 0, false
	}
	if last.IsZero() {
		return 0, false
	}

	window := time.Duration(s.cfg.CooldownHours) * time.Hour
	elapsed := time.Since(last)
	if elapsed >= window {
		return 0, false
	}
	return window - elapsed, true
}

// databaseSummary builds the direct-from-relational fallback context used
// for qa requests when graph evidence is thin.
func (s *Service) databaseSummary(studentUID string) string {
	attempts, err := s.store.GetAttempts(studentUID)
	if err != nil || len(attempts) == 0 {
		return ""
	}

	type counts struct{ correct, total int }
	bySubject := make(map[string]*counts)
	order := []string{}
	for _, a := range attempts {
		c, ok := bySubject[a.SubjectName]
		if !ok {
			c = &counts{}
			bySubject[a.SubjectName] = c
			order = append(order, a.SubjectName)
		}
		c.total++
		if a.IsCorrect {
			c.correct++
		}
	}

	summary := ""
	for _, name := range order {
		c := bySubject[name]
		summary += fmt.Sprintf("%s: %d/%d correct. ", name, c.correct, c.total)
	}
	return summary
}

func (s *Service) step(state *PipelineState, step string) {
	state.logStep(step)
	if s.stepHook != nil {
		s.stepHook(step)
	}
}

func (s *Service) respond(state *PipelineState, success, fallback bool, source string) *Envelope {
	elapsed := int(time.Since(state.StartedAt).Milliseconds())

	metrics.ReportsTotal.WithLabelValues(source).Inc()
	metrics.EvidenceScore.Observe(state.EvidenceScore)
	metrics.RetrievalAttempts.Observe(float64(state.RetrievalAttempt))
	if state.Intent != "" {
		metrics.PipelineDuration.WithLabelValues(state.Intent).Observe(float64(elapsed) / 1000.0)
	}

	return &Envelope{
		Success:            success,
		Intent:             state.Intent,
		Subject:            state.Subject,
		Topic:              state.Topic,
		Answer:             state.Answer,
		AnalysisReport:     state.AnalysisReport,
		EvidenceSufficient: state.EvidenceSufficient,
		EvidenceScore:      state.EvidenceScore,
		RetrievalAttempts:  state.RetrievalAttempt,
		ExecutionLog:       state.ExecutionLog,
		IsFallback:         fallback,
		ResponseSource:     source,
		ProcessingTimeMS:   elapsed,
		ModelUsed:          state.ModelUsed,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Service) persist(state *PipelineState, env *Envelope) {
	text := env.AnalysisReport
	format := "report"
	if state.Intent == intent.IntentQA {
		text = env.Answer
		format = "answer"
	}

	record := &models.PerformanceReportRecord{
		ID:                 uuid.New().String(),
		StudentUID:         state.StudentUID,
		Intent:             state.Intent,
		Subject:            state.Subject,
		Topic:              state.Topic,
		ReportText:         text,
		ReportFormat:       format,
		ExecutionLog:       state.ExecutionLog,
		EvidenceScore:      state.EvidenceScore,
		EvidenceSufficient: state.EvidenceSufficient,
		RetrievalAttempts:  state.RetrievalAttempt,
		Success:            env.Success,
		Errors:             state.Errors,
		ResponseSource:     env.ResponseSource,
		ModelUsed:          state.ModelUsed,
		ProcessingTimeMS:   env.ProcessingTimeMS,
		CreatedAt:          time.Now(),
	}

	if err := s.store.SaveReport(record); err != nil {
		logger.Error("Failed to persist report", zap.Error(err))
	}
}

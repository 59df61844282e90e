package report

import (
	"fmt"
	"time"

	"github.com/learnlens/backend/internal/storage/models"
)

// Response sources surfaced in the envelope.
const (
	SourceAIGenerated      = "ai_generated"
	SourceDatabaseFallback = "database_fallback"
	SourceError            = "error"
	SourceCooldown         = "cooldown_limit"
	SourceGuardrails       = "safety_guardrails"
)

// PipelineState is the single mutable value threaded through one pipeline
// invocation. It is created per request, mutated in place by each stage,
// and discarded once the envelope is built; it is never shared.
type PipelineState struct {
	StudentUID string
	Query      string
	Intent     string
	Subject    string
	Topic      string

	Stats           []models.SubjectAccuracy
	GraphContext    string
	VectorContext   string
	HybridContext   string
	FallbackContext string

	RetrievalAttempt   int
	EvidenceScore      float64
	EvidenceSufficient bool

	AnalysisReport string
	Answer         string

	ExecutionLog []string
	Guardrails   []string
	Errors       []string

	ModelUsed     string
	SkipIngestion bool
	StartedAt     time.Time
}

func newPipelineState(studentUID, query string, skipIngestion bool) *PipelineState {
	return &PipelineState{
		StudentUID:    studentUID,
		Query:         query,
		SkipIngestion: skipIngestion,
		StartedAt:     time.Now(),
	}
}

func (s *PipelineState) logStep(step string) {
	s.ExecutionLog = append(s.ExecutionLog, step)
}

func (s *PipelineState) recordError(stage string, err error) {
	s.Errors = append(s.Errors,
		fmt.Sprintf("[%s] %s: %v", time.Now().UTC().Format(time.RFC3339), stage, err))
}

// Request is the invocation surface of the pipeline.
type Request struct {
	StudentUID    string
	Query         string
	IntentHint    string
	AdminKey      string
	SkipIngestion bool
}

// Envelope is the uniform response for every pipeline outcome.
type Envelope struct {
	Success            bool     `json:"success"`
	Intent             string   `json:"intent"`
	Subject            string   `json:"subject,omitempty"`
	Topic              string   `json:"topic,omitempty"`
	Answer             string   `json:"answer,omitempty"`
	AnalysisReport     string   `json:"analysis_report,omitempty"`
	EvidenceSufficient bool     `json:"evidence_sufficient"`
	EvidenceScore      float64  `json:"evidence_quality_score"`
	RetrievalAttempts  int      `json:"retrieval_attempts"`
	ExecutionLog       []string `json:"execution_log"`
	IsFallback         bool     `json:"is_fallback"`
	ResponseSource     string   `json:"response_source"`
	CooldownRemaining  int64    `json:"cooldown_remaining_seconds,omitempty"`
	ProcessingTimeMS   int      `json:"processing_time_ms"`
	ModelUsed          string   `json:"model_used,omitempty"`
	Timestamp          string   `json:"timestamp"`
}

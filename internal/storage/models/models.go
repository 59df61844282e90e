package models

import "time"

type Student struct {
	UID       string
	Name      string
	Gradeband string
	CreatedAt time.Time
}

type Subject struct {
	ID   string
	Name string
}

// AttemptRecord is one graded answer. Rows are written once when a learner
// answers a question and never mutated afterwards.
type AttemptRecord struct {
	ID            string
	StudentUID    string
	SubjectID     string
	SubjectName   string
	Question      string
	StudentAnswer string
	CorrectAnswer string
	IsCorrect     bool
	IsPartial     bool
	AIFeedback    string
	Difficulty    int
	BloomsLevel   string
	Topic         string
	SubTopic      string
	Concept       string
	CreatedAt     time.Time
}

// PerformanceReportRecord is the persisted snapshot of one pipeline run,
// used for cooldown enforcement and audit history.
type PerformanceReportRecord struct {
	ID                   string
	StudentUID           string
	Intent               string
	Subject              string
	Topic                string
	ReportText           string
	ReportFormat         string
	ExecutionLog         []string
	EvidenceScore        float64
	EvidenceSufficient   bool
	RetrievalAttempts    int
	Success              bool
	Errors               []string
	ResponseSource       string
	ModelUsed            string
	ProcessingTimeMS     int
	CreatedAt            time.Time
}

// SubjectAccuracy is the per-subject aggregate computed by the retriever.
type SubjectAccuracy struct {
	Subject   string
	Correct   int
	Incorrect int
	Total     int
	Accuracy  float64
}

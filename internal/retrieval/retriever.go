package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/embedding"
	graph "github.com/learnlens/backend/internal/graph/neo4j"
	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/internal/vector/milvus"
	"github.com/learnlens/backend/pkg/logger"
)

type graphReader interface {
	SubjectAccuracy(ctx context.Context, studentUID, subject string, topicVariants []string) ([]models.SubjectAccuracy, error)
	HierarchyBreakdown(ctx context.Context, studentUID, subject string) ([]graph.BreakdownRow, error)
}

type vectorSearcher interface {
	Search(ctx context.Context, studentUID string, queryEmbedding []float32, topK int, subject, topic string) ([]milvus.SearchResult, error)
}

// Request describes one retrieval attempt. Attempt is 1-based; retries
// pass higher numbers so the default vector query diversifies.
type Request struct {
	StudentUID      string
	Query           string
	Intent          string
	Subject         string
	Topic           string
	Attempt         int
	FallbackSummary string
}

// Evidence is the bundle one retrieval attempt produces.
type Evidence struct {
	Stats         []models.SubjectAccuracy
	GraphContext  string
	VectorContext string
	HybridContext string
	Score         float64
	Sufficient    bool
}

type Config struct {
	MinAttemptsPerSubject int
	EvidenceThreshold     float64
	VectorTopK            int
}

type Retriever struct {
	graph    graphReader
	vectors  vectorSearcher
	embedder embedding.Embedder
	cfg      Config
}

func NewRetriever(graph graphReader, vectors vectorSearcher, embedder embedding.Embedder, cfg Config) *Retriever {
	if cfg.MinAttemptsPerSubject == 0 {
		cfg.MinAttemptsPerSubject = 10
	}
	if cfg.EvidenceThreshold == 0 {
		cfg.EvidenceThreshold = 0.7
	}
	if cfg.VectorTopK == 0 {
		cfg.VectorTopK = 8
	}
	return &Retriever{graph: graph, vectors: vectors, embedder: embedder, cfg: cfg}
}

// retryQueries are the default vector-search phrases used when the user
// query is empty; each retry attempt uses a different phrase so repeated
// searches do not degenerate into identical results.
var retryQueries = []string{
	"questions the student answered incorrectly",
	"topics with repeated mistakes and misconceptions",
	"difficult concepts the student struggles to master",
}

// Retrieve runs one hybrid retrieval attempt. Failures of either leg are
// absorbed as empty evidence; the caller decides whether to retry.
func (r *Retriever) Retrieve(ctx context.Context, req Request) *Evidence {
	ev := &Evidence{}

	stats, err := r.graph.SubjectAccuracy(ctx, req.StudentUID, req.Subject, TopicVariants(req.Topic))
	if err != nil {
		logger.Warn("Graph aggregation failed", zap.Error(err))
	} else {
		ev.Stats = stats
	}

	breakdown, err := r.graph.HierarchyBreakdown(ctx, req.StudentUID, req.Subject)
	if err != nil {
		logger.Warn("Hierarchy breakdown failed", zap.Error(err))
	}

	ev.GraphContext = formatGraphContext(ev.Stats, breakdown)

	ev.VectorContext = r.vectorContext(ctx, req)

	var hybrid strings.Builder
	hybrid.WriteString(ev.GraphContext)
	if ev.VectorContext != "" {
		hybrid.WriteString("\n")
		hybrid.WriteString(ev.VectorContext)
	}
	if req.Intent == "qa" && req.FallbackSummary != "" {
		hybrid.WriteString("\n\nDatabase summary:\n")
		hybrid.WriteString(req.FallbackSummary)
	}
	ev.HybridContext = hybrid.String()

	ev.Score, ev.Sufficient = r.scoreEvidence(ev)

	logger.Info("Retrieval attempt completed",
		zap.Int("attempt", req.Attempt),
		zap.Float64("evidence_score", ev.Score),
		zap.Bool("sufficient", ev.Sufficient),
	)

	return ev
}

func (r *Retriever) vectorContext(ctx context.Context, req Request) string {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		idx := req.Attempt - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(retryQueries) {
			idx = len(retryQueries) - 1
		}
		query = retryQueries[idx]
	}

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("Query embedding failed", zap.Error(err))
		return ""
	}

	results, err := r.vectors.Search(ctx, req.StudentUID, emb, r.cfg.VectorTopK, req.Subject, req.Topic)
	if err != nil {
		logger.Warn("Vector search failed", zap.Error(err))
		return ""
	}

	return formatVectorContext(results)
}

// scoreEvidence implements the additive evidence heuristic. The score is
// clamped to [0,1]; sufficiency is score >= threshold OR the per-subject
// attempt-count override, which also floors the score at 0.8.
func (r *Retriever) scoreEvidence(ev *Evidence) (float64, bool) {
	score := 0.0

	if len(summaryLine(ev.Stats)) > 50 {
		score += 0.3
	}
	if len(strings.TrimSpace(ev.VectorContext)) > 20 {
		score += 0.4
	}
	if len(ev.HybridContext) > 100 {
		score += 0.3
	}

	override := false
	for _, s := range ev.Stats {
		if s.Total >= r.cfg.MinAttemptsPerSubject {
			override = true
			score += 0.3
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	sufficient := score >= r.cfg.EvidenceThreshold
	if override {
		sufficient = true
		if score < 0.8 {
			score = 0.8
		}
	}

	return score, sufficient
}

// SummaryText renders the aggregate table on its own; the analyst uses it
// for degraded reports and answers.
func SummaryText(stats []models.SubjectAccuracy) string {
	return summaryLine(stats)
}

func summaryLine(stats []models.SubjectAccuracy) string {
	if len(stats) == 0 {
		return "No recorded attempts."
	}

	var sb strings.Builder
	sb.WriteString("Performance by subject:\n")
	for _, s := range stats {
		fmt.Fprintf(&sb, "- %s: %d correct, %d incorrect of %d attempts (%.0f%% accuracy)\n",
			s.Subject, s.Correct, s.Incorrect, s.Total, s.Accuracy*100)
	}
	return sb.String()
}

func formatGraphContext(stats []models.SubjectAccuracy, breakdown []graph.BreakdownRow) string {
	var sb strings.Builder
	sb.WriteString(summaryLine(stats))

	if len(breakdown) > 0 {
		sb.WriteString("\nWeak areas (topic > subtopic > concept):\n")
		for _, row := range breakdown {
			fmt.Fprintf(&sb, "- %s > %s > %s > %s: %d wrong, %d right (difficulty %.1f, %s)\n",
				row.Subject, row.Topic, row.SubTopic, row.Concept,
				row.Incorrect, row.Correct, row.Difficulty, row.BloomsLevel)
		}
	}

	return sb.String()
}

func formatVectorContext(results []milvus.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Similar attempts:\n")
	for i, res := range results {
		outcome := "incorrect"
		if res.IsCorrect {
			outcome = "correct"
		}
		fmt.Fprintf(&sb, "[%d] (%s, %s/%s, %s) %s\n",
			i+1, res.Subject, res.Topic, res.Concept, outcome, truncate(res.Question, 200))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

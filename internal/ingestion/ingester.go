package ingestion

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/embedding"
	graph "github.com/learnlens/backend/internal/graph/neo4j"
	"github.com/learnlens/backend/internal/llm"
	"github.com/learnlens/backend/internal/metrics"
	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/internal/vector/milvus"
	"github.com/learnlens/backend/pkg/logger"
)

type relationalStore interface {
	GetStudent(uid string) (*models.Student, error)
	GetSubjects() ([]models.Subject, error)
	GetAttempts(uid string) ([]models.AttemptRecord, error)
}

type graphWriter interface {
	ClearStudentGraph(ctx context.Context, studentUID string) error
	UpsertStudent(ctx context.Context, uid, name string) error
	UpsertSubject(ctx context.Context, name string) error
	InsertAttemptHierarchy(ctx context.Context, node *graph.AttemptNode) error
}

type vectorWriter interface {
	DeleteByStudent(ctx context.Context, studentUID string) error
	Insert(ctx context.Context, vectors []milvus.AttemptVector) error
}

type categorizer interface {
	CategorizeAttempts(ctx context.Context, subject, taxonomy string, inputs []llm.CategorizeInput) ([]llm.AttemptCategory, error)
}

// Ingester rebuilds the derived concept graph and vector index for one
// student from the relational attempt history. The derived stores are
// treated as disposable caches: each run wipes and re-materializes them.
type Ingester struct {
	store      relationalStore
	graph      graphWriter
	vectors    vectorWriter
	classifier categorizer
	embedder   embedding.Embedder
}

func NewIngester(store relationalStore, graph graphWriter, vectors vectorWriter, classifier categorizer, embedder embedding.Embedder) *Ingester {
	return &Ingester{
		store:      store,
		graph:      graph,
		vectors:    vectors,
		classifier: classifier,
		embedder:   embedder,
	}
}

// subjectTaxonomies lists the known topic areas fed to the hierarchical
// classifier. Subjects outside this table skip the classifier and take the
// default category.
var subjectTaxonomies = map[string][]string{
	"Math":    {"arithmetic", "fractions", "decimals", "geometry", "equations", "word problems", "measurement"},
	"Science": {"cells", "forces", "energy", "photosynthesis", "ecosystems", "matter", "space"},
	"English": {"grammar", "punctuation", "spelling", "vocabulary", "reading comprehension", "writing"},
	"History": {"ancient civilizations", "world wars", "national history", "geography"},
}

var defaultCategory = llm.AttemptCategory{
	Topic:       "General",
	SubTopic:    "General",
	Concept:     "Uncategorized",
	Difficulty:  3,
	BloomsLevel: "understand",
}

// Ingest runs the full rebuild for one student.
func (g *Ingester) Ingest(ctx context.Context, studentUID string) error {
	student, err := g.store.GetStudent(studentUID)
	if err != nil {
		return fmt.Errorf("failed to load student: %w", err)
	}

	subjects, err := g.store.GetSubjects()
	if err != nil {
		return fmt.Errorf("failed to load subjects: %w", err)
	}

	attempts, err := g.store.GetAttempts(studentUID)
	if err != nil {
		return fmt.Errorf("failed to load attempts: %w", err)
	}

	logger.Info("Ingestion started",
		zap.String("student_uid", studentUID),
		zap.Int("attempts", len(attempts)),
	)

	if err := g.graph.ClearStudentGraph(ctx, studentUID); err != nil {
		return err
	}
	if err := g.vectors.DeleteByStudent(ctx, studentUID); err != nil {
		logger.Warn("Failed to clear student vectors", zap.Error(err))
	}

	if err := g.graph.UpsertStudent(ctx, student.UID, student.Name); err != nil {
		return err
	}
	for _, subject := range subjects {
		if err := g.graph.UpsertSubject(ctx, subject.Name); err != nil {
			logger.Warn("Failed to upsert subject node", zap.String("subject", subject.Name), zap.Error(err))
		}
	}

	if len(attempts) == 0 {
		logger.Info("No attempts to ingest", zap.String("student_uid", studentUID))
		return nil
	}

	categories := g.categorizeAll(ctx, attempts)
	embeddings := g.embedAll(ctx, attempts)

	var vectors []milvus.AttemptVector
	for i, attempt := range attempts {
		category := categories[attempt.ID]
		vec := embeddings[i]

		node := &graph.AttemptNode{
			AttemptID:   attempt.ID,
			StudentUID:  attempt.StudentUID,
			Subject:     attempt.SubjectName,
			Topic:       category.Topic,
			SubTopic:    category.SubTopic,
			Concept:     category.Concept,
			Question:    attempt.Question,
			IsCorrect:   attempt.IsCorrect,
			Difficulty:  category.Difficulty,
			BloomsLevel: category.BloomsLevel,
			Embedding:   vec,
			CreatedAt:   attempt.CreatedAt,
		}

		if err := g.graph.InsertAttemptHierarchy(ctx, node); err != nil {
			logger.Error("Failed to materialize attempt", zap.String("attempt_id", attempt.ID), zap.Error(err))
			continue
		}
		metrics.AttemptsIngested.Inc()

		vectors = append(vectors, milvus.AttemptVector{
			AttemptID:  attempt.ID,
			StudentUID: attempt.StudentUID,
			Subject:    attempt.SubjectName,
			Topic:      category.Topic,
			Concept:    category.Concept,
			Question:   attempt.Question,
			IsCorrect:  attempt.IsCorrect,
			Embedding:  vec,
			CreatedAt:  attempt.CreatedAt,
		})
	}

	if len(vectors) > 0 {
		if err := g.vectors.Insert(ctx, vectors); err != nil {
			return fmt.Errorf("failed to index attempt vectors: %w", err)
		}
	}

	logger.Info("Ingestion completed",
		zap.String("student_uid", studentUID),
		zap.Int("materialized", len(vectors)),
	)

	return nil
}

// embedAll embeds the whole attempt set in one batched model call. A batch
// failure degrades to zero vectors so the graph materialization still runs.
func (g *Ingester) embedAll(ctx context.Context, attempts []models.AttemptRecord) [][]float32 {
	texts := make([]string, len(attempts))
	for i := range attempts {
		texts[i] = attemptText(&attempts[i])
	}

	embeddings, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(embeddings) != len(attempts) {
		logger.Warn("Batch embedding failed, using zero vectors", zap.Error(err))
		embeddings = make([][]float32, len(attempts))
	}

	for i, vec := range embeddings {
		if vec == nil {
			embeddings[i] = make([]float32, g.embedder.Dim())
		}
	}

	return embeddings
}

// categorizeAll resolves a category for every attempt: labels already on
// the relational row win, then the batched LLM classifier per subject,
// then the fixed default.
func (g *Ingester) categorizeAll(ctx context.Context, attempts []models.AttemptRecord) map[string]llm.AttemptCategory {
	categories := make(map[string]llm.AttemptCategory, len(attempts))

	bySubject := make(map[string][]models.AttemptRecord)
	for _, a := range attempts {
		if a.Topic != "" {
			cat := llm.AttemptCategory{
				AttemptID:   a.ID,
				Topic:       a.Topic,
				SubTopic:    orDefault(a.SubTopic, "General"),
				Concept:     orDefault(a.Concept, "Uncategorized"),
				Difficulty:  a.Difficulty,
				BloomsLevel: orDefault(a.BloomsLevel, "understand"),
			}
			if cat.Difficulty == 0 {
				cat.Difficulty = 3
			}
			categories[a.ID] = cat
			continue
		}
		bySubject[a.SubjectName] = append(bySubject[a.SubjectName], a)
	}

	for subject, group := range bySubject {
		taxonomy, known := subjectTaxonomies[subject]
		if g.classifier == nil || !known {
			for _, a := range group {
				cat := defaultCategory
				cat.AttemptID = a.ID
				categories[a.ID] = cat
			}
			continue
		}

		inputs := make([]llm.CategorizeInput, len(group))
		for i, a := range group {
			inputs[i] = llm.CategorizeInput{
				AttemptID: a.ID,
				Question:  a.Question,
				Answer:    a.StudentAnswer,
			}
		}

		resolved, err := g.classifier.CategorizeAttempts(ctx, subject, strings.Join(taxonomy, ", "), inputs)
		if err != nil {
			logger.Warn("Categorization failed, using default category",
				zap.String("subject", subject), zap.Error(err))
			resolved = nil
		}

		byID := make(map[string]llm.AttemptCategory, len(resolved))
		for _, cat := range resolved {
			byID[cat.AttemptID] = cat
		}

		for _, a := range group {
			cat, ok := byID[a.ID]
			if !ok || cat.Topic == "" {
				cat = defaultCategory
				cat.AttemptID = a.ID
			}
			if cat.Difficulty < 1 || cat.Difficulty > 5 {
				cat.Difficulty = 3
			}
			categories[a.ID] = cat
		}
	}

	return categories
}

func attemptText(a *models.AttemptRecord) string {
	return fmt.Sprintf("%s: %s | answered: %s | correct answer: %s",
		a.SubjectName, a.Question, a.StudentAnswer, a.CorrectAnswer)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

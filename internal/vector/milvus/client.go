package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/learnlens/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// AttemptVector is one embedded attempt stored in the vector index.
type AttemptVector struct {
	AttemptID  string
	StudentUID string
	Subject    string
	Topic      string
	Concept    string
	Question   string
	IsCorrect  bool
	Embedding  []float32
	CreatedAt  time.Time
}

type SearchResult struct {
	AttemptID string
	Subject   string
	Topic     string
	Concept   string
	Question  string
	IsCorrect bool
	Score     float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Embedded learner attempt records",
		Fields: []*entity.Field{
			{
				Name:       "attempt_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "student_uid",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "subject",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "topic",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "concept",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "question",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     "is_correct",
				DataType: entity.FieldTypeBool,
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// DeleteByStudent removes every vector belonging to one student. Called by
// the ingester before re-materializing, mirroring the graph wipe.
func (m *Client) DeleteByStudent(ctx context.Context, studentUID string) error {
	expr := fmt.Sprintf(`student_uid == "%s"`, studentUID)

	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete student vectors: %w", err)
	}

	logger.Debug("Student vectors deleted", zap.String("student_uid", studentUID))
	return nil
}

func (m *Client) Insert(ctx context.Context, vectors []AttemptVector) error {
	if len(vectors) == 0 {
		return nil
	}

	attemptIDs := make([]string, len(vectors))
	embeddings := make([][]float32, len(vectors))
	studentUIDs := make([]string, len(vectors))
	subjects := make([]string, len(vectors))
	topics := make([]string, len(vectors))
	concepts := make([]string, len(vectors))
	questions := make([]string, len(vectors))
	correctFlags := make([]bool, len(vectors))
	timestamps := make([]int64, len(vectors))

	for i, v := range vectors {
		attemptIDs[i] = v.AttemptID
		embeddings[i] = v.Embedding
		studentUIDs[i] = v.StudentUID
		subjects[i] = v.Subject
		topics[i] = v.Topic
		concepts[i] = v.Concept
		questions[i] = v.Question
		correctFlags[i] = v.IsCorrect
		timestamps[i] = v.CreatedAt.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("attempt_id", attemptIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("student_uid", studentUIDs),
		entity.NewColumnVarChar("subject", subjects),
		entity.NewColumnVarChar("topic", topics),
		entity.NewColumnVarChar("concept", concepts),
		entity.NewColumnVarChar("question", questions),
		entity.NewColumnBool("is_correct", correctFlags),
		entity.NewColumnInt64("created_at", timestamps),
	)

	if err != nil {
		return fmt.Errorf("failed to insert attempt vectors: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Attempt vectors inserted", zap.Int("count", len(vectors)))

	return nil
}

// Search returns the nearest attempt vectors for one student, optionally
// narrowed to a subject and topic.
func (m *Client) Search(ctx context.Context, studentUID string, queryEmbedding []float32, topK int, subject, topic string) ([]SearchResult, error) {
	expr := fmt.Sprintf(`student_uid == "%s"`, studentUID)
	if subject != "" {
		expr += fmt.Sprintf(` && subject == "%s"`, subject)
	}
	if topic != "" {
		expr += fmt.Sprintf(` && topic == "%s"`, topic)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"attempt_id", "subject", "topic", "concept", "question", "is_correct"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			attemptIDCol := sr.Fields.GetColumn("attempt_id")
			subjectCol := sr.Fields.GetColumn("subject")
			topicCol := sr.Fields.GetColumn("topic")
			conceptCol := sr.Fields.GetColumn("concept")
			questionCol := sr.Fields.GetColumn("question")
			correctCol := sr.Fields.GetColumn("is_correct")

			attemptID, _ := attemptIDCol.Get(i)
			subjectVal, _ := subjectCol.Get(i)
			topicVal, _ := topicCol.Get(i)
			conceptVal, _ := conceptCol.Get(i)
			questionVal, _ := questionCol.Get(i)
			correctVal, _ := correctCol.Get(i)

			result := SearchResult{
				AttemptID: attemptID.(string),
				Subject:   subjectVal.(string),
				Topic:     topicVal.(string),
				Concept:   conceptVal.(string),
				Question:  questionVal.(string),
				Score:     sr.Scores[i],
			}
			if b, ok := correctVal.(bool); ok {
				result.IsCorrect = b
			}

			results = append(results, result)
		}
	}

	logger.Debug("Vector search completed",
		zap.String("student_uid", studentUID),
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

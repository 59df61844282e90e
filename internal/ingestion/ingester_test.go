package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	graph "github.com/learnlens/backend/internal/graph/neo4j"
	"github.com/learnlens/backend/internal/llm"
	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/internal/vector/milvus"
)

type fakeStore struct {
	student  *models.Student
	subjects []models.Subject
	attempts []models.AttemptRecord
}

func (f *fakeStore) GetStudent(uid string) (*models.Student, error) {
	if f.student == nil {
		return nil, errors.New("student not found")
	}
	return f.student, nil
}

func (f *fakeStore) GetSubjects() ([]models.Subject, error) {
	return f.subjects, nil
}

func (f *fakeStore) GetAttempts(uid string) ([]models.AttemptRecord, error) {
	return f.attempts, nil
}

type fakeGraphWriter struct {
	cleared  []string
	students []string
	subjects []string
	nodes    []*graph.AttemptNode
}

func (f *fakeGraphWriter) ClearStudentGraph(_ context.Context, studentUID string) error {
	f.cleared = append(f.cleared, studentUID)
	return nil
}

func (f *fakeGraphWriter) UpsertStudent(_ context.Context, uid, _ string) error {
	f.students = append(f.students, uid)
	return nil
}

func (f *fakeGraphWriter) UpsertSubject(_ context.Context, name string) error {
	f.subjects = append(f.subjects, name)
	return nil
}

func (f *fakeGraphWriter) InsertAttemptHierarchy(_ context.Context, node *graph.AttemptNode) error {
	f.nodes = append(f.nodes, node)
	return nil
}

type fakeVectorWriter struct {
	deleted  []string
	inserted []milvus.AttemptVector
}

func (f *fakeVectorWriter) DeleteByStudent(_ context.Context, studentUID string) error {
	f.deleted = append(f.deleted, studentUID)
	return nil
}

func (f *fakeVectorWriter) Insert(_ context.Context, vectors []milvus.AttemptVector) error {
	f.inserted = append(f.inserted, vectors...)
	return nil
}

type fakeCategorizer struct {
	categories []llm.AttemptCategory
	err        error
	subjects   []string
}

func (f *fakeCategorizer) CategorizeAttempts(_ context.Context, subject, _ string, _ []llm.CategorizeInput) ([]llm.AttemptCategory, error) {
	f.subjects = append(f.subjects, subject)
	return f.categories, f.err
}

type stubEmbedder struct {
	err        error
	batchCalls int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.5, 0.5}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.batchCalls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = s.Embed(ctx, text)
	}
	return out, nil
}

func (s *stubEmbedder) Dim() int { return 2 }

func sampleAttempt(id, subject, topic string) models.AttemptRecord {
	return models.AttemptRecord{
		ID:          id,
		StudentUID:  "stu-1",
		SubjectName: subject,
		Question:    "What is 1/2 + 1/4?",
		IsCorrect:   false,
		Topic:       topic,
		CreatedAt:   time.Now(),
	}
}

func newTestIngester(store *fakeStore, g *fakeGraphWriter, v *fakeVectorWriter, cat *fakeCategorizer, emb *stubEmbedder) *Ingester {
	if cat == nil {
		return NewIngester(store, g, v, nil, emb)
	}
	return NewIngester(store, g, v, cat, emb)
}

func TestIngestRebuildsDerivedStores(t *testing.T) {
	store := &fakeStore{
		student:  &models.Student{UID: "stu-1", Name: "Sam"},
		subjects: []models.Subject{{ID: "s1", Name: "Math"}},
		attempts: []models.AttemptRecord{sampleAttempt("a1", "Math", "fractions")},
	}
	g := &fakeGraphWriter{}
	v := &fakeVectorWriter{}

	err := newTestIngester(store, g, v, nil, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"stu-1"}, g.cleared)
	assert.Equal(t, []string{"stu-1"}, v.deleted)
	assert.Equal(t, []string{"stu-1"}, g.students)
	assert.Equal(t, []string{"Math"}, g.subjects)
	require.Len(t, g.nodes, 1)
	require.Len(t, v.inserted, 1)
	assert.Equal(t, "a1", v.inserted[0].AttemptID)
}

func TestIngestRowLabelsWin(t *testing.T) {
	a := sampleAttempt("a1", "Math", "fractions")
	a.SubTopic = "addition"
	a.Concept = "common denominators"
	a.Difficulty = 2
	a.BloomsLevel = "apply"

	store := &fakeStore{
		student:  &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{a},
	}
	g := &fakeGraphWriter{}
	cat := &fakeCategorizer{}

	err := newTestIngester(store, g, &fakeVectorWriter{}, cat, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	// The pre-labeled row never reaches the classifier.
	assert.Empty(t, cat.subjects)
	require.Len(t, g.nodes, 1)
	assert.Equal(t, "fractions", g.nodes[0].Topic)
	assert.Equal(t, "addition", g.nodes[0].SubTopic)
	assert.Equal(t, 2, g.nodes[0].Difficulty)
}

func TestIngestUnlabeledAttemptsUseClassifier(t *testing.T) {
	store := &fakeStore{
		student:  &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{sampleAttempt("a1", "Math", "")},
	}
	g := &fakeGraphWriter{}
	cat := &fakeCategorizer{categories: []llm.AttemptCategory{
		{AttemptID: "a1", Topic: "fractions", SubTopic: "addition", Concept: "halves", Difficulty: 2, BloomsLevel: "apply"},
	}}

	err := newTestIngester(store, g, &fakeVectorWriter{}, cat, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"Math"}, cat.subjects)
	require.Len(t, g.nodes, 1)
	assert.Equal(t, "fractions", g.nodes[0].Topic)
}

func TestIngestDefaultCategoryWithoutClassifier(t *testing.T) {
	store := &fakeStore{
		student:  &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{sampleAttempt("a1", "Math", "")},
	}
	g := &fakeGraphWriter{}

	err := newTestIngester(store, g, &fakeVectorWriter{}, nil, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	require.Len(t, g.nodes, 1)
	assert.Equal(t, "General", g.nodes[0].Topic)
	assert.Equal(t, "Uncategorized", g.nodes[0].Concept)
	assert.Equal(t, 3, g.nodes[0].Difficulty)
	assert.Equal(t, "understand", g.nodes[0].BloomsLevel)
}

func TestIngestUnknownSubjectSkipsClassifier(t *testing.T) {
	store := &fakeStore{
		student:  &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{sampleAttempt("a1", "Astronomy", "")},
	}
	g := &fakeGraphWriter{}
	cat := &fakeCategorizer{}

	err := newTestIngester(store, g, &fakeVectorWriter{}, cat, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	assert.Empty(t, cat.subjects)
	require.Len(t, g.nodes, 1)
	assert.Equal(t, "General", g.nodes[0].Topic)
}

func TestIngestClassifierErrorFallsBackToDefault(t *testing.T) {
	store := &fakeStore{
		student:  &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{sampleAttempt("a1", "Math", "")},
	}
	g := &fakeGraphWriter{}
	cat := &fakeCategorizer{err: errors.New("model down")}

	err := newTestIngester(store, g, &fakeVectorWriter{}, cat, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	require.Len(t, g.nodes, 1)
	assert.Equal(t, "General", g.nodes[0].Topic)
}

func TestIngestClampsOutOfRangeDifficulty(t *testing.T) {
	store := &fakeStore{
		student:  &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{sampleAttempt("a1", "Math", "")},
	}
	g := &fakeGraphWriter{}
	cat := &fakeCategorizer{categories: []llm.AttemptCategory{
		{AttemptID: "a1", Topic: "fractions", Difficulty: 9},
	}}

	err := newTestIngester(store, g, &fakeVectorWriter{}, cat, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	require.Len(t, g.nodes, 1)
	assert.Equal(t, 3, g.nodes[0].Difficulty)
}

func TestIngestEmbeddingFailureUsesZeroVector(t *testing.T) {
	store := &fakeStore{
		student:  &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{sampleAttempt("a1", "Math", "fractions")},
	}
	v := &fakeVectorWriter{}

	err := newTestIngester(store, &fakeGraphWriter{}, v, nil, &stubEmbedder{err: errors.New("embed failed")}).
		Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	require.Len(t, v.inserted, 1)
	assert.Equal(t, []float32{0, 0}, v.inserted[0].Embedding)
}

func TestIngestEmbedsAttemptsInOneBatch(t *testing.T) {
	store := &fakeStore{
		student: &models.Student{UID: "stu-1"},
		attempts: []models.AttemptRecord{
			sampleAttempt("a1", "Math", "fractions"),
			sampleAttempt("a2", "Math", "decimals"),
			sampleAttempt("a3", "Science", "cells"),
		},
	}
	v := &fakeVectorWriter{}
	emb := &stubEmbedder{}

	err := newTestIngester(store, &fakeGraphWriter{}, v, nil, emb).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	assert.Equal(t, 1, emb.batchCalls)
	require.Len(t, v.inserted, 3)
	for _, vec := range v.inserted {
		assert.Equal(t, []float32{0.5, 0.5}, vec.Embedding)
	}
}

func TestIngestNoAttempts(t *testing.T) {
	store := &fakeStore{student: &models.Student{UID: "stu-1"}}
	g := &fakeGraphWriter{}
	v := &fakeVectorWriter{}

	err := newTestIngester(store, g, v, nil, &stubEmbedder{}).Ingest(context.Background(), "stu-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"stu-1"}, g.cleared)
	assert.Empty(t, g.nodes)
	assert.Empty(t, v.inserted)
}

func TestIngestUnknownStudent(t *testing.T) {
	err := newTestIngester(&fakeStore{}, &fakeGraphWriter{}, &fakeVectorWriter{}, nil, &stubEmbedder{}).
		Ingest(context.Background(), "ghost")
	assert.Error(t, err)
}

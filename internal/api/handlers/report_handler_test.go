package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnlens/backend/internal/analysis"
	"github.com/learnlens/backend/internal/guardrail"
	"github.com/learnlens/backend/internal/intent"
	"github.com/learnlens/backend/internal/report"
	"github.com/learnlens/backend/internal/retrieval"
	"github.com/learnlens/backend/internal/storage/models"
)

type fakePipelineStore struct{}

func (f *fakePipelineStore) GetAttempts(string) ([]models.AttemptRecord, error) { return nil, nil }
func (f *fakePipelineStore) GetLastReportTime(string) (time.Time, error)        { return time.Time{}, nil }
func (f *fakePipelineStore) SaveReport(*models.PerformanceReportRecord) error   { return nil }

type fakeClassifier struct {
	intent string
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) intent.Result {
	f.calls++
	return intent.Result{Intent: f.intent, Subject: "Math"}
}

type fakeScreener struct{}

func (f *fakeScreener) ScreenInput(text string) guardrail.InputResult {
	return guardrail.InputResult{Masked: text}
}

func (f *fakeScreener) ScreenOutput(text string) (string, []string) { return text, nil }

type fakeIngester struct{}

func (f *fakeIngester) Ingest(context.Context, string) error { return nil }

type fakeRetriever struct{}

func (f *fakeRetriever) Retrieve(_ context.Context, _ retrieval.Request) *retrieval.Evidence {
	return &retrieval.Evidence{
		HybridContext: strings.Repeat("evidence ", 20),
		Score:         0.9,
		Sufficient:    true,
	}
}

type fakeAnalyst struct {
	fallback bool
}

func (f *fakeAnalyst) GenerateReport(_ context.Context, _ analysis.Input) analysis.Output {
	return analysis.Output{Text: "full report", ModelUsed: "test-model", Fallback: f.fallback, Step: "report generated"}
}

func (f *fakeAnalyst) GenerateAnswer(_ context.Context, _ analysis.Input) analysis.Output {
	return analysis.Output{Text: "direct answer", ModelUsed: "test-model", Fallback: f.fallback, Step: "answer generated"}
}

type fakeResponseCache struct {
	store map[string][]byte
	sets  int
}

func newFakeResponseCache() *fakeResponseCache {
	return &fakeResponseCache{store: make(map[string][]byte)}
}

func (f *fakeResponseCache) GetResponse(_ context.Context, studentUID, queryHash string, response interface{}) (bool, error) {
	data, ok := f.store[studentUID+":"+queryHash]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, response)
}

func (f *fakeResponseCache) SetResponse(_ context.Context, studentUID, queryHash string, response interface{}, _ time.Duration) (err error) {
	f.store[studentUID+":"+queryHash], err = json.Marshal(response)
	f.sets++
	return err
}

type historyStoreStub struct{}

func (h *historyStoreStub) GetReportHistory(string, int) ([]models.PerformanceReportRecord, error) {
	return nil, nil
}

func newHandlerFixture(intentName string, fallback bool, cache responseCache) (*ReportHandler, *fakeClassifier) {
	cls := &fakeClassifier{intent: intentName}
	pipeline := report.NewService(
		&fakePipelineStore{}, cls, &fakeScreener{}, &fakeIngester{},
		&fakeRetriever{}, &fakeAnalyst{fallback: fallback},
		report.Config{},
	)
	return NewReportHandler(pipeline, &historyStoreStub{}, cache), cls
}

func newReportTestApp(h *ReportHandler) *fiber.App {
	app := fiber.New()
	app.Post("/api/v1/reports", h.HandleReport)
	return app
}

func postReport(t *testing.T, h *ReportHandler, body string) *report.Envelope {
	t.Helper()

	app := newReportTestApp(h)
	req := httptest.NewRequest("POST", "/api/v1/reports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env report.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func TestHandleReportCachesCleanAnswers(t *testing.T) {
	cache := newFakeResponseCache()
	h, _ := newHandlerFixture(intent.IntentQA, false, cache)

	env := postReport(t, h, `{"student_uid":"stu-1","query":"how are my fractions"}`)

	assert.Equal(t, "direct answer", env.Answer)
	assert.Equal(t, report.SourceAIGenerated, env.ResponseSource)
	assert.Equal(t, 1, cache.sets)
}

func TestHandleReportServesCachedEnvelope(t *testing.T) {
	cache := newFakeResponseCache()
	h, cls := newHandlerFixture(intent.IntentQA, false, cache)

	first := postReport(t, h, `{"student_uid":"stu-1","query":"how are my fractions"}`)
	callsAfterFirst := cls.calls

	second := postReport(t, h, `{"student_uid":"stu-1","query":"how are my fractions"}`)

	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, callsAfterFirst, cls.calls, "cache hit must not re-run the pipeline")
	assert.Equal(t, 1, cache.sets)
}

func TestHandleReportDoesNotCacheReports(t *testing.T) {
	cache := newFakeResponseCache()
	h, _ := newHandlerFixture(intent.IntentReport, false, cache)

	env := postReport(t, h, `{"student_uid":"stu-1","query":"full performance report please"}`)

	assert.Equal(t, "full report", env.AnalysisReport)
	assert.Zero(t, cache.sets)
}

func TestHandleReportDoesNotCacheFallbacks(t *testing.T) {
	cache := newFakeResponseCache()
	h, _ := newHandlerFixture(intent.IntentQA, true, cache)

	env := postReport(t, h, `{"student_uid":"stu-1","query":"how are my fractions"}`)

	assert.Equal(t, report.SourceDatabaseFallback, env.ResponseSource)
	assert.Zero(t, cache.sets)
}

func TestHandleReportNilCache(t *testing.T) {
	h, _ := newHandlerFixture(intent.IntentQA, false, nil)

	env := postReport(t, h, `{"student_uid":"stu-1","query":"how are my fractions"}`)

	assert.Equal(t, "direct answer", env.Answer)
}

package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/intent"
	"github.com/learnlens/backend/internal/metrics"
	"github.com/learnlens/backend/internal/report"
	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/pkg/logger"
	"github.com/learnlens/backend/pkg/utils"
)

type reportHistoryStore interface {
	GetReportHistory(studentUID string, limit int) ([]models.PerformanceReportRecord, error)
}

type responseCache interface {
	GetResponse(ctx context.Context, studentUID, queryHash string, response interface{}) (bool, error)
	SetResponse(ctx context.Context, studentUID, queryHash string, response interface{}, ttl time.Duration) error
}

// responseCacheTTL bounds how long a cached answer can outlive the attempt
// history it was computed from; new attempts invalidate eagerly anyway.
const responseCacheTTL = 15 * time.Minute

type ReportHandler struct {
	pipeline *report.Service
	store    reportHistoryStore
	cache    responseCache
}

func NewReportHandler(pipeline *report.Service, store reportHistoryStore, cache responseCache) *ReportHandler {
	return &ReportHandler{
		pipeline: pipeline,
		store:    store,
		cache:    cache,
	}
}

func (h *ReportHandler) HandleReport(c *fiber.Ctx) error {
	var req struct {
		StudentUID    string `json:"student_uid"`
		Query         string `json:"query"`
		Intent        string `json:"intent"`
		SkipIngestion bool   `json:"skip_ingestion"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.StudentUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "student_uid is required",
		})
	}

	queryHash := utils.HashString(req.Intent + "|" + req.Query)
	if h.cache != nil {
		var cached report.Envelope
		hit, err := h.cache.GetResponse(c.Context(), req.StudentUID, queryHash, &cached)
		if err != nil {
			logger.Warn("Response cache read failed", zap.Error(err))
		} else if hit {
			metrics.CacheHits.WithLabelValues("response").Inc()
			return c.JSON(&cached)
		} else {
			metrics.CacheMisses.WithLabelValues("response").Inc()
		}
	}

	envelope := h.pipeline.HandleRequest(c.Context(), report.Request{
		StudentUID:    req.StudentUID,
		Query:         req.Query,
		IntentHint:    req.Intent,
		AdminKey:      c.Get("X-Admin-Key"),
		SkipIngestion: req.SkipIngestion,
	})

	if h.cache != nil && cacheable(envelope) {
		if err := h.cache.SetResponse(c.Context(), req.StudentUID, queryHash, envelope, responseCacheTTL); err != nil {
			logger.Warn("Response cache write failed", zap.Error(err))
		}
	}

	return c.JSON(envelope)
}

// cacheable admits only clean qa answers. Reports go through the cooldown
// accounting every time, and degraded or blocked runs should be retried,
// not replayed.
func cacheable(env *report.Envelope) bool {
	return env.Success &&
		!env.IsFallback &&
		env.Intent == intent.IntentQA &&
		env.ResponseSource == report.SourceAIGenerated
}

func (h *ReportHandler) GetReportHistory(c *fiber.Ctx) error {
	studentUID := c.Query("student_uid")
	if studentUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "student_uid is required",
		})
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be between 1 and 100",
			})
		}
		limit = parsed
	}

	records, err := h.store.GetReportHistory(studentUID, limit)
	if err != nil {
		logger.Error("Failed to load report history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load report history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":                  r.ID,
			"intent":              r.Intent,
			"subject":             r.Subject,
			"topic":               r.Topic,
			"report_format":       r.ReportFormat,
			"response_source":     r.ResponseSource,
			"success":             r.Success,
			"evidence_sufficient": r.EvidenceSufficient,
			"created_at":          r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"student_uid": studentUID,
		"history":     history,
	})
}

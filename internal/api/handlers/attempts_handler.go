package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/cache/redis"
	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/pkg/logger"
)

type attemptStore interface {
	InsertAttempt(a *models.AttemptRecord) error
}

type AttemptsHandler struct {
	store attemptStore
	cache *redis.Client
}

// NewAttemptsHandler accepts a nil cache; invalidation is then skipped.
func NewAttemptsHandler(store attemptStore, cache *redis.Client) *AttemptsHandler {
	return &AttemptsHandler{
		store: store,
		cache: cache,
	}
}

func (h *AttemptsHandler) HandleInsertAttempt(c *fiber.Ctx) error {
	var req struct {
		StudentUID    string `json:"student_uid"`
		SubjectID     string `json:"subject_id"`
		Question      string `json:"question"`
		StudentAnswer string `json:"student_answer"`
		CorrectAnswer string `json:"correct_answer"`
		IsCorrect     bool   `json:"is_correct"`
		IsPartial     bool   `json:"is_partial"`
		AIFeedback    string `json:"ai_feedback"`
		Difficulty    int    `json:"difficulty"`
		BloomsLevel   string `json:"blooms_level"`
		Topic         string `json:"topic"`
		SubTopic      string `json:"sub_topic"`
		Concept       string `json:"concept"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.StudentUID == "" || req.SubjectID == "" || req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "student_uid, subject_id and question are required",
		})
	}

	attempt := &models.AttemptRecord{
		ID:            uuid.New().String(),
		StudentUID:    req.StudentUID,
		SubjectID:     req.SubjectID,
		Question:      req.Question,
		StudentAnswer: req.StudentAnswer,
		CorrectAnswer: req.CorrectAnswer,
		IsCorrect:     req.IsCorrect,
		IsPartial:     req.IsPartial,
		AIFeedback:    req.AIFeedback,
		Difficulty:    req.Difficulty,
		BloomsLevel:   req.BloomsLevel,
		Topic:         req.Topic,
		SubTopic:      req.SubTopic,
		Concept:       req.Concept,
		CreatedAt:     time.Now(),
	}

	if err := h.store.InsertAttempt(attempt); err != nil {
		logger.Error("Failed to insert attempt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record attempt",
		})
	}

	// New evidence invalidates any cached responses for this learner.
	if h.cache != nil {
		if err := h.cache.InvalidateStudent(c.Context(), req.StudentUID); err != nil {
			logger.Warn("Failed to invalidate cached responses", zap.Error(err))
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          attempt.ID,
		"student_uid": attempt.StudentUID,
		"created_at":  attempt.CreatedAt,
	})
}

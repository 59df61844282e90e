package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	// Matches SQL statement shapes, not bare keywords: learner queries
	// legitimately contain words like "selection" or "union of sets".
	sqlInjectionPattern = regexp.MustCompile(`(?is)(\bunion\b[\s(]+(all[\s(]+)?select\b|\bselect\b.{0,40}\bfrom\b|\binsert\s+into\b|\bdelete\s+from\b|\bdrop\s+(table|database|index)\b|\balter\s+table\b|\bupdate\s+\w+\s+set\b|\bexec(ute)?\s+\w|;\s*--)`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	studentUIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

type Config struct {
	MaxQueryLength    int
	MaxQuestionLength int
	Logger            *zap.Logger
}

// Middleware rejects malformed analysis and attempt submissions before
// they reach the handlers. Semantic screening of query content happens
// later in the pipeline; this layer only enforces shape and size.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 10000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != "POST" {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()

		if strings.Contains(path, "/api/v1/reports") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			uid, ok := req["student_uid"].(string)
			if !ok || uid == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "student_uid is required and must be a string",
				})
			}
			if !studentUIDPattern.MatchString(uid) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "student_uid has an invalid format",
				})
			}

			query, _ := req["query"].(string)
			if len(query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}

			if sqlInjectionPattern.MatchString(query) || xssPattern.MatchString(query) {
				cfg.Logger.Warn("Suspicious query content",
					zap.String("ip", c.IP()),
					zap.String("student_uid", uid),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid query content",
				})
			}
		}

		if strings.Contains(path, "/api/v1/attempts") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			uid, ok := req["student_uid"].(string)
			if !ok || !studentUIDPattern.MatchString(uid) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "student_uid is required and must be a string",
				})
			}

			question, ok := req["question"].(string)
			if !ok || question == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "question is required and must be a string",
				})
			}
			if len(question) > cfg.MaxQuestionLength {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Question exceeds maximum length",
				})
			}

			if difficulty, ok := req["difficulty"].(float64); ok {
				if difficulty < 0 || difficulty > 5 {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "difficulty must be between 0 and 5",
					})
				}
			}
		}

		return c.Next()
	}
}

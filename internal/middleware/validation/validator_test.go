package validation

import (
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{Logger: zap.NewNop()}))
	app.Post("/api/v1/reports", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/v1/attempts", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestReportValidationQueryContent(t *testing.T) {
	app := newTestApp()

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"natural selection", "explain natural selection to me", fiber.StatusOK},
		{"union of sets", "what is the union of sets", fiber.StatusOK},
		{"create problems", "which topics create problems for me", fiber.StatusOK},
		{"update me", "update me on my progress in Math", fiber.StatusOK},
		{"select the answer", "how do I select an answer quickly", fiber.StatusOK},
		{"union select", "1 UNION SELECT password", fiber.StatusBadRequest},
		{"select from", "SELECT name FROM students", fiber.StatusBadRequest},
		{"drop table", "'; DROP TABLE students; --", fiber.StatusBadRequest},
		{"delete from", "DELETE FROM performance_reports", fiber.StatusBadRequest},
		{"insert into", "INSERT INTO attempts VALUES (1)", fiber.StatusBadRequest},
		{"comment tail", "anything; -- trailing", fiber.StatusBadRequest},
		{"script tag", `<script>alert(1)</script>`, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"student_uid":"stu-1","query":` + strconv.Quote(tt.query) + `}`
			assert.Equal(t, tt.status, postJSON(t, app, "/api/v1/reports", body))
		})
	}
}

func TestReportValidationStudentUID(t *testing.T) {
	app := newTestApp()

	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/reports", `{"query":"how am I doing"}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/reports", `{"student_uid":"has spaces","query":"x"}`))
	assert.Equal(t, fiber.StatusOK, postJSON(t, app, "/api/v1/reports", `{"student_uid":"stu_01-A","query":"how am I doing"}`))
}

func TestAttemptValidation(t *testing.T) {
	app := newTestApp()

	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/attempts", `{"student_uid":"stu-1"}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/attempts", `{"student_uid":"stu-1","question":"2+2?","difficulty":7}`))
	assert.Equal(t, fiber.StatusOK, postJSON(t, app, "/api/v1/attempts", `{"student_uid":"stu-1","question":"2+2?","difficulty":3}`))
}

func TestValidationRejectsNonJSONContentType(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest("POST", "/api/v1/reports", strings.NewReader("student_uid=stu-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		gradeband TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		student_uid TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		question TEXT NOT NULL,
		student_answer TEXT,
		correct_answer TEXT,
		is_correct INTEGER NOT NULL,
		is_partial INTEGER DEFAULT 0,
		ai_feedback TEXT,
		difficulty INTEGER DEFAULT 3,
		blooms_level TEXT,
		topic TEXT,
		subtopic TEXT,
		concept TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (student_uid) REFERENCES students(uid),
		FOREIGN KEY (subject_id) REFERENCES subjects(id)
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_student ON attempts(student_uid);
	CREATE INDEX IF NOT EXISTS idx_attempts_subject ON attempts(subject_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts(created_at);

	CREATE TABLE IF NOT EXISTS performance_reports (
		id TEXT PRIMARY KEY,
		student_uid TEXT NOT NULL,
		intent TEXT NOT NULL,
		subject TEXT,
		topic TEXT,
		report_text TEXT,
		report_format TEXT,
		execution_log TEXT,
		evidence_score REAL,
		evidence_sufficient INTEGER,
		retrieval_attempts INTEGER,
		success INTEGER NOT NULL,
		errors TEXT,
		response_source TEXT,
		model_used TEXT,
		processing_time_ms INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (student_uid) REFERENCES students(uid)
	);
	CREATE INDEX IF NOT EXISTS idx_reports_student ON performance_reports(student_uid);
	CREATE INDEX IF NOT EXISTS idx_reports_created ON performance_reports(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) GetStudent(uid string) (*models.Student, error) {
	query := `SELECT uid, name, gradeband, created_at FROM students WHERE uid = ?`

	var s models.Student
	var createdAt int64
	var gradeband sql.NullString

	err := c.db.QueryRow(query, uid).Scan(&s.UID, &s.Name, &gradeband, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get student %s: %w", uid, err)
	}

	s.Gradeband = gradeband.String
	s.CreatedAt = time.Unix(createdAt, 0)

	return &s, nil
}

func (c *Client) UpsertStudent(s *models.Student) error {
	query := `
		INSERT INTO students (uid, name, gradeband, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = excluded.name,
			gradeband = excluded.gradeband
	`

	_, err := c.db.Exec(query, s.UID, s.Name, s.Gradeband, s.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert student: %w", err)
	}

	return nil
}

func (c *Client) GetSubjects() ([]models.Subject, error) {
	rows, err := c.db.Query(`SELECT id, name FROM subjects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var s models.Subject
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		subjects = append(subjects, s)
	}

	return subjects, rows.Err()
}

func (c *Client) UpsertSubject(s *models.Subject) error {
	query := `INSERT INTO subjects (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`

	_, err := c.db.Exec(query, s.ID, s.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert subject: %w", err)
	}

	return nil
}

func (c *Client) GetAttempts(studentUID string) ([]models.AttemptRecord, error) {
	query := `
		SELECT a.id, a.student_uid, a.subject_id, s.name, a.question, a.student_answer,
			a.correct_answer, a.is_correct, a.is_partial, a.ai_feedback,
			a.difficulty, a.blooms_level, a.topic, a.subtopic, a.concept, a.created_at
		FROM attempts a
		JOIN subjects s ON s.id = a.subject_id
		WHERE a.student_uid = ?
		ORDER BY a.created_at
	`

	rows, err := c.db.Query(query, studentUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.AttemptRecord
	for rows.Next() {
		var a models.AttemptRecord
		var isCorrect, isPartial int
		var createdAt int64
		var studentAnswer, correctAnswer, aiFeedback, blooms, topic, subtopic, concept sql.NullString

		err := rows.Scan(&a.ID, &a.StudentUID, &a.SubjectID, &a.SubjectName, &a.Question,
			&studentAnswer, &correctAnswer, &isCorrect, &isPartial, &aiFeedback,
			&a.Difficulty, &blooms, &topic, &subtopic, &concept, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.StudentAnswer = studentAnswer.String
		a.CorrectAnswer = correctAnswer.String
		a.AIFeedback = aiFeedback.String
		a.BloomsLevel = blooms.String
		a.Topic = topic.String
		a.SubTopic = subtopic.String
		a.Concept = concept.String
		a.IsCorrect = isCorrect == 1
		a.IsPartial = isPartial == 1
		a.CreatedAt = time.Unix(createdAt, 0)

		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

func (c *Client) InsertAttempt(a *models.AttemptRecord) error {
	query := `
		INSERT INTO attempts (id, student_uid, subject_id, question, student_answer,
			correct_answer, is_correct, is_partial, ai_feedback, difficulty,
			blooms_level, topic, subtopic, concept, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query,
		a.ID, a.StudentUID, a.SubjectID, a.Question, a.StudentAnswer,
		a.CorrectAnswer, boolToInt(a.IsCorrect), boolToInt(a.IsPartial), a.AIFeedback,
		a.Difficulty, a.BloomsLevel, a.Topic, a.SubTopic, a.Concept, a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}

	logger.Debug("Attempt recorded",
		zap.String("attempt_id", a.ID),
		zap.String("student_uid", a.StudentUID),
	)

	return nil
}

// GetLastReportTime returns the creation time of the student's most recent
// delivered full report, or the zero time when none exists. Runs the
// student never received a report from (guardrail-blocked or cooldown
// rejections) do not count toward the cooldown window.
func (c *Client) GetLastReportTime(studentUID string) (time.Time, error) {
	query := `
		SELECT created_at FROM performance_reports
		WHERE student_uid = ? AND intent = 'report' AND success = 1
		  AND response_source NOT IN ('safety_guardrails', 'cooldown_limit')
		ORDER BY created_at DESC
		LIMIT 1
	`

	var createdAt int64
	err := c.db.QueryRow(query, studentUID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last report time: %w", err)
	}

	return time.Unix(createdAt, 0), nil
}

func (c *Client) SaveReport(r *models.PerformanceReportRecord) error {
	logJSON, _ := json.Marshal(r.ExecutionLog)
	errorsJSON, _ := json.Marshal(r.Errors)

	query := `
		INSERT INTO performance_reports (id, student_uid, intent, subject, topic,
			report_text, report_format, execution_log, evidence_score, evidence_sufficient,
			retrieval_attempts, success, errors, response_source, model_used,
			processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query,
		r.ID, r.StudentUID, r.Intent, r.Subject, r.Topic,
		r.ReportText, r.ReportFormat, string(logJSON), r.EvidenceScore,
		boolToInt(r.EvidenceSufficient), r.RetrievalAttempts, boolToInt(r.Success),
		string(errorsJSON), r.ResponseSource, r.ModelUsed, r.ProcessingTimeMS,
		r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	logger.Info("Report persisted",
		zap.String("report_id", r.ID),
		zap.String("student_uid", r.StudentUID),
		zap.Bool("success", r.Success),
	)

	return nil
}

func (c *Client) GetReportHistory(studentUID string, limit int) ([]models.PerformanceReportRecord, error) {
	query := `
		SELECT id, intent, subject, topic, report_text, report_format, evidence_score,
			evidence_sufficient, retrieval_attempts, success, response_source,
			model_used, processing_time_ms, created_at
		FROM performance_reports
		WHERE student_uid = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, studentUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get report history: %w", err)
	}
	defer rows.Close()

	var records []models.PerformanceReportRecord
	for rows.Next() {
		var r models.PerformanceReportRecord
		var sufficient, success int
		var createdAt int64
		var subject, topic, reportText, format, source, model sql.NullString

		err := rows.Scan(&r.ID, &r.Intent, &subject, &topic, &reportText, &format,
			&r.EvidenceScore, &sufficient, &r.RetrievalAttempts, &success,
			&source, &model, &r.ProcessingTimeMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.StudentUID = studentUID
		r.Subject = subject.String
		r.Topic = topic.String
		r.ReportText = reportText.String
		r.ReportFormat = format.String
		r.ResponseSource = source.String
		r.ModelUsed = model.String
		r.EvidenceSufficient = sufficient == 1
		r.Success = success == 1
		r.CreatedAt = time.Unix(createdAt, 0)

		records = append(records, r)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

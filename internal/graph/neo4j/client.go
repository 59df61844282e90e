package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/storage/models"
	"github.com/learnlens/backend/pkg/circuitbreaker"
	"github.com/learnlens/backend/pkg/logger"
	"github.com/learnlens/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// AttemptNode carries everything the ingester writes for one attempt:
// the categorized hierarchy position plus the similarity embedding.
type AttemptNode struct {
	AttemptID   string
	StudentUID  string
	Subject     string
	Topic       string
	SubTopic    string
	Concept     string
	Question    string
	IsCorrect   bool
	Difficulty  int
	BloomsLevel string
	Embedding   []float32
	CreatedAt   time.Time
}

// BreakdownRow is one (subject, topic, subtopic, concept) aggregate.
type BreakdownRow struct {
	Subject     string
	Topic       string
	SubTopic    string
	Concept     string
	Correct     int
	Incorrect   int
	Difficulty  float64
	BloomsLevel string
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// ClearStudentGraph drops every derived node hanging off one student. The
// graph is a disposable cache rebuilt from the relational store, so a full
// wipe before re-ingestion is safe.
func (c *Client) ClearStudentGraph(ctx context.Context, studentUID string) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Student {uid: $uid})-[:ATTEMPTED]->(a:Attempt)
			OPTIONAL MATCH (q:Question)-[:HAS_ATTEMPT]->(a)
			DETACH DELETE a, q
		`

		_, err := session.Run(ctx, query, map[string]interface{}{"uid": studentUID})
		return err
	})

	if err != nil {
		return fmt.Errorf("failed to clear student graph: %w", err)
	}

	logger.Info("Student graph cleared", zap.String("student_uid", studentUID))
	return nil
}

func (c *Client) UpsertStudent(ctx context.Context, uid, name string) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MERGE (s:Student {uid: $uid})
			SET s.name = $name,
			    s.updated_at = timestamp()
		`

		_, err := session.Run(ctx, query, map[string]interface{}{
			"uid":  uid,
			"name": name,
		})
		return err
	})

	if err != nil {
		return fmt.Errorf("failed to upsert student node: %w", err)
	}

	return nil
}

func (c *Client) UpsertSubject(ctx context.Context, name string) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `MERGE (sub:Subject {name: $name})`

		_, err := session.Run(ctx, query, map[string]interface{}{"name": name})
		return err
	})

	if err != nil {
		return fmt.Errorf("failed to upsert subject node: %w", err)
	}

	return nil
}

// InsertAttemptHierarchy materializes one attempt into the
// Subject→Topic→SubTopic→Concept→Question→Attempt chain. Hierarchy nodes
// are keyed by (name, parent-scope) so identical topic names under
// different subjects stay distinct.
func (c *Client) InsertAttemptHierarchy(ctx context.Context, node *AttemptNode) error {
	topicKey := node.Subject + "|" + node.Topic
	subtopicKey := topicKey + "|" + node.SubTopic
	conceptKey := subtopicKey + "|" + node.Concept

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Student {uid: $student_uid})
			MERGE (sub:Subject {name: $subject})
			MERGE (t:Topic {key: $topic_key})
			  ON CREATE SET t.name = $topic
			MERGE (sub)-[:HAS_TOPIC]->(t)
			MERGE (st:SubTopic {key: $subtopic_key})
			  ON CREATE SET st.name = $subtopic
			MERGE (t)-[:HAS_SUBTOPIC]->(st)
			MERGE (con:Concept {key: $concept_key})
			  ON CREATE SET con.name = $concept
			MERGE (st)-[:HAS_CONCEPT]->(con)
			MERGE (q:Question {attempt_id: $attempt_id})
			  ON CREATE SET q.text = $question
			MERGE (con)-[:HAS_QUESTION]->(q)
			CREATE (a:Attempt {
				id: $attempt_id,
				student_uid: $student_uid,
				subject: $subject,
				topic: $topic,
				subtopic: $subtopic,
				concept: $concept,
				is_correct: $is_correct,
				difficulty: $difficulty,
				blooms_level: $blooms_level,
				embedding: $embedding,
				created_at: $created_at
			})
			MERGE (q)-[:HAS_ATTEMPT]->(a)
			MERGE (s)-[:ATTEMPTED]->(a)
		`

		embedding := make([]float64, len(node.Embedding))
		for i, v := range node.Embedding {
			embedding[i] = float64(v)
		}

		_, err := session.Run(ctx, query, map[string]interface{}{
			"student_uid":  node.StudentUID,
			"subject":      node.Subject,
			"topic":        node.Topic,
			"topic_key":    topicKey,
			"subtopic":     node.SubTopic,
			"subtopic_key": subtopicKey,
			"concept":      node.Concept,
			"concept_key":  conceptKey,
			"attempt_id":   node.AttemptID,
			"question":     node.Question,
			"is_correct":   node.IsCorrect,
			"difficulty":   node.Difficulty,
			"blooms_level": node.BloomsLevel,
			"embedding":    embedding,
			"created_at":   node.CreatedAt.Unix(),
		})
		return err
	})

	if err != nil {
		return fmt.Errorf("failed to insert attempt hierarchy: %w", err)
	}

	logger.Debug("Attempt materialized in graph",
		zap.String("attempt_id", node.AttemptID),
		zap.String("concept", node.Concept),
	)

	return nil
}

// SubjectAccuracy aggregates correct/incorrect counts per subject. When
// topicVariants is non-empty, only attempts whose topic contains one of
// the variants (case-insensitive) are counted.
func (c *Client) SubjectAccuracy(ctx context.Context, studentUID, subject string, topicVariants []string) ([]models.SubjectAccuracy, error) {
	var stats []models.SubjectAccuracy

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Student {uid: $uid})-[:ATTEMPTED]->(a:Attempt)
			WHERE ($subject = '' OR a.subject = $subject)
			  AND (size($variants) = 0
			       OR any(v IN $variants WHERE toLower(a.topic) CONTAINS v))
			RETURN a.subject AS subject,
			       sum(CASE WHEN a.is_correct THEN 1 ELSE 0 END) AS correct,
			       sum(CASE WHEN a.is_correct THEN 0 ELSE 1 END) AS incorrect
			ORDER BY subject
		`

		variants := make([]interface{}, len(topicVariants))
		for i, v := range topicVariants {
			variants[i] = v
		}

		result, err := session.Run(ctx, query, map[string]interface{}{
			"uid":      studentUID,
			"subject":  subject,
			"variants": variants,
		})
		if err != nil {
			return err
		}

		stats = stats[:0]
		for result.Next(ctx) {
			record := result.Record()

			subjectVal, _ := record.Get("subject")
			correctVal, _ := record.Get("correct")
			incorrectVal, _ := record.Get("incorrect")

			correct := int(correctVal.(int64))
			incorrect := int(incorrectVal.(int64))
			total := correct + incorrect

			accuracy := 0.0
			if total > 0 {
				accuracy = float64(correct) / float64(total)
			}

			stats = append(stats, models.SubjectAccuracy{
				Subject:   subjectVal.(string),
				Correct:   correct,
				Incorrect: incorrect,
				Total:     total,
				Accuracy:  accuracy,
			})
		}

		return result.Err()
	})

	if err != nil {
		return nil, fmt.Errorf("failed to aggregate subject accuracy: %w", err)
	}

	logger.Debug("Subject accuracy aggregated",
		zap.String("student_uid", studentUID),
		zap.Int("subjects", len(stats)),
	)

	return stats, nil
}

// HierarchyBreakdown returns per-concept aggregates ordered so the worst
// areas (most incorrect answers) come first within each subject.
func (c *Client) HierarchyBreakdown(ctx context.Context, studentUID, subject string) ([]BreakdownRow, error) {
	var rows []BreakdownRow

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Student {uid: $uid})-[:ATTEMPTED]->(a:Attempt)
			WHERE ($subject = '' OR a.subject = $subject)
			WITH a.subject AS subject, a.topic AS topic, a.subtopic AS subtopic,
			     a.concept AS concept,
			     sum(CASE WHEN a.is_correct THEN 1 ELSE 0 END) AS correct,
			     sum(CASE WHEN a.is_correct THEN 0 ELSE 1 END) AS incorrect,
			     avg(a.difficulty) AS difficulty,
			     collect(DISTINCT a.blooms_level)[0] AS blooms_level
			WHERE correct + incorrect > 0
			RETURN subject, topic, subtopic, concept, correct, incorrect, difficulty, blooms_level
			ORDER BY subject, incorrect DESC, correct + incorrect DESC
			LIMIT 20
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"uid":     studentUID,
			"subject": subject,
		})
		if err != nil {
			return err
		}

		rows = rows[:0]
		for result.Next(ctx) {
			record := result.Record()

			subjectVal, _ := record.Get("subject")
			topicVal, _ := record.Get("topic")
			subtopicVal, _ := record.Get("subtopic")
			conceptVal, _ := record.Get("concept")
			correctVal, _ := record.Get("correct")
			incorrectVal, _ := record.Get("incorrect")
			difficultyVal, _ := record.Get("difficulty")
			bloomsVal, _ := record.Get("blooms_level")

			row := BreakdownRow{
				Subject:   asString(subjectVal),
				Topic:     asString(topicVal),
				SubTopic:  asString(subtopicVal),
				Concept:   asString(conceptVal),
				Correct:   int(correctVal.(int64)),
				Incorrect: int(incorrectVal.(int64)),
			}
			if f, ok := difficultyVal.(float64); ok {
				row.Difficulty = f
			}
			row.BloomsLevel = asString(bloomsVal)

			rows = append(rows, row)
		}

		return result.Err()
	})

	if err != nil {
		return nil, fmt.Errorf("failed to query hierarchy breakdown: %w", err)
	}

	return rows, nil
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

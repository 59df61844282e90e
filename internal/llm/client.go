package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/metrics"
	"github.com/learnlens/backend/pkg/circuitbreaker"
	"github.com/learnlens/backend/pkg/logger"
	"github.com/learnlens/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AttemptCategory is the hierarchical classification of one attempt.
type AttemptCategory struct {
	AttemptID   string `json:"attempt_id"`
	Topic       string `json:"topic"`
	SubTopic    string `json:"subtopic"`
	Concept     string `json:"concept"`
	Difficulty  int    `json:"difficulty"`
	BloomsLevel string `json:"blooms_level"`
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	recordTokenUsage(c.model, result.Usage)

	return result, nil
}

func recordTokenUsage(model string, u Usage) {
	metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(u.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(u.CompletionTokens))
}

// Generate is the narrow surface the analyst and intent classifier consume.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)

				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings = append(embeddings, embedding)
				}

				return nil
			})
		})

		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// ClassifyIntent asks for a single-token classification of a learner query.
// Callers must treat any token other than "report" or "qa" as no answer.
func (c *Client) ClassifyIntent(ctx context.Context, query string) (string, error) {
	systemPrompt := `You classify learner queries about their own performance.
Respond with exactly one word:
- "report" if the learner wants a full performance report
- "qa" if the learner asks a specific question about their performance
No other output.`

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   query,
		Temperature:  0.1,
		MaxTokens:    5,
	})
	if err != nil {
		return "", fmt.Errorf("failed to classify intent: %w", err)
	}

	return strings.ToLower(strings.TrimSpace(resp.Content)), nil
}

// CategorizeAttempts classifies a batch of attempts from one subject into
// the topic/subtopic/concept hierarchy, constrained by the subject taxonomy.
type CategorizeInput struct {
	AttemptID string
	Question  string
	Answer    string
}

func (c *Client) CategorizeAttempts(ctx context.Context, subject, taxonomy string, inputs []CategorizeInput) ([]AttemptCategory, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	systemPrompt := `You are an education taxonomy expert. Categorize each graded question
into the subject's topic hierarchy.

For each item return:
- topic: broad area within the subject
- subtopic: narrower area within the topic
- concept: the specific skill or idea tested
- difficulty: integer 1-5
- blooms_level: one of remember, understand, apply, analyze, evaluate, create

Return ONLY a JSON array:
[{"attempt_id": "...", "topic": "...", "subtopic": "...", "concept": "...", "difficulty": 3, "blooms_level": "apply"}]`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\nKnown topics: %s\n\nItems:\n", subject, taxonomy)
	for _, in := range inputs {
		fmt.Fprintf(&sb, "- attempt_id=%s question=%q answer=%q\n", in.AttemptID, in.Question, in.Answer)
	}
	sb.WriteString("\nReturn JSON only.")

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  0.2,
		MaxTokens:    1500,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to categorize attempts: %w", err)
	}

	categories, err := ParseCategories(resp.Content)
	if err != nil {
		return nil, err
	}

	logger.Info("Attempts categorized",
		zap.String("subject", subject),
		zap.Int("count", len(categories)),
	)

	return categories, nil
}

// ParseCategories extracts the first JSON array in the model output and
// decodes it. Model chatter around the array is tolerated.
func ParseCategories(content string) ([]AttemptCategory, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var categories []AttemptCategory
	if err := json.Unmarshal([]byte(content[start:end+1]), &categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}

	return categories, nil
}

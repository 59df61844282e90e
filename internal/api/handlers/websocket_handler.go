package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/report"
	"github.com/learnlens/backend/pkg/logger"
)

type WebSocketHandler struct {
	pipeline *report.Service
}

func NewWebSocketHandler(pipeline *report.Service) *WebSocketHandler {
	return &WebSocketHandler{
		pipeline: pipeline,
	}
}

// HandleConnection serves one client: each "analyze" message runs the full
// pipeline, streaming execution-log steps as they happen and finishing
// with the complete envelope.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type          string `json:"type"`
			StudentUID    string `json:"student_uid"`
			Query         string `json:"query"`
			Intent        string `json:"intent"`
			SkipIngestion bool   `json:"skip_ingestion"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "analyze" {
			continue
		}

		if msg.StudentUID == "" {
			h.sendError(c, "student_uid is required")
			continue
		}

		logger.Info("Processing WebSocket analysis request",
			zap.String("student_uid", msg.StudentUID))

		h.streamPipeline(c, report.Request{
			StudentUID:    msg.StudentUID,
			Query:         msg.Query,
			IntentHint:    msg.Intent,
			SkipIngestion: msg.SkipIngestion,
		})
	}
}

func (h *WebSocketHandler) streamPipeline(c *websocket.Conn, req report.Request) {
	// The connection is not safe for concurrent writes; the step hook may
	// fire from the pipeline goroutine while we hold the final write.
	var mu sync.Mutex

	streaming := h.pipeline.WithStepHook(func(step string) {
		mu.Lock()
		defer mu.Unlock()
		if err := c.WriteJSON(map[string]interface{}{
			"type": "step",
			"step": step,
		}); err != nil {
			logger.Error("Failed to stream pipeline step", zap.Error(err))
		}
	})

	envelope := streaming.HandleRequest(context.Background(), req)

	mu.Lock()
	defer mu.Unlock()
	if err := c.WriteJSON(map[string]interface{}{
		"type":     "complete",
		"envelope": envelope,
	}); err != nil {
		logger.Error("Failed to send final envelope", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/middleware/validation"
	"github.com/scout-dashboard/backend/internal/nlq"
	"github.com/scout-dashboard/backend/internal/storage/models"
	"github.com/scout-dashboard/backend/pkg/apierror"
)

const maxSocketQueryLength = 500

type WebSocketHandler struct {
	svc     NLQService
	timeout time.Duration
	logger  *zap.Logger
}

func NewWebSocketHandler(svc NLQService, timeout time.Duration, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{svc: svc, timeout: timeout, logger: logger}
}

// Upgrade rejects plain HTTP requests on the socket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("user_id", c.Get("X-User-ID", c.Query("user_id")))
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type socketMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// HandleConnection serves queries until the client goes away. Reads run on
// their own goroutine so a disconnect cancels the query in flight.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	connUser, _ := c.Locals("user_id").(string)
	h.logger.Info("WebSocket connection established", zap.String("user_id", connUser))

	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan socketMessage)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		h.readMessages(ctx, c, msgs)
		cancel()
	}()

	defer func() {
		cancel()
		c.Close()
		<-readerDone
		h.logger.Info("WebSocket connection closed", zap.String("user_id", connUser))
	}()

	for {
		var msg socketMessage
		select {
		case <-ctx.Done():
			return
		case msg = <-msgs:
		}

		if msg.Type != "query" {
			continue
		}

		text := validation.Sanitize(msg.Content)
		if text == "" || len([]rune(text)) > maxSocketQueryLength {
			h.sendError(c, "query must be between 1 and 500 characters")
			continue
		}

		userID := msg.UserID
		if userID == "" {
			userID = connUser
		}

		if err := h.streamResponse(ctx, c, text, userID); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Failed to stream response", zap.Error(err))
			}
			return
		}
	}
}

func (h *WebSocketHandler) readMessages(ctx context.Context, c *websocket.Conn, msgs chan<- socketMessage) {
	for {
		var msg socketMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		select {
		case msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c *websocket.Conn, text, userID string) error {
	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return err
	}

	requestID := uuid.NewString()
	resp, err := h.svc.Query(ctx, text, nlq.Options{
		RequestID: requestID,
		UserID:    userID,
		Timeout:   h.timeout,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	words := splitIntoWords(resp.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, requestID, resp, err)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(fiber.Map{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, requestID string, resp *models.NLQResponse, queryErr error) error {
	msg := fiber.Map{
		"type":       "complete",
		"request_id": requestID,
		"source":     resp.Source,
		"confidence": resp.Confidence,
		"latency_ms": resp.LatencyMS,
		"tokens":     resp.TokensUsed,
	}
	if resp.Metadata != nil {
		msg["metadata"] = resp.Metadata
	}
	var denial *apierror.Error
	if errors.As(queryErr, &denial) {
		msg["error"] = denial.Message
		msg["retry_after"] = int(denial.RetryAfter.Seconds())
	}
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(fiber.Map{"type": "error", "error": errorMsg}); err != nil {
		h.logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}

// splitIntoWords splits on spaces and keeps newlines as their own tokens.
func splitIntoWords(text string) []string {
	words := []string{}
	current := []rune{}

	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}

	for _, r := range text {
		switch r {
		case ' ':
			flush()
		case '\n':
			flush()
			words = append(words, "\n")
		default:
			current = append(current, r)
		}
	}
	flush()

	return words
}

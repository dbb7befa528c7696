package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/flowchat/creditgate/internal/backend"
	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/session"
	"github.com/flowchat/creditgate/internal/usage"
)

// StreamSessionHeader carries the server-issued streaming session token to
// the client alongside the streamed body.
const StreamSessionHeader = "X-Streaming-Session-Id"

// ChatHandler handles the streaming chat endpoint and the finalize call.
type ChatHandler struct {
	coordinator *usage.Coordinator
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(coordinator *usage.Coordinator) *ChatHandler {
	return &ChatHandler{coordinator: coordinator}
}

type streamRequest struct {
	ChatSessionID string `json:"chatSessionId" binding:"required"`
	ModelID       string `json:"modelId" binding:"required"`
	Message       string `json:"message" binding:"required"`
}

// Stream authorizes the caller against their balance, opens a streaming
// session slot and relays upstream chunks as server-sent events. The session
// token travels in the X-Streaming-Session-Id response header.
func (h *ChatHandler) Stream(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req streamRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatSessionId, modelId and message are required"})
		return
	}

	ctx := c.Request.Context()
	if errAuthorize := h.coordinator.Authorize(ctx, userID, req.ModelID); errAuthorize != nil {
		if errors.Is(errAuthorize, ledger.ErrInsufficientCredits) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credit check unavailable"})
		return
	}

	token, errOpen := h.coordinator.OpenSession(ctx, req.ChatSessionID, userID)
	if errOpen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open streaming session"})
		return
	}

	c.Header(StreamSessionHeader, token)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	streamReq := usage.StreamRequest{
		UserID:        userID,
		ChatSessionID: req.ChatSessionID,
		Model:         req.ModelID,
		Message:       req.Message,
	}
	result, errStream := h.coordinator.StreamChat(ctx, streamReq, token, func(chunk backend.Chunk) error {
		if chunk.Content != "" {
			c.SSEvent("chunk", gin.H{"content": chunk.Content})
		}
		c.Writer.Flush()
		if c.Request.Context().Err() != nil {
			return c.Request.Context().Err()
		}
		return nil
	})
	if errStream != nil {
		// Headers are already on the wire; all we can do is stop.
		log.WithError(errStream).WithFields(log.Fields{
			"user_id":      userID,
			"chat_session": req.ChatSessionID,
		}).Warn("chat stream aborted")
		return
	}

	c.SSEvent("done", gin.H{
		"streamingSessionId": result.Token,
		"inputTokens":        result.InputTokens,
		"outputTokens":       result.OutputTokens,
		"credits":            result.Credits,
	})
	c.Writer.Flush()
}

type updateStreamRequest struct {
	StreamingSessionID string `json:"streamingSessionId" binding:"required"`
	Content            string `json:"content"`
}

// UpdateStream is the finalize call: the client echoes the session token to
// commit the streamed transcript. A wrong token is rejected without hinting
// at the stored one.
func (h *ChatHandler) UpdateStream(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	chatSessionID := c.Param("chatSessionId")
	if chatSessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "chat session id required"})
		return
	}

	var req updateStreamRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "streamingSessionId required"})
		return
	}

	slot, errFinalize := h.coordinator.Finalize(c.Request.Context(), userID, chatSessionID, req.StreamingSessionID, req.Content)
	if errFinalize != nil {
		switch {
		case errors.Is(errFinalize, session.ErrMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"message": "Streaming session ID mismatch"})
		case errors.Is(errFinalize, session.ErrNoOpenSession):
			c.JSON(http.StatusBadRequest, gin.H{"message": "No open streaming session"})
		case errors.Is(errFinalize, session.ErrExpired):
			c.JSON(http.StatusBadRequest, gin.H{"message": "Streaming session expired"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"message": "finalize failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "committed",
		"totalTokens": slot.TotalTokens,
	})
}

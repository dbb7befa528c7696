// Package usage coordinates the pre-authorization / finalize protocol: it
// checks credits before any model invocation, streams model output to the
// client, charges the actual cost at stream end, and commits the transcript
// only when the client proves ownership of the stream with its session
// token.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/flowchat/creditgate/internal/backend"
	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/models"
	"github.com/flowchat/creditgate/internal/pricing"
	"github.com/flowchat/creditgate/internal/session"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Coordinator orchestrates credit checks, streaming, deduction, and
// transcript finalization. It is the only component that touches both the
// session registry and the credit ledger.
type Coordinator struct {
	db            *gorm.DB
	ledger        *ledger.Ledger
	calc          *pricing.Calculator
	registry      *session.Registry
	backend       backend.Backend
	ledgerTimeout time.Duration
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(db *gorm.DB, creditLedger *ledger.Ledger, calc *pricing.Calculator, registry *session.Registry, modelBackend backend.Backend, ledgerTimeout time.Duration) *Coordinator {
	return &Coordinator{
		db:            db,
		ledger:        creditLedger,
		calc:          calc,
		registry:      registry,
		backend:       modelBackend,
		ledgerTimeout: ledgerTimeout,
	}
}

// StreamRequest describes one streaming chat operation.
type StreamRequest struct {
	UserID        uint64
	ChatSessionID string
	Model         string
	Message       string
}

// StreamResult summarizes a completed stream before finalize.
type StreamResult struct {
	Token              string
	Content            string
	InputTokens        int64
	OutputTokens       int64
	Credits            int64
	ReconciliationDebt bool
}

// Authorize verifies the user can afford a conservative floor estimate for
// the model before any invocation happens. Any inability to positively
// confirm sufficiency is a denial: a metering system must never fail open.
func (c *Coordinator) Authorize(ctx context.Context, userID uint64, model string) error {
	checkCtx, cancel := context.WithTimeout(ctx, c.ledgerTimeout)
	defer cancel()

	estimate := c.calc.FloorCost(model)
	sufficient, errCheck := c.ledger.CheckSufficient(checkCtx, userID, estimate)
	if errCheck != nil {
		log.WithError(errCheck).WithField("user_id", userID).Warn("credit check failed, denying request")
		return fmt.Errorf("%w: credit check: %v", ledger.ErrUnavailable, errCheck)
	}
	if !sufficient {
		return ledger.ErrInsufficientCredits
	}
	return nil
}

// OpenSession opens a streaming session slot for the chat session and
// returns the token to relay to the client.
func (c *Coordinator) OpenSession(ctx context.Context, chatSessionID string, userID uint64) (string, error) {
	return c.registry.OpenSession(ctx, chatSessionID, userID)
}

// StreamChat runs steps 3-6 of the protocol: relays model chunks through
// emit, accumulates token counts locally, and charges the actual cost once
// the stream completes. A deduction failure after delivery is surfaced as
// reconciliation debt on the result, never as a request failure: the user
// already received the output.
//
// The caller must have opened the session slot already; token identifies it.
func (c *Coordinator) StreamChat(ctx context.Context, req StreamRequest, token string, emit func(backend.Chunk) error) (*StreamResult, error) {
	c.ensureChatSession(ctx, req)
	c.persistMessage(ctx, req.ChatSessionID, req.UserID, models.ChatRoleUser, req.Message, "")

	stream, errStream := c.backend.StreamChat(ctx, req.Model, req.Message)
	if errStream != nil {
		// Nothing was delivered and nothing is charged; the open slot is
		// left to expire naturally.
		return nil, errStream
	}
	defer func() { _ = stream.Close() }()

	var builder strings.Builder
	var reported *backend.Usage
	for {
		chunk, errNext := stream.Next()
		if errNext == io.EOF {
			break
		}
		if errNext != nil {
			return nil, errNext
		}
		builder.WriteString(chunk.Content)
		if chunk.Usage != nil {
			reported = chunk.Usage
		}
		if errEmit := emit(chunk); errEmit != nil {
			// Client went away mid-stream. The slot expires on its own and
			// no charge is made for the undelivered exchange.
			return nil, errEmit
		}
		if chunk.Done {
			break
		}
	}

	content := builder.String()
	result := &StreamResult{Token: token, Content: content}

	if reported != nil {
		result.InputTokens = reported.InputTokens
		result.OutputTokens = reported.OutputTokens
		result.Credits = c.calc.CostSplit(req.Model, reported.InputTokens, reported.OutputTokens)
	} else {
		// No usage report from the upstream: estimate and price the total
		// with the blended 50/50 tier split.
		result.InputTokens = estimateTokens(req.Message)
		result.OutputTokens = estimateTokens(content)
		result.Credits = c.calc.Cost(req.Model, result.InputTokens+result.OutputTokens, pricing.TokenTypeBoth)
	}

	if errAttach := c.registry.Attach(ctx, req.ChatSessionID, token, content, result.InputTokens+result.OutputTokens); errAttach != nil {
		log.WithError(errAttach).Warn("failed to attach stream content to session slot")
	}

	c.charge(ctx, req, result)
	return result, nil
}

// charge deducts the actual cost and writes the usage ledger entry.
func (c *Coordinator) charge(ctx context.Context, req StreamRequest, result *StreamResult) {
	record := models.UsageRecord{
		UserID:             req.UserID,
		Model:              req.Model,
		InputTokens:        result.InputTokens,
		OutputTokens:       result.OutputTokens,
		Credits:            result.Credits,
		CorrelationID:      uuid.NewString(),
		ChatSessionID:      req.ChatSessionID,
		StreamingSessionID: result.Token,
		Outcome:            models.UsageOutcomeCommitted,
		RequestedAt:        time.Now().UTC(),
	}

	if result.Credits > 0 {
		deductCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.ledgerTimeout)
		defer cancel()

		deducted, errDeduct := c.ledger.Deduct(deductCtx, req.UserID, result.Credits)
		if errDeduct != nil || !deducted {
			// The model was invoked and the user received output; the debt
			// is an operator concern, not a request failure, and the
			// deduction is never replayed blindly.
			result.ReconciliationDebt = true
			record.Outcome = models.UsageOutcomeFailed
			record.ErrorDetail = reconciliationDetail(errDeduct)
			log.WithFields(log.Fields{
				"user_id":      req.UserID,
				"chat_session": req.ChatSessionID,
				"credits":      result.Credits,
			}).WithError(errDeduct).Error("reconciliation debt: deduction failed after stream delivery")
		}
	}

	if errCreate := c.db.WithContext(ctx).Create(&record).Error; errCreate != nil {
		log.WithError(errCreate).Warn("failed to persist usage record")
	}
}

// Finalize forwards the client's commit call to the session registry and, on
// a first commit, persists the transcript as the authoritative chat history
// entry. The client-supplied content wins over the server accumulation; an
// empty body falls back to what the server streamed.
func (c *Coordinator) Finalize(ctx context.Context, userID uint64, chatSessionID, suppliedToken, content string) (session.Slot, error) {
	slot, committed, errFinalize := c.registry.Finalize(ctx, chatSessionID, suppliedToken)
	if errFinalize != nil {
		return session.Slot{}, errFinalize
	}
	if slot.UserID != userID {
		// Correct token presented by the wrong principal. Treat it exactly
		// like a token mismatch so nothing leaks across users.
		log.WithFields(log.Fields{
			"chat_session": chatSessionID,
			"owner":        slot.UserID,
			"caller":       userID,
		}).Warn("finalize rejected: caller does not own the streaming session")
		return session.Slot{}, session.ErrMismatch
	}
	if !committed {
		// Duplicate finalize: return the prior result without re-charging
		// or re-persisting.
		return slot, nil
	}

	transcript := content
	if strings.TrimSpace(transcript) == "" {
		transcript = slot.Content
	}
	c.persistMessage(ctx, chatSessionID, userID, models.ChatRoleAssistant, transcript, slot.Token)
	return slot, nil
}

// ensureChatSession upserts the chat session row for history grouping.
func (c *Coordinator) ensureChatSession(ctx context.Context, req StreamRequest) {
	row := models.ChatSession{SessionID: req.ChatSessionID, UserID: req.UserID, Model: req.Model}
	if errUpsert := c.db.WithContext(ctx).
		Where(models.ChatSession{SessionID: req.ChatSessionID}).
		Assign(models.ChatSession{UserID: req.UserID, Model: req.Model}).
		FirstOrCreate(&row).Error; errUpsert != nil {
		log.WithError(errUpsert).Warn("failed to upsert chat session")
	}
}

// persistMessage appends a message to the chat history.
func (c *Coordinator) persistMessage(ctx context.Context, chatSessionID string, userID uint64, role, content, streamToken string) {
	row := models.ChatMessage{
		ChatSessionID:      chatSessionID,
		UserID:             userID,
		Role:               role,
		Content:            content,
		StreamingSessionID: streamToken,
	}
	if errCreate := c.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("failed to persist chat message")
	}
}

// estimateTokens approximates a token count from text length when the
// upstream does not report usage. Four characters per token is the usual
// rule of thumb for English text.
func estimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + 3) / 4)
}

// reconciliationDetail serializes a deduction failure for the usage record.
func reconciliationDetail(errDeduct error) datatypes.JSON {
	detail := map[string]string{"reason": "deduction failed after stream delivery"}
	if errDeduct != nil {
		if errors.Is(errDeduct, ledger.ErrUnavailable) {
			detail["class"] = "ledger_unavailable"
		}
		detail["error"] = errDeduct.Error()
	} else {
		detail["class"] = "insufficient_credits"
	}
	raw, errMarshal := json.Marshal(detail)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/pricing"
)

// CreditsHandler handles balance, sufficiency and pricing endpoints.
type CreditsHandler struct {
	ledger *ledger.Ledger
	calc   *pricing.Calculator
}

// NewCreditsHandler constructs a CreditsHandler.
func NewCreditsHandler(creditLedger *ledger.Ledger, calc *pricing.Calculator) *CreditsHandler {
	return &CreditsHandler{ledger: creditLedger, calc: calc}
}

type allocationView struct {
	ID               uint64 `json:"id"`
	TotalCredits     int64  `json:"totalCredits"`
	RemainingCredits int64  `json:"remainingCredits"`
	ExpiresAt        string `json:"expiresAt"`
}

// Balance returns the caller's spendable credit total with the active
// allocations behind it.
func (h *CreditsHandler) Balance(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, errBalance := h.ledger.GetBalance(c.Request.Context(), userID)
	if errBalance != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credit ledger unavailable"})
		return
	}

	allocations := make([]allocationView, 0, len(balance.Allocations))
	for _, allocation := range balance.Allocations {
		allocations = append(allocations, allocationView{
			ID:               allocation.ID,
			TotalCredits:     allocation.TotalCredits,
			RemainingCredits: allocation.RemainingCredits,
			ExpiresAt:        allocation.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"credits":     balance.Credits,
		"allocations": allocations,
	})
}

type checkRequest struct {
	Credits int64 `json:"credits"`
}

// Check answers whether the caller can afford the given credit amount.
// Ledger errors deny rather than allow.
func (h *CreditsHandler) Check(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req checkRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sufficient, errCheck := h.ledger.CheckSufficient(c.Request.Context(), userID, req.Credits)
	if errCheck != nil {
		if errors.Is(errCheck, ledger.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credits must be positive"})
			return
		}
		// Fail secure: an unreachable ledger means "not sufficient".
		c.JSON(http.StatusOK, gin.H{"sufficient": false})
		return
	}
	if !sufficient {
		c.JSON(http.StatusOK, gin.H{"sufficient": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sufficient": true, "credits": req.Credits})
}

type calculateRequest struct {
	ModelID   string `json:"modelId"`
	Tokens    int64  `json:"tokens"`
	TokenType string `json:"tokenType"`
}

// Calculate prices a token count for a model without touching the balance.
func (h *CreditsHandler) Calculate(c *gin.Context) {
	var req calculateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ModelID == "" || req.Tokens < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "modelId required and tokens must be non-negative"})
		return
	}

	tokenType := pricing.TokenTypeBoth
	switch req.TokenType {
	case "":
	case string(pricing.TokenTypeInput):
		tokenType = pricing.TokenTypeInput
	case string(pricing.TokenTypeOutput):
		tokenType = pricing.TokenTypeOutput
	case string(pricing.TokenTypeBoth):
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown token type"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credits": h.calc.Cost(req.ModelID, req.Tokens, tokenType)})
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/models"
)

// CreditsHandler handles privileged allocation endpoints.
type CreditsHandler struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// NewCreditsHandler constructs a CreditsHandler.
func NewCreditsHandler(db *gorm.DB, creditLedger *ledger.Ledger) *CreditsHandler {
	return &CreditsHandler{db: db, ledger: creditLedger}
}

type allocateRequest struct {
	UserID     uint64 `json:"userId"`
	Credits    int64  `json:"credits"`
	ExpiryDays int    `json:"expiryDays"`
	Notes      string `json:"notes"`
}

// Allocate grants credits to a user, creating the user row on first grant.
func (h *CreditsHandler) Allocate(c *gin.Context) {
	var req allocateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	allocatedBy := c.GetString("adminName")
	if allocatedBy == "" {
		allocatedBy = "admin"
	}

	allocation, errAllocate := h.ledger.Allocate(c.Request.Context(), req.UserID, req.Credits, req.ExpiryDays, allocatedBy, req.Notes)
	if errAllocate != nil {
		if errors.Is(errAllocate, ledger.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errAllocate.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "allocation failed"})
		return
	}

	c.JSON(http.StatusCreated, allocation)
}

// Allocations lists grants, optionally filtered by user, newest first.
func (h *CreditsHandler) Allocations(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&models.CreditAllocation{})
	if rawUserID := c.Query("userId"); rawUserID != "" {
		userID, errParse := strconv.ParseUint(rawUserID, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId"})
			return
		}
		query = query.Where("user_id = ?", userID)
	}

	var allocations []models.CreditAllocation
	if errFind := query.Order("allocated_at DESC").Limit(500).Find(&allocations).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query allocations failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocations})
}

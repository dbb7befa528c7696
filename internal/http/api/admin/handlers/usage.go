package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flowchat/creditgate/internal/models"
)

// UsageHandler exposes usage records across all users for operators.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// List returns usage records, newest first. Failed records carry the
// reconciliation detail so operators can settle the debt.
func (h *UsageHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.UsageRecord{})
	if rawUserID := c.Query("userId"); rawUserID != "" {
		userID, errParse := strconv.ParseUint(rawUserID, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId"})
			return
		}
		query = query.Where("user_id = ?", userID)
	}
	if outcome := c.Query("outcome"); outcome != "" {
		query = query.Where("outcome = ?", outcome)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query usage failed"})
		return
	}

	var records []models.UsageRecord
	if errFind := query.Order("requested_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query usage failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"records":   records,
	})
}

// Sessions lists terminal streaming session audit rows. Mismatched rows are
// the security signal worth watching.
func (h *UsageHandler) Sessions(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&models.StreamingSession{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var sessions []models.StreamingSession
	if errFind := query.Order("closed_at DESC").Limit(500).Find(&sessions).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query sessions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

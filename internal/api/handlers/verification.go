package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/db"
	"github.com/mxverify/mxverify/internal/queue"
)

type VerifySingleRequest struct {
	Email string `json:"email" binding:"required"`
}

type VerifyBulkRequest struct {
	Emails      []string `json:"emails" binding:"required"`
	ResponseURL string   `json:"response_url,omitempty"`
}

type VerifyCSVRequest struct {
	CSVUploadID      string `json:"csv_upload_id" binding:"required"`
	EmailColumnIndex int    `json:"email_column_index"`
	ResponseURL      string `json:"response_url,omitempty"`
}

// StatusSnapshot is the polling payload for GET /verification/:id/status.
type StatusSnapshot struct {
	ID              string                `json:"id"`
	Status          db.RequestStatus      `json:"status"`
	ProgressStep    string                `json:"progress_step"`
	TotalEmails     int                   `json:"total_emails"`
	ProcessedEmails int                   `json:"processed_emails"`
	Statistics      *db.RequestStatistics `json:"statistics,omitempty"`
	FailureReason   *string               `json:"failure_reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

func (h *Handler) VerifySingle(c *gin.Context) {
	var req VerifySingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	request, err := h.enqueue(c, []string{req.Email}, "")
	if err != nil {
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"verification_request_id": request.ID,
		"status":                  request.Status,
		"status_url":              "/api/v1/verification/" + request.ID + "/status",
	})
}

func (h *Handler) VerifyBulk(c *gin.Context) {
	var req VerifyBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emails array is required"})
		return
	}

	request, err := h.enqueue(c, req.Emails, req.ResponseURL)
	if err != nil {
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"verification_request_id": request.ID,
		"status":                  request.Status,
		"total_emails":            request.TotalEmails,
		"status_url":              "/api/v1/verification/" + request.ID + "/status",
	})
}

// VerifyCSV enqueues verification for a CSV that was already uploaded and
// parsed into csv_uploads. The caller names the upload and which column
// holds the addresses.
func (h *Handler) VerifyCSV(c *gin.Context) {
	var req VerifyCSVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "csv_upload_id is required"})
		return
	}
	if req.EmailColumnIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email_column_index must not be negative"})
		return
	}

	upload, err := h.repo.GetCSVUpload(req.CSVUploadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "csv upload not found"})
			return
		}
		h.logger.Error("failed to load csv upload",
			zap.String("csv_upload_id", req.CSVUploadID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load csv upload"})
		return
	}

	emails, err := emailsFromRows(upload.Rows, req.EmailColumnIndex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request, err := h.enqueue(c, emails, req.ResponseURL)
	if err != nil {
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"verification_request_id": request.ID,
		"status":                  request.Status,
		"total_emails":            request.TotalEmails,
		"status_url":              "/api/v1/verification/" + request.ID + "/status",
	})
}

// enqueue persists the request row and hands the job to the queue. It writes
// the error response itself so callers can simply return on failure.
func (h *Handler) enqueue(c *gin.Context, emails []string, responseURL string) (*db.VerificationRequest, error) {
	normalized := normalizeEmails(emails)
	if len(normalized) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no emails to verify"})
		return nil, errBadBatch
	}
	if len(normalized) > h.maxEmails {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "too many emails",
			"limit": h.maxEmails,
		})
		return nil, errBadBatch
	}

	now := time.Now()
	request := &db.VerificationRequest{
		ID:           uuid.New().String(),
		Status:       db.RequestPending,
		ProgressStep: "received",
		TotalEmails:  len(normalized),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if responseURL != "" {
		request.ResponseURL = &responseURL
	}

	if err := h.repo.CreateRequest(request); err != nil {
		h.logger.Error("failed to create verification request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		return nil, err
	}

	job := &queue.VerificationJob{
		RequestID:   request.ID,
		Emails:      normalized,
		ResponseURL: responseURL,
		CreatedAt:   now,
	}
	if err := h.jobs.Push(c.Request.Context(), job); err != nil {
		h.logger.Error("failed to enqueue verification job",
			zap.String("request_id", request.ID),
			zap.Error(err),
		)
		if ferr := h.repo.MarkRequestFailed(request.ID, "failed to enqueue job"); ferr != nil {
			h.logger.Error("failed to mark request failed", zap.Error(ferr))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue request"})
		return nil, err
	}

	h.metrics.RecordRequestAccepted(len(normalized))
	return request, nil
}

func (h *Handler) GetStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	var cached StatusSnapshot
	if err := h.cache.GetCachedRequestStatus(c.Request.Context(), id, &cached); err == nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	request, err := h.repo.GetRequest(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "verification request not found"})
		return
	}

	snapshot := StatusSnapshot{
		ID:              request.ID,
		Status:          request.Status,
		ProgressStep:    request.ProgressStep,
		TotalEmails:     request.TotalEmails,
		ProcessedEmails: request.ProcessedEmails,
		FailureReason:   request.FailureReason,
		CreatedAt:       request.CreatedAt,
		UpdatedAt:       request.UpdatedAt,
		CompletedAt:     request.CompletedAt,
	}

	if request.Status == db.RequestCompleted {
		if stats, err := h.repo.GetRequestStatistics(id); err == nil {
			snapshot.Statistics = stats
		}
	}

	if err := h.cache.CacheRequestStatus(c.Request.Context(), id, snapshot); err != nil {
		h.logger.Debug("failed to cache status snapshot", zap.Error(err))
	}

	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) GetResults(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	request, err := h.repo.GetRequest(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "verification request not found"})
		return
	}

	// Results are only served once the request is final. Anything earlier
	// would hand a poller a partial set indistinguishable from a complete one.
	if request.Status != db.RequestCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "verification is not completed yet",
			"status": request.Status,
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "100"))
	if perPage < 1 || perPage > 1000 {
		perPage = 100
	}
	status := c.Query("status")

	total, err := h.repo.CountResults(id, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count results"})
		return
	}

	results, err := h.repo.GetResults(db.ResultFilters{
		RequestID: id,
		Status:    status,
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch results"})
		return
	}

	stats, err := h.repo.GetRequestStatistics(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute statistics"})
		return
	}

	totalPages := (total + perPage - 1) / perPage
	c.JSON(http.StatusOK, gin.H{
		"results":    results,
		"statistics": stats,
		"pagination": gin.H{
			"page":        page,
			"per_page":    perPage,
			"total":       total,
			"total_pages": totalPages,
			"has_more":    page < totalPages,
		},
	})
}

// normalizeEmails lowercases, trims, and dedupes while preserving order.
func normalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		e := strings.ToLower(strings.TrimSpace(email))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// emailsFromRows extracts the given column from stored CSV rows. A first-row
// header cell reading "email" is skipped; short rows are tolerated.
func emailsFromRows(rows [][]string, col int) ([]string, error) {
	var emails []string
	for i, row := range rows {
		if col >= len(row) {
			if i == 0 {
				return nil, errBadColumn
			}
			continue
		}
		cell := strings.TrimSpace(row[col])
		if i == 0 && strings.EqualFold(cell, "email") {
			continue
		}
		emails = append(emails, cell)
	}

	if len(emails) == 0 {
		return nil, errCSVEmpty
	}
	return emails, nil
}

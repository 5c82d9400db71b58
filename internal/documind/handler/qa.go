// Package handler provides HTTP handlers for the QA service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/documind-io/documind/internal/documind/biz"
)

// TenantHeader carries the tenant identifier on every request.
const TenantHeader = "X-Tenant-ID"

// QAHandler handles QA HTTP requests.
type QAHandler struct {
	service    biz.Service
	askTimeout time.Duration
}

// NewQAHandler creates a new QAHandler. askTimeout bounds the processing
// time of a single ask request; zero means 60 seconds.
func NewQAHandler(service biz.Service, askTimeout time.Duration) *QAHandler {
	if askTimeout <= 0 {
		askTimeout = 60 * time.Second
	}
	return &QAHandler{
		service:    service,
		askTimeout: askTimeout,
	}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func tenantID(c *gin.Context) (string, bool) {
	tenant := c.GetHeader(TenantHeader)
	if tenant == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "missing " + TenantHeader + " header"})
		return "", false
	}
	return tenant, true
}

// AskRequest represents an ask request.
type AskRequest struct {
	Question     string   `json:"question" binding:"required"`
	UserID       string   `json:"user_id,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	MaxCitations int      `json:"max_citations,omitempty"`
	DocumentIDs  []string `json:"document_ids,omitempty"`
}

// Ask runs the question-answering pipeline.
func (h *QAHandler) Ask(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.askTimeout)
	defer cancel()

	result, err := h.service.Ask(ctx, &biz.AskRequest{
		TenantID:     tenant,
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		Question:     req.Question,
		MaxCitations: req.MaxCitations,
		DocumentIDs:  req.DocumentIDs,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.JSON(http.StatusRequestTimeout, ErrorResponse{
				Code:    408,
				Message: "ask timeout: the request took too long to process",
			})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// SearchRequest represents a standalone retrieval request.
type SearchRequest struct {
	Query          string  `json:"query" binding:"required"`
	Limit          int     `json:"limit,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

// Search retrieves chunks without generation.
func (h *QAHandler) Search(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	result, err := h.service.SearchChunks(c.Request.Context(), tenant, req.Query, req.Limit, req.ScoreThreshold)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// IngestRequest represents a document ingestion request.
type IngestRequest struct {
	DocumentID   string `json:"document_id" binding:"required"`
	Text         string `json:"text" binding:"required"`
	Title        string   `json:"title,omitempty"`
	Source       string   `json:"source,omitempty"`
	ChunkSize    int      `json:"chunk_size,omitempty"`
	ChunkOverlap int      `json:"chunk_overlap,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Ingest ingests a document into the knowledge base.
func (h *QAHandler) Ingest(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	result, err := h.service.IngestDocument(c.Request.Context(), tenant, req.DocumentID, req.Text, biz.IngestOptions{
		Title:     req.Title,
		Source:    req.Source,
		ChunkSize: req.ChunkSize,
		Overlap:   req.ChunkOverlap,
		Tags:      req.Tags,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// GetAnswer returns a previously persisted answer with its citations.
func (h *QAHandler) GetAnswer(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	answerID := c.Param("id")
	result, err := h.service.GetAnswer(c.Request.Context(), tenant, answerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: 404, Message: "answer not found"})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// Stats returns knowledge base statistics for the tenant.
func (h *QAHandler) Stats(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	stats, err := h.service.GetStats(c.Request.Context(), tenant)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: stats})
}

// writeError maps domain errors to HTTP status codes.
func (h *QAHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, biz.ErrEmptyQuestion),
		errors.Is(err, biz.ErrQuestionTooLong),
		errors.Is(err, biz.ErrEmptyInput),
		errors.Is(err, biz.ErrInvalidChunking):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, ErrorResponse{Code: 408, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
	}
}

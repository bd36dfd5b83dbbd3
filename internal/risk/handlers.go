package risk

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ErrMsgMissingTransaction is the body error for a request without a current transaction.
const ErrMsgMissingTransaction = "Current transaction data is required"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// AssessPayload is the request body of POST /risk/assess.
// A nil TransactionHistory means the stored history is used.
type AssessPayload struct {
	CurrentTransaction *Transaction   `json:"currentTransaction"`
	TransactionHistory *[]Transaction `json:"transactionHistory,omitempty"`
}

// AssessResponse is the success body of POST /risk/assess.
type AssessResponse struct {
	Success            bool    `json:"success"`
	UpdatedTransaction Verdict `json:"updatedTransaction"`
}

// Handler provides HTTP endpoints for risk assessment
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up risk endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/assess", h.Assess)
	r.GET("/risk/assessments", h.ListAssessments)
	r.GET("/risk/flagged", h.ListFlagged)
}

// Assess evaluates the current transaction against the supplied or stored history.
// POST /v1/risk/assess
func (h *Handler) Assess(c *gin.Context) {
	var payload AssessPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.CurrentTransaction == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMsgMissingTransaction})
		return
	}

	req := AssessRequest{Candidate: *payload.CurrentTransaction}
	if payload.TransactionHistory != nil {
		req.History = *payload.TransactionHistory
		req.HistoryProvided = true
	}

	a := h.engine.Assess(c.Request.Context(), req)
	c.JSON(http.StatusOK, AssessResponse{Success: true, UpdatedTransaction: a.Verdict})
}

// ListAssessments returns the audit trail for one sender.
// GET /v1/risk/assessments?senderId=...&limit=...
func (h *Handler) ListAssessments(c *gin.Context) {
	senderID := c.Query("senderId")
	if senderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "senderId query parameter is required",
		})
		return
	}
	if h.engine.Store() == nil {
		c.JSON(http.StatusOK, gin.H{"assessments": []*Assessment{}, "count": 0})
		return
	}

	list, err := h.engine.Store().ListBySender(c.Request.Context(), senderID, parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}
	if list == nil {
		list = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list, "count": len(list)})
}

// ListFlagged returns the most recent flagged assessments.
// GET /v1/risk/flagged?limit=...
func (h *Handler) ListFlagged(c *gin.Context) {
	if h.engine.Store() == nil {
		c.JSON(http.StatusOK, gin.H{"assessments": []*Assessment{}, "count": 0})
		return
	}

	list, err := h.engine.Store().ListFlagged(c.Request.Context(), parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list flagged assessments",
		})
		return
	}
	if list == nil {
		list = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list, "count": len(list)})
}

func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

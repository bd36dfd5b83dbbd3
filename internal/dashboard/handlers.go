package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paykrypt/paykrypt/internal/risk"
	"github.com/paykrypt/paykrypt/internal/transactions"
)

// Handler provides admin dashboard API endpoints.
type Handler struct {
	txStore     transactions.Store
	assessments risk.Store
	now         func() time.Time
}

// NewHandler creates a new dashboard handler. assessments may be nil.
func NewHandler(txStore transactions.Store, assessments risk.Store) *Handler {
	return &Handler{txStore: txStore, assessments: assessments, now: time.Now}
}

// RegisterRoutes sets up dashboard routes under the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/metrics", h.Metrics)
	r.GET("/admin/flagged", h.Flagged)
	r.GET("/admin/transactions", h.Transactions)
}

// Metrics returns the overview of all stored transactions.
// GET /v1/admin/metrics?users=
func (h *Handler) Metrics(c *gin.Context) {
	txs, err := h.txStore.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, Summarize(txs, parseLimit(c, "users", TopUsers, 100), h.now().UTC()))
}

// Flagged returns recent flagged assessments with the stored flagged transactions.
// GET /v1/admin/flagged?limit=
func (h *Handler) Flagged(c *gin.Context) {
	ctx := c.Request.Context()
	limit := parseLimit(c, "limit", 50, 500)

	assessments := []*risk.Assessment{}
	if h.assessments != nil {
		list, err := h.assessments.ListFlagged(ctx, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if list != nil {
			assessments = list
		}
	}

	txs, err := h.txStore.All(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	flagged := filter(txs, string(risk.StatusFlagged), "", limit)

	c.JSON(http.StatusOK, gin.H{
		"assessments":  assessments,
		"transactions": flagged,
		"count":        len(assessments) + len(flagged),
	})
}

// Transactions returns stored transactions, optionally filtered by status and risk.
// GET /v1/admin/transactions?status=&risk=&limit=
func (h *Handler) Transactions(c *gin.Context) {
	riskFilter := c.Query("risk")
	if riskFilter != "" {
		if _, ok := risk.ParseScore(riskFilter); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_risk", "message": "must be LOW, MEDIUM, or HIGH"})
			return
		}
	}
	statusFilter := c.Query("status")
	switch risk.Status(statusFilter) {
	case "", risk.StatusCompleted, risk.StatusPending, risk.StatusFlagged:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "must be COMPLETED, PENDING, or FLAGGED"})
		return
	}

	txs, err := h.txStore.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	txs = filter(txs, statusFilter, riskFilter, parseLimit(c, "limit", 50, 500))

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

func filter(txs []risk.Transaction, status, score string, limit int) []risk.Transaction {
	out := make([]risk.Transaction, 0, len(txs))
	for _, tx := range txs {
		if status != "" && string(tx.Status) != status {
			continue
		}
		if score != "" && string(tx.RiskScore) != score {
			continue
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out
}

func parseLimit(c *gin.Context, key string, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}

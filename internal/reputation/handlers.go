package reputation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paykrypt/paykrypt/internal/logging"
	"github.com/paykrypt/paykrypt/internal/validation"
)

const (
	maxBatchUsers   = 100
	maxHistoryLimit = 1000
)

// Trend compares a fresh grade with the user's latest snapshot.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendSteady    Trend = "steady"
)

// Handler provides HTTP endpoints for reputation
type Handler struct {
	calculator *Calculator
	provider   MetricsProvider
	snapshots  SnapshotStore
}

// NewHandler creates a new reputation handler. snapshots may be nil, in which
// case history is reported as unavailable and no trend is computed.
func NewHandler(provider MetricsProvider, snapshots SnapshotStore) *Handler {
	return &Handler{
		calculator: NewCalculator(),
		provider:   provider,
		snapshots:  snapshots,
	}
}

// RegisterRoutes sets up reputation endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/reputation", validation.IDParamMiddleware(), h.GetReputation)
	r.GET("/users/:id/reputation/history", validation.IDParamMiddleware(), h.GetReputationHistory)
	r.POST("/reputation/batch", h.GetBatchReputation)
}

// GetReputation grades one user from their current transactions.
// GET /v1/users/:id/reputation
func (h *Handler) GetReputation(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	metrics, err := h.provider.GetUserMetrics(ctx, userID)
	if err != nil {
		logging.L(ctx).Error("failed to load reputation metrics", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load user transactions",
		})
		return
	}

	score := h.calculator.Calculate(userID, *metrics)
	resp := gin.H{"reputation": score}

	if h.snapshots != nil {
		// A missing trend is not worth failing the request over.
		if prev, err := h.snapshots.Latest(ctx, userID); err == nil && prev != nil {
			resp["previousTier"] = prev.Tier
			resp["previousAt"] = prev.CreatedAt
			resp["trend"] = trend(prev.Tier, score.Tier)
		}
	}

	c.JSON(http.StatusOK, resp)
}

func trend(prev, cur Tier) Trend {
	switch {
	case cur.Rank() > prev.Rank():
		return TrendImproving
	case cur.Rank() < prev.Rank():
		return TrendDeclining
	default:
		return TrendSteady
	}
}

// GetBatchReputation grades several users. Duplicate ids are graded once and
// the response keeps first-seen order.
// POST /v1/reputation/batch
func (h *Handler) GetBatchReputation(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'userIds' array",
		})
		return
	}

	userIDs := make([]string, 0, len(req.UserIDs))
	seen := make(map[string]bool, len(req.UserIDs))
	for _, id := range req.UserIDs {
		if !validation.IsValidID(id) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_user_id",
				"message": "User ids must be 1-64 letters, digits, '-' or '_'",
			})
			return
		}
		if !seen[id] {
			seen[id] = true
			userIDs = append(userIDs, id)
		}
	}

	switch {
	case len(userIDs) == 0:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "At least one user id is required",
		})
		return
	case len(userIDs) > maxBatchUsers:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "too_many_users",
			"message": "Maximum " + strconv.Itoa(maxBatchUsers) + " user ids per batch request",
		})
		return
	}

	ctx := c.Request.Context()
	scores := make([]*Score, 0, len(userIDs))
	for _, userID := range userIDs {
		metrics, err := h.provider.GetUserMetrics(ctx, userID)
		if err != nil {
			logging.L(ctx).Warn("batch reputation lookup failed", "user_id", userID, "error", err)
			metrics = &Metrics{}
		}
		scores = append(scores, h.calculator.Calculate(userID, *metrics))
	}

	c.JSON(http.StatusOK, BatchResponse{Scores: scores})
}

// GetReputationHistory returns stored grades, newest first.
// GET /v1/users/:id/reputation/history?from=&to=&limit=
func (h *Handler) GetReputationHistory(c *gin.Context) {
	userID := c.Param("id")

	if h.snapshots == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "not_available",
			"message": "Historical reputation data is not available",
		})
		return
	}

	q := HistoryQuery{UserID: userID, Limit: defaultHistoryLimit}

	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_time",
				"message": "'" + p.key + "' must be an RFC 3339 timestamp",
			})
			return
		}
		*p.dst = t
	}
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			q.Limit = min(n, maxHistoryLimit)
		}
	}

	snapshots, err := h.snapshots.Query(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to query reputation history",
		})
		return
	}
	if snapshots == nil {
		snapshots = []*Snapshot{}
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    userID,
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

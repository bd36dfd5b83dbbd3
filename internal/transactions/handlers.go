package transactions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paykrypt/paykrypt/internal/idgen"
	"github.com/paykrypt/paykrypt/internal/logging"
	"github.com/paykrypt/paykrypt/internal/metrics"
	"github.com/paykrypt/paykrypt/internal/pagination"
	"github.com/paykrypt/paykrypt/internal/risk"
	"github.com/paykrypt/paykrypt/internal/syncutil"
	"github.com/paykrypt/paykrypt/internal/validation"
)

// PaymentRequest is the body of POST /v1/payments.
type PaymentRequest struct {
	SenderID          string  `json:"senderId"`
	ReceiverID        string  `json:"receiverId"`
	SenderAccountID   string  `json:"senderAccountId"`
	ReceiverAccountID string  `json:"receiverAccountId"`
	Amount            float64 `json:"amount"`
	Description       string  `json:"description"`
	Category          string  `json:"category"`
	Location          string  `json:"location"`
	DeviceID          string  `json:"deviceId"`
}

// Handler provides HTTP endpoints for transactions and payments
type Handler struct {
	store   Store
	engine  *risk.Engine
	senders *syncutil.KeyLock // serializes assess-then-store per sender
	now     func() time.Time
}

// NewHandler creates a new transactions handler
func NewHandler(store Store, engine *risk.Engine) *Handler {
	return &Handler{
		store:   store,
		engine:  engine,
		senders: syncutil.NewKeyLock(syncutil.DefaultShards),
		now:     time.Now,
	}
}

// RegisterRoutes sets up transaction endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.List)
	r.GET("/transactions/:id", validation.IDParamMiddleware(), h.Get)
	r.GET("/users/:id/transactions", validation.IDParamMiddleware(), h.ListByUser)
	r.POST("/payments", h.CreatePayment)
}

// List returns transactions newest first with cursor pagination.
// GET /v1/transactions?limit=...&cursor=...
func (h *Handler) List(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	txs, err := h.store.List(c.Request.Context(), limit+1, cursor)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}
	if txs == nil {
		txs = []risk.Transaction{}
	}

	c.JSON(http.StatusOK, pagination.ComputePage(txs, limit, func(tx risk.Transaction) (time.Time, string) {
		return tx.CreatedAt, tx.ID
	}))
}

// Get returns a single transaction.
// GET /v1/transactions/:id
func (h *Handler) Get(c *gin.Context) {
	tx, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get transaction",
		})
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ListByUser returns every transaction the user sent or received.
// GET /v1/users/:id/transactions
func (h *Handler) ListByUser(c *gin.Context) {
	txs, err := h.store.ListByUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}
	if txs == nil {
		txs = []risk.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// CreatePayment assesses a new payment against the sender's stored history.
// Blocked payments are rejected; the rest are stored with the verdict's status.
// POST /v1/payments
func (h *Handler) CreatePayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("senderId", req.SenderID),
		validation.ValidID("senderId", req.SenderID),
		validation.ValidID("receiverId", req.ReceiverID),
		validation.Required("senderAccountId", req.SenderAccountID),
		validation.ValidID("senderAccountId", req.SenderAccountID),
		validation.ValidID("receiverAccountId", req.ReceiverAccountID),
		validation.PositiveAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
		validation.MaxLength("category", req.Category, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx := risk.Transaction{
		ID:                idgen.WithPrefix("tx_"),
		SenderID:          req.SenderID,
		ReceiverID:        optional(req.ReceiverID),
		SenderAccountID:   req.SenderAccountID,
		ReceiverAccountID: optional(req.ReceiverAccountID),
		Amount:            req.Amount,
		Description:       validation.SanitizeString(req.Description, validation.MaxStringLength),
		Category:          validation.SanitizeString(req.Category, validation.MaxStringLength),
		Status:            risk.StatusPending,
		RiskScore:         risk.ScoreLow,
		CreatedAt:         h.now().UTC(),
		Location:          optional(validation.SanitizeString(req.Location, validation.MaxStringLength)),
		DeviceID:          optional(validation.SanitizeString(req.DeviceID, validation.MaxStringLength)),
	}

	ctx := c.Request.Context()
	unlock, err := h.senders.Lock(ctx, tx.SenderID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "request_cancelled",
			"message": "Payment was not processed",
		})
		return
	}
	defer unlock()

	verdict := h.engine.Assess(ctx, risk.AssessRequest{Candidate: tx}).Verdict

	if verdict.Blocked() {
		metrics.PaymentsTotal.WithLabelValues("blocked").Inc()
		logging.L(ctx).Info("payment blocked",
			"transaction_id", tx.ID,
			"sender_id", tx.SenderID,
			"risk", verdict.RiskScore,
			"status", verdict.Status,
		)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "payment_blocked",
			"message": verdict.Recommendation,
			"verdict": verdict,
		})
		return
	}

	tx.Status = verdict.Status
	tx.RiskScore = verdict.RiskScore
	if err := h.store.Create(ctx, &tx); err != nil {
		metrics.PaymentsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("failed to store payment", "transaction_id", tx.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store payment",
		})
		return
	}

	metrics.PaymentsTotal.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusCreated, gin.H{"transaction": tx, "verdict": verdict})
}

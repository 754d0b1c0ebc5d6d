package dispute

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for dispute resolution
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListDisputes)
	r.GET("/disputes/:id", h.GetDispute)
	r.POST("/disputes/:id/evidence", h.SubmitEvidence)
	r.POST("/disputes/:id/review", h.BeginReview)
	r.POST("/disputes/:id/request-evidence", h.RequestEvidence)
	r.POST("/disputes/:id/escalate", h.Escalate)
	r.POST("/disputes/:id/resolve", h.Resolve)
	r.POST("/disputes/:id/cancel", h.Cancel)
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dispute not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to fetch dispute",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListDisputes handles GET /v1/disputes?status=open&limit=50
func (h *Handler) ListDisputes(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusOpen)))

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	disputes, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list disputes",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// EvidenceRequest carries one evidence submission.
type EvidenceRequest struct {
	URI         string `json:"uri" binding:"required"`
	Description string `json:"description"`
}

// SubmitEvidence handles POST /v1/disputes/:id/evidence
func (h *Handler) SubmitEvidence(c *gin.Context) {
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'uri'",
		})
		return
	}

	submitter := c.GetString("authAgentAddr")
	if submitter == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	d, err := h.service.SubmitEvidence(c.Request.Context(), c.Param("id"), submitter, req.URI, req.Description)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// BeginReview handles POST /v1/disputes/:id/review
func (h *Handler) BeginReview(c *gin.Context) {
	h.arbitratorTransition(c, h.service.BeginReview)
}

// RequestEvidence handles POST /v1/disputes/:id/request-evidence
func (h *Handler) RequestEvidence(c *gin.Context) {
	h.arbitratorTransition(c, h.service.RequestEvidence)
}

// Escalate handles POST /v1/disputes/:id/escalate
func (h *Handler) Escalate(c *gin.Context) {
	h.arbitratorTransition(c, h.service.Escalate)
}

func (h *Handler) arbitratorTransition(c *gin.Context, op func(ctx context.Context, disputeID, arbitrator string) (*Dispute, error)) {
	arbitrator := c.GetString("authAgentAddr")
	if arbitrator == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	d, err := op(c.Request.Context(), c.Param("id"), arbitrator)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveRequest carries the arbitrator's ruling.
type ResolveRequest struct {
	Decision  Decision `json:"decision" binding:"required"`
	RefundPct uint8    `json:"refundPct"`
	Reasoning string   `json:"reasoning" binding:"required"`
}

// Resolve handles POST /v1/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'decision' and 'reasoning'",
		})
		return
	}

	arbitrator := c.GetString("authAgentAddr")
	if arbitrator == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"), arbitrator, req.Decision, req.RefundPct, req.Reasoning)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// Cancel handles POST /v1/disputes/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	caller := c.GetString("authAgentAddr")
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	d, err := h.service.Cancel(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
	case errors.Is(err, ErrNotArbitrator):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_arbitrator",
			"message": "Caller is not an authorized arbitrator",
		})
	case errors.Is(err, ErrNotParty):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_party",
			"message": "Caller is not a party to this dispute",
		})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "Dispute has already been resolved",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_status",
			"message": "Dispute is not in a valid state for this operation",
		})
	case errors.Is(err, ErrEvidenceClosed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "evidence_closed",
			"message": "Dispute no longer accepts evidence",
		})
	case errors.Is(err, ErrInvalidRefundPct):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_refund_pct",
			"message": "Refund percentage must be 0-100",
		})
	case errors.Is(err, ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_decision",
			"message": "Decision must be favor_payer, favor_recipient, or split",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "dispute_error",
			"message": "Dispute operation failed",
		})
	}
}

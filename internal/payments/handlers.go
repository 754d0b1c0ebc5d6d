package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ghostspeak/ghostspeak/internal/validation"
	"github.com/ghostspeak/ghostspeak/pkg/x402"
)

// Handler provides HTTP endpoints for payment recording.
type Handler struct {
	service *Service
}

// NewHandler creates a new payments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required payment routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payments/x402", h.RecordX402)
}

// RecordRequest is the body for recording an x402 payment.
type RecordRequest struct {
	Recipient string            `json:"recipient" binding:"required"`
	Amount    uint64            `json:"amount" binding:"required"`
	Proof     x402.PaymentProof `json:"proof" binding:"required"`
}

// RecordX402 handles POST /v1/payments/x402
func (h *Handler) RecordX402(c *gin.Context) {
	caller := c.GetString("authAgentAddr")
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "recipient, amount and proof are required",
		})
		return
	}
	if !validation.IsValidAddress(req.Recipient) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Invalid recipient address",
		})
		return
	}

	rec, err := h.service.RecordX402(c.Request.Context(), caller, req.Recipient, req.Amount, &req.Proof)
	if err != nil {
		switch {
		case errors.Is(err, ErrProofMismatch):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "proof_mismatch",
				"message": "Proof sender does not match the authenticated agent",
			})
		case errors.Is(err, ErrInvalidProof), errors.Is(err, ErrZeroAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to record payment",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, rec)
}

package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ghostspeak/ghostspeak/internal/token"
	"github.com/ghostspeak/ghostspeak/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/summary", h.GetSummary)
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/agents/:address/escrows", h.ListEscrows)
}

// RegisterProtectedRoutes sets up protected (auth-required) escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.POST("/escrows/:id/fund", h.FundEscrow)
	r.POST("/escrows/:id/submit", h.SubmitWork)
	r.POST("/escrows/:id/approve", h.ApproveWork)
	r.POST("/escrows/:id/cancel", h.CancelEscrow)
	r.POST("/escrows/:id/dispute", h.DisputeEscrow)
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	payer := c.GetString("authAgentAddr")
	if payer == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
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

	e, err := h.service.Create(c.Request.Context(), payer, req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ListEscrows handles GET /v1/agents/:address/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Invalid agent address",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 200",
			})
			return
		}
		limit = n
	}

	escrows, err := h.service.ListByAgent(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list escrows",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"escrows": escrows,
		"count":   len(escrows),
	})
}

// FundEscrow handles POST /v1/escrows/:id/fund
func (h *Handler) FundEscrow(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	e, err := h.service.Fund(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// SubmitWork handles POST /v1/escrows/:id/submit
func (h *Handler) SubmitWork(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req SubmitWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "proofUri is required",
		})
		return
	}

	e, err := h.service.SubmitWork(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ApproveWork handles POST /v1/escrows/:id/approve
func (h *Handler) ApproveWork(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	e, err := h.service.Approve(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// CancelEscrow handles POST /v1/escrows/:id/cancel
func (h *Handler) CancelEscrow(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	e, err := h.service.Cancel(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// DisputeEscrow handles POST /v1/escrows/:id/dispute
func (h *Handler) DisputeEscrow(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	e, err := h.service.Dispute(c.Request.Context(), c.Param("id"), caller, req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetSummary handles GET /v1/escrows/summary
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.service.GetSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute escrow summary",
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) caller(c *gin.Context) (string, bool) {
	caller := c.GetString("authAgentAddr")
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return "", false
	}
	return caller, true
}

func respondEscrowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEscrowNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Caller is not a party to this operation",
		})
	case IsReentrancy(err):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "operation_in_progress",
			"message": "Another operation on this escrow is in progress",
		})
	case errors.Is(err, ErrAlreadyFunded):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_funded",
			"message": "Escrow is already funded",
		})
	case errors.Is(err, ErrWorkAlreadySubmitted):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "work_already_submitted",
			"message": "Work has already been submitted",
		})
	case errors.Is(err, ErrNotFunded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "not_funded",
			"message": "Escrow has not been funded",
		})
	case errors.Is(err, ErrWorkNotSubmitted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "work_not_submitted",
			"message": "No work has been submitted for approval",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_status",
			"message": "Escrow state does not allow this operation",
		})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidExpiration),
		errors.Is(err, ErrSameParty), errors.Is(err, ErrInvalidMilestone),
		errors.Is(err, ErrMilestoneOverflow), errors.Is(err, token.ErrArithmeticOverflow):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}

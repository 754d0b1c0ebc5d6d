package auction

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for commit-reveal bidding
type Handler struct {
	service *Service
}

// NewHandler creates a new auction handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auction endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auctions/:id/bids", h.CommitBid)
	r.GET("/auctions/:id/bids", h.ListBids)
	r.POST("/bids/:id/reveal", h.RevealBid)
	r.GET("/bids/:id", h.GetBid)
}

// CommitRequest carries a sealed bid commitment.
type CommitRequest struct {
	Commitment string `json:"commitment" binding:"required"`
}

// CommitBid handles POST /v1/auctions/:id/bids
func (h *Handler) CommitBid(c *gin.Context) {
	auctionID := c.Param("id")

	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'commitment'",
		})
		return
	}

	bidder := c.GetString("authAgentAddr")
	if bidder == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required to bid",
		})
		return
	}

	bid, err := h.service.Commit(c.Request.Context(), auctionID, bidder, req.Commitment)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCommit):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_commitment",
				"message": "Commitment must be a 64-char hex SHA-256 digest",
			})
		case errors.Is(err, ErrAlreadyCommitted):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_committed",
				"message": "Bidder already has a bid on this auction",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "commit_failed",
				"message": "Failed to record bid commitment",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bid": bid})
}

// RevealRequest discloses a committed bid.
type RevealRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
	Nonce  string `json:"nonce" binding:"required"`
}

// RevealBid handles POST /v1/bids/:id/reveal
func (h *Handler) RevealBid(c *gin.Context) {
	bidID := c.Param("id")

	var req RevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'amount' and 'nonce'",
		})
		return
	}

	bidder := c.GetString("authAgentAddr")
	if bidder == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required to reveal",
		})
		return
	}

	bid, err := h.service.Reveal(c.Request.Context(), bidID, bidder, req.Amount, req.Nonce)
	if err != nil {
		switch {
		case errors.Is(err, ErrBidNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Bid not found",
			})
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Only the bid owner may reveal",
			})
		case errors.Is(err, ErrAlreadyRevealed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_revealed",
				"message": "Bid has already been revealed",
			})
		case errors.Is(err, ErrRevealTooEarly):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "reveal_too_early",
				"message": "Reveal window has not opened yet",
			})
		case errors.Is(err, ErrRevealTooLate):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "reveal_too_late",
				"message": "Reveal window has closed",
			})
		case errors.Is(err, ErrInvalidReveal):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_reveal",
				"message": "Amount and nonce do not match the commitment",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "reveal_failed",
				"message": "Failed to reveal bid",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"bid": bid})
}

// GetBid handles GET /v1/bids/:id
func (h *Handler) GetBid(c *gin.Context) {
	bid, err := h.service.GetBid(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBidNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Bid not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to fetch bid",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bid": bid})
}

// ListBids handles GET /v1/auctions/:id/bids
func (h *Handler) ListBids(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	bids, err := h.service.ListBids(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list bids",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bids":  bids,
		"count": len(bids),
	})
}

package reputation

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ghostspeak/ghostspeak/internal/validation"
)

// Handler provides HTTP endpoints for reputation
type Handler struct {
	service       *Service
	snapshotStore SnapshotStore
}

// NewHandler creates a new reputation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// NewHandlerWithHistory creates a handler that also serves historical snapshots.
func NewHandlerWithHistory(service *Service, store SnapshotStore) *Handler {
	return &Handler{service: service, snapshotStore: store}
}

// RegisterRoutes sets up reputation endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reputation/:address", h.GetReputation)
	r.POST("/reputation/batch", h.GetBatchReputation)
	r.GET("/reputation/:address/history", h.GetReputationHistory)
}

// GetReputation returns reputation score for a single agent
func (h *Handler) GetReputation(c *gin.Context) {
	address := c.Param("address")

	score, err := h.service.GetScore(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reputation_error",
			"message": "Failed to compute reputation score",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reputation": score})
}

// BatchRequest is a request for batch reputation lookups.
type BatchRequest struct {
	Addresses []string `json:"addresses" binding:"required"`
}

// GetBatchReputation returns reputation scores for multiple agents.
// POST /v1/reputation/batch
func (h *Handler) GetBatchReputation(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'addresses' array",
		})
		return
	}

	if len(req.Addresses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "At least one address is required",
		})
		return
	}
	if len(req.Addresses) > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "too_many_addresses",
			"message": "Maximum 100 addresses per batch request",
		})
		return
	}

	var scores []*Score
	for _, addr := range req.Addresses {
		score, err := h.service.GetScore(c.Request.Context(), addr)
		if err != nil {
			// Zero score for agents we cannot compute
			scores = append(scores, &Score{Address: addr, Tier: TierNew})
			continue
		}
		scores = append(scores, score)
	}

	c.JSON(http.StatusOK, gin.H{"scores": scores})
}

// GetReputationHistory returns historical reputation snapshots.
// GET /v1/reputation/:address/history?from=&to=&limit=
func (h *Handler) GetReputationHistory(c *gin.Context) {
	address := c.Param("address")

	if h.snapshotStore == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "not_available",
			"message": "Historical reputation data is not available",
		})
		return
	}

	q := HistoryQuery{
		Address: address,
		Limit:   100,
	}

	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = t
		}
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			q.Limit = parsed
			if q.Limit > 1000 {
				q.Limit = 1000
			}
		}
	}

	snapshots, err := h.snapshotStore.Query(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to query reputation history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":   address,
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// RatingRequest submits a 1-5 star rating for an agent.
type RatingRequest struct {
	Ratee     string `json:"ratee" binding:"required"`
	Rating    int    `json:"rating" binding:"required"`
	Reference string `json:"reference"`
}

// SubmitRating handles POST /v1/ratings. The rater is the authenticated
// agent; registered separately so the server can rate-limit it.
func (h *Handler) SubmitRating(c *gin.Context) {
	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidAddress(req.Ratee) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "ratee must be a valid base58 address (32-44 chars)",
		})
		return
	}

	rater := c.GetString("authAgentAddr")
	if rater == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required to submit ratings",
		})
		return
	}

	err := h.service.RecordRating(c.Request.Context(), rater, req.Ratee, req.Rating, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRating):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_rating",
				"message": "Rating must be between 1 and 5",
			})
		case errors.Is(err, ErrSelfRating):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "self_rating",
				"message": "Agents cannot rate themselves",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "rating_error",
				"message": "Failed to record rating",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "recorded",
		"message": "Rating recorded",
	})
}

package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the GhostSpeak platform.
type Config struct {
	APIURL       string // Base URL, e.g. "http://localhost:8080"
	APIKey       string // API key, e.g. "sk_..."
	AgentAddress string // Agent's base58 address
}

// GhostClient is a pure HTTP client for the GhostSpeak platform API.
type GhostClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGhostClient creates a new client for the GhostSpeak platform.
func NewGhostClient(cfg Config) *GhostClient {
	return &GhostClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *GhostClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetBalance returns the agent's current balance.
func (c *GhostClient) GetBalance(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/agents/" + c.cfg.AgentAddress + "/balance"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// GetReputation returns the reputation score for a given agent address.
func (c *GhostClient) GetReputation(ctx context.Context, address string) (json.RawMessage, error) {
	path := "/v1/reputation/" + address
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// GetEscrow fetches a single escrow by ID.
func (c *GhostClient) GetEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	path := "/v1/escrows/" + escrowID
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// CreateEscrow creates a new escrow with this agent as the payer.
func (c *GhostClient) CreateEscrow(ctx context.Context, recipient string, amount uint64, expiresAt, description string) (json.RawMessage, error) {
	body := map[string]any{
		"recipient":   recipient,
		"amount":      amount,
		"expiresAt":   expiresAt,
		"description": description,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

// FundEscrow locks the payer's funds into an escrow.
func (c *GhostClient) FundEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	path := "/v1/escrows/" + escrowID + "/fund"
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// ApproveEscrow approves submitted work, releasing funds to the recipient.
func (c *GhostClient) ApproveEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	path := "/v1/escrows/" + escrowID + "/approve"
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// DisputeEscrow freezes an escrow and opens a dispute case.
func (c *GhostClient) DisputeEscrow(ctx context.Context, escrowID, reason string) (json.RawMessage, error) {
	path := "/v1/escrows/" + escrowID + "/dispute"
	body := map[string]string{"reason": reason}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// CommitBid places a sealed bid on an auction.
func (c *GhostClient) CommitBid(ctx context.Context, auctionID, commitment string) (json.RawMessage, error) {
	path := "/v1/auctions/" + auctionID + "/bids"
	body := map[string]string{"commitment": commitment}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// RevealBid discloses a previously committed bid.
func (c *GhostClient) RevealBid(ctx context.Context, bidID string, amount uint64, nonce string) (json.RawMessage, error) {
	path := "/v1/bids/" + bidID + "/reveal"
	body := map[string]any{"amount": amount, "nonce": nonce}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

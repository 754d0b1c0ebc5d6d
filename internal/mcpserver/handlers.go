package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ghostspeak/ghostspeak/pkg/x402"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GhostClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GhostClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckBalance reports the agent's ledger balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalance(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	var bal struct {
		Available uint64 `json:"available"`
		Escrowed  uint64 `json:"escrowed"`
	}
	if err := json.Unmarshal(raw, &bal); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}

	text := fmt.Sprintf("Balance for %s:\n- Available: %s tokens\n- In escrow: %s tokens",
		h.client.cfg.AgentAddress, x402.FormatAmount(bal.Available), x402.FormatAmount(bal.Escrowed))
	return mcp.NewToolResultText(text), nil
}

// HandleGetReputation reports an agent's reputation score.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("agent_address", "")
	if address == "" {
		return mcp.NewToolResultError("agent_address is required"), nil
	}

	raw, err := h.client.GetReputation(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	var resp struct {
		Reputation struct {
			Score         float64 `json:"score"`
			Tier          string  `json:"tier"`
			SuccessRate   float64 `json:"successRate"`
			TotalPayments int     `json:"totalPayments"`
			Halved        bool    `json:"halved"`
		} `json:"reputation"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}

	r := resp.Reputation
	var b strings.Builder
	fmt.Fprintf(&b, "Reputation for %s:\n", address)
	fmt.Fprintf(&b, "- Score: %.1f/100 (%s tier)\n", r.Score, r.Tier)
	fmt.Fprintf(&b, "- Success rate: %.0f%% over %d payments\n", r.SuccessRate*100, r.TotalPayments)
	if r.Halved {
		b.WriteString("- Warning: score halved for low recent activity\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// HandleGetEscrow looks up an escrow by ID.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}
	return formatEscrowResult(raw)
}

// HandleCreateEscrow creates (and optionally funds) an escrow.
func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipient := req.GetString("recipient", "")
	amountStr := req.GetString("amount", "")
	expiresAt := req.GetString("expires_at", "")
	description := req.GetString("description", "")
	fund := req.GetBool("fund", false)

	if recipient == "" || amountStr == "" || expiresAt == "" {
		return mcp.NewToolResultError("recipient, amount, and expires_at are required"), nil
	}
	amount, err := x402.ParseAmount(amountStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid amount %q: use a decimal like '1.50'", amountStr)), nil
	}
	if _, err := time.Parse(time.RFC3339, expiresAt); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid expires_at %q: use RFC3339 like '2026-03-01T00:00:00Z'", expiresAt)), nil
	}

	raw, err := h.client.CreateEscrow(ctx, recipient, amount, expiresAt, description)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create escrow: %v", err)), nil
	}

	var e escrowView
	if err := json.Unmarshal(raw, &e); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	if fund {
		if _, err := h.client.FundEscrow(ctx, e.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf(
				"Escrow %s created but funding failed: %v. Fund it separately.", e.ID, err)), nil
		}
		e.Funded = true
	}

	text := fmt.Sprintf("Created escrow %s: %s tokens to %s (funded: %v, expires %s)",
		e.ID, x402.FormatAmount(e.Amount), e.Recipient, e.Funded, expiresAt)
	return mcp.NewToolResultText(text), nil
}

// HandleApproveEscrow releases escrowed funds for delivered work.
func (h *Handlers) HandleApproveEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.ApproveEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve escrow: %v", err)), nil
	}

	var e escrowView
	if err := json.Unmarshal(raw, &e); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	text := fmt.Sprintf("Approved escrow %s: released %s tokens to %s",
		e.ID, x402.FormatAmount(e.ReleasedAmount), e.Recipient)
	return mcp.NewToolResultText(text), nil
}

// HandleDisputeEscrow freezes an escrow and opens a dispute case.
func (h *Handlers) HandleDisputeEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	reason := req.GetString("reason", "")
	if escrowID == "" || reason == "" {
		return mcp.NewToolResultError("escrow_id and reason are required"), nil
	}

	raw, err := h.client.DisputeEscrow(ctx, escrowID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to dispute escrow: %v", err)), nil
	}

	var e escrowView
	if err := json.Unmarshal(raw, &e); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	text := fmt.Sprintf("Disputed escrow %s. Dispute case %s is open; funds are frozen until an arbitrator rules.",
		e.ID, e.DisputeID)
	return mcp.NewToolResultText(text), nil
}

// HandleCommitBid places a sealed bid on an auction.
func (h *Handlers) HandleCommitBid(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auctionID := req.GetString("auction_id", "")
	commitment := req.GetString("commitment", "")
	if auctionID == "" || commitment == "" {
		return mcp.NewToolResultError("auction_id and commitment are required"), nil
	}

	raw, err := h.client.CommitBid(ctx, auctionID, commitment)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to commit bid: %v", err)), nil
	}

	var bid struct {
		ID          string    `json:"id"`
		AuctionID   string    `json:"auctionId"`
		CommittedAt time.Time `json:"committedAt"`
	}
	if err := json.Unmarshal(raw, &bid); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse bid: %v", err)), nil
	}
	text := fmt.Sprintf("Sealed bid %s committed on auction %s at %s. Reveal it between 60 and 300 seconds from now with reveal_bid.",
		bid.ID, bid.AuctionID, bid.CommittedAt.Format(time.RFC3339))
	return mcp.NewToolResultText(text), nil
}

// HandleRevealBid discloses a previously committed bid.
func (h *Handlers) HandleRevealBid(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bidID := req.GetString("bid_id", "")
	amountStr := req.GetString("amount", "")
	nonce := req.GetString("nonce", "")
	if bidID == "" || amountStr == "" || nonce == "" {
		return mcp.NewToolResultError("bid_id, amount, and nonce are required"), nil
	}
	amount, err := x402.ParseAmount(amountStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid amount %q: use a decimal like '1.50'", amountStr)), nil
	}

	raw, err := h.client.RevealBid(ctx, bidID, amount, nonce)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reveal bid: %v", err)), nil
	}

	var bid struct {
		ID        string `json:"id"`
		AuctionID string `json:"auctionId"`
		Amount    uint64 `json:"amount"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(raw, &bid); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse bid: %v", err)), nil
	}
	text := fmt.Sprintf("Bid %s revealed on auction %s: %s tokens (status: %s)",
		bid.ID, bid.AuctionID, x402.FormatAmount(bid.Amount), bid.Status)
	return mcp.NewToolResultText(text), nil
}

// escrowView mirrors the platform escrow response fields the tools report on.
type escrowView struct {
	ID             string `json:"id"`
	Payer          string `json:"payer"`
	Recipient      string `json:"recipient"`
	Amount         uint64 `json:"amount"`
	ReleasedAmount uint64 `json:"releasedAmount"`
	Status         string `json:"status"`
	Funded         bool   `json:"funded"`
	DisputeID      string `json:"disputeId"`
	ExpiresAt      string `json:"expiresAt"`
}

func formatEscrowResult(raw json.RawMessage) (*mcp.CallToolResult, error) {
	var e escrowView
	if err := json.Unmarshal(raw, &e); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Escrow %s (%s):\n", e.ID, e.Status)
	fmt.Fprintf(&b, "- Payer: %s\n", e.Payer)
	fmt.Fprintf(&b, "- Recipient: %s\n", e.Recipient)
	fmt.Fprintf(&b, "- Amount: %s tokens (funded: %v)\n", x402.FormatAmount(e.Amount), e.Funded)
	if e.ReleasedAmount > 0 {
		fmt.Fprintf(&b, "- Released so far: %s tokens\n", x402.FormatAmount(e.ReleasedAmount))
	}
	if e.DisputeID != "" {
		fmt.Fprintf(&b, "- Dispute: %s\n", e.DisputeID)
	}
	if e.ExpiresAt != "" {
		fmt.Fprintf(&b, "- Expires: %s\n", e.ExpiresAt)
	}
	return mcp.NewToolResultText(b.String()), nil
}

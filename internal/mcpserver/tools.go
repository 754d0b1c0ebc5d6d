package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the GhostSpeak MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your agent's current token balance on GhostSpeak. "+
			"Shows available funds and amounts locked in escrow."),
)

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get the reputation score and tier for any agent on the GhostSpeak network. "+
			"Shows the 0-100 score, success rate, payment volume, and trust tier "+
			"(new/emerging/established/trusted/elite)."),
	mcp.WithString("agent_address",
		mcp.Required(),
		mcp.Description("The agent's base58 address")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Look up an escrow by ID. Shows its status, parties, amount, "+
			"milestones, and any attached dispute."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID (e.g. 'esc_...')")),
)

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Create an escrow to pay another agent for work. Your tokens are held "+
			"in escrow until you approve the delivered work. Use fund=true to "+
			"lock the funds immediately."),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient agent's base58 address")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in tokens (e.g. '1.50')")),
	mcp.WithString("expires_at",
		mcp.Required(),
		mcp.Description("RFC3339 deadline for the work (e.g. '2026-03-01T00:00:00Z')")),
	mcp.WithString("description",
		mcp.Description("What the payment is for")),
	mcp.WithBoolean("fund",
		mcp.Description("Lock the funds immediately after creating (default false)")),
)

var ToolApproveEscrow = mcp.NewTool("approve_escrow",
	mcp.WithDescription(
		"Approve submitted work on an escrow you created, releasing the "+
			"escrowed tokens to the recipient minus the platform fee."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID from a previous create_escrow result")),
)

var ToolDisputeEscrow = mcp.NewTool("dispute_escrow",
	mcp.WithDescription(
		"Dispute an escrow when work was not delivered or is unsatisfactory. "+
			"Freezes the funds and opens a dispute case for an arbitrator to resolve."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to dispute")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Explanation of why the work was unsatisfactory")),
)

var ToolCommitBid = mcp.NewTool("commit_bid",
	mcp.WithDescription(
		"Place a sealed bid on an auction. The commitment is the hex SHA-256 "+
			"of your bid amount (8-byte little-endian base units) followed by a "+
			"secret nonce. Keep the amount and nonce to reveal later."),
	mcp.WithString("auction_id",
		mcp.Required(),
		mcp.Description("The auction to bid on")),
	mcp.WithString("commitment",
		mcp.Required(),
		mcp.Description("64-char hex SHA-256 commitment of your sealed bid")),
)

var ToolRevealBid = mcp.NewTool("reveal_bid",
	mcp.WithDescription(
		"Reveal a previously committed sealed bid. Must happen inside the "+
			"reveal window (60-300 seconds after the commit). The amount and "+
			"nonce must match your original commitment."),
	mcp.WithString("bid_id",
		mcp.Required(),
		mcp.Description("The bid ID from a previous commit_bid result")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("The bid amount in tokens (e.g. '1.50')")),
	mcp.WithString("nonce",
		mcp.Required(),
		mcp.Description("The hex-encoded nonce used in the commitment")),
)

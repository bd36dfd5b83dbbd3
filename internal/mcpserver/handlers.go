package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/paykrypt/paykrypt/internal/dashboard"
	"github.com/paykrypt/paykrypt/internal/reputation"
	"github.com/paykrypt/paykrypt/internal/riskclient"
	"github.com/paykrypt/paykrypt/internal/risk"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *riskclient.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *riskclient.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleAssessTransaction assesses a proposed payment.
func (h *Handlers) HandleAssessTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	senderID := req.GetString("sender_id", "")
	if senderID == "" {
		return mcp.NewToolResultError("sender_id is required"), nil
	}
	amount := req.GetFloat("amount", 0)
	if amount <= 0 {
		return mcp.NewToolResultError("amount must be a positive number"), nil
	}

	tx := risk.Transaction{
		SenderID:    senderID,
		Amount:      amount,
		Category:    req.GetString("category", ""),
		Description: req.GetString("description", ""),
		ReceiverID:  optional(req.GetString("receiver_id", "")),
		Location:    optional(req.GetString("location", "")),
		DeviceID:    optional(req.GetString("device_id", "")),
	}

	// Analyze never leaves us without a verdict; a failure is reported alongside the fallback.
	verdict, err := h.client.Analyze(ctx, tx, nil)
	text := formatVerdict(verdict)
	if err != nil {
		text += fmt.Sprintf("\nNote: the risk service could not be reached (%v).\n", err)
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetUserReputation returns a user's reputation grade.
func (h *Handlers) HandleGetUserReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	score, err := h.client.Reputation(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}
	return mcp.NewToolResultText(formatReputation(score)), nil
}

// HandleGetRiskOverview returns platform-wide risk statistics.
func (h *Handlers) HandleGetRiskOverview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := h.client.Metrics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get metrics: %v", err)), nil
	}

	limit := req.GetInt("flagged_limit", 5)
	flagged, err := h.client.Flagged(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get flagged assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(formatOverview(summary, flagged)), nil
}

func formatVerdict(v risk.Verdict) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction: %s\n", v.TransactionID)
	fmt.Fprintf(&sb, "Risk: %s\n", v.RiskScore)
	fmt.Fprintf(&sb, "Status: %s\n", v.Status)
	sb.WriteString("Factors:\n")
	for _, f := range v.RiskFactors {
		fmt.Fprintf(&sb, "  - %s\n", f)
	}
	if v.Recommendation != "" {
		fmt.Fprintf(&sb, "Recommendation: %s\n", v.Recommendation)
	}
	if v.Blocked() {
		sb.WriteString("\nDo not send this payment without manual review.\n")
	}
	return sb.String()
}

func formatReputation(s *reputation.Score) string {
	var sb strings.Builder
	sb.WriteString("User Reputation:\n")
	fmt.Fprintf(&sb, "  User: %s\n", s.UserID)
	fmt.Fprintf(&sb, "  Tier: %s\n", s.Tier)
	fmt.Fprintf(&sb, "  Transactions: %d\n", s.Metrics.TotalTransactions)
	if s.Metrics.TotalTransactions > 0 {
		fmt.Fprintf(&sb, "  Flagged: %d (%.0f%%)\n", s.Metrics.FlaggedTxns, s.FlaggedRatio*100)
		fmt.Fprintf(&sb, "  High risk: %d (%.0f%%)\n", s.Metrics.HighRiskTxns, s.HighRiskRatio*100)
	}
	return sb.String()
}

func formatOverview(s *dashboard.Summary, flagged []*risk.Assessment) string {
	var sb strings.Builder
	sb.WriteString("Risk Overview:\n")
	fmt.Fprintf(&sb, "  Users: %d\n", s.TotalUsers)
	fmt.Fprintf(&sb, "  Transactions: %d (%d flagged)\n", s.TotalTransactions, s.FlaggedTransactions)
	fmt.Fprintf(&sb, "  Volume: $%s\n", s.TotalVolume.StringFixed(2))
	fmt.Fprintf(&sb, "  Risk: %d low / %d medium / %d high\n",
		s.RiskDistribution.Low, s.RiskDistribution.Medium, s.RiskDistribution.High)

	if len(s.Categories) > 0 {
		sb.WriteString("\nTop categories:\n")
		for _, c := range s.Categories {
			fmt.Fprintf(&sb, "  %s: %d ($%s)\n", c.Name, c.Count, c.Volume.StringFixed(2))
		}
	}
	if len(s.UserActivity) > 0 {
		sb.WriteString("\nMost active users:\n")
		for _, u := range s.UserActivity {
			fmt.Fprintf(&sb, "  %s: %d transactions, %d flagged\n", u.UserID, u.Transactions, u.Flagged)
		}
	}

	if len(flagged) == 0 {
		sb.WriteString("\nNo flagged assessments.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nRecent flagged assessments (%d):\n", len(flagged))
	for i, a := range flagged {
		fmt.Fprintf(&sb, "%d. %s from %s, $%.2f\n", i+1, a.Verdict.TransactionID, a.SenderID, a.Amount)
		if len(a.Verdict.RiskFactors) > 0 {
			fmt.Fprintf(&sb, "   %s\n", strings.Join(a.Verdict.RiskFactors, "; "))
		}
	}
	return sb.String()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

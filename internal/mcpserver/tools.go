package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the PayKrypt MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAssessTransaction = mcp.NewTool("assess_transaction",
	mcp.WithDescription(
		"Assess the fraud risk of a proposed payment before it is submitted. "+
			"The payment is compared with the sender's transaction history and gets a risk tier "+
			"(LOW/MEDIUM/HIGH), the factors behind it, a recommended status, and advice. "+
			"HIGH risk payments should not be sent."),
	mcp.WithString("sender_id",
		mcp.Required(),
		mcp.Description("User id of the sender (e.g. '1')")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Payment amount in USD (e.g. 250.00)")),
	mcp.WithString("receiver_id",
		mcp.Description("User id of the recipient")),
	mcp.WithString("location",
		mcp.Description("Where the payment is made from (e.g. 'New York, USA')")),
	mcp.WithString("device_id",
		mcp.Description("Device the payment is made from (e.g. 'iPhone 13'), or 'Unknown Device'")),
	mcp.WithString("category",
		mcp.Description("Spending category (e.g. 'Shopping', 'Rent')")),
	mcp.WithString("description",
		mcp.Description("Free-text payment description")),
)

var ToolGetUserReputation = mcp.NewTool("get_user_reputation",
	mcp.WithDescription(
		"Get the reputation grade of a PayKrypt user, derived from how many of their "+
			"transactions were flagged or rated high risk. "+
			"Tiers are excellent, good, average, bad, and very bad."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user id (e.g. '3')")),
)

var ToolGetRiskOverview = mcp.NewTool("get_risk_overview",
	mcp.WithDescription(
		"Get an overview of transaction risk across the platform: totals, risk tier "+
			"distribution, top categories, the most active users, and the latest flagged assessments."),
	mcp.WithNumber("flagged_limit",
		mcp.Description("How many recent flagged assessments to include (default 5)")),
)

// Package dashboard provides the admin analytics API over stored transactions
// and risk assessments.
package dashboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paykrypt/paykrypt/internal/risk"
)

const (
	// TopCategories is how many categories a summary reports.
	TopCategories = 6
	// TopUsers is how many users a summary reports by default.
	TopUsers = 5
)

// Summary is the admin overview of all stored transactions.
type Summary struct {
	TotalUsers          int              `json:"totalUsers"`
	TotalTransactions   int              `json:"totalTransactions"`
	FlaggedTransactions int              `json:"flaggedTransactions"`
	TotalVolume         decimal.Decimal  `json:"totalVolume"`
	RiskDistribution    RiskDistribution `json:"riskDistribution"`
	Categories          []CategoryStat   `json:"categories"`
	UserActivity        []UserActivity   `json:"userActivity"`
	GeneratedAt         time.Time        `json:"generatedAt"`
}

// RiskDistribution counts transactions per risk tier.
type RiskDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// CategoryStat is the activity in one spending category.
type CategoryStat struct {
	Name   string          `json:"name"`
	Count  int             `json:"count"`
	Volume decimal.Decimal `json:"volume"`
}

// UserActivity is one user's share of the activity.
type UserActivity struct {
	UserID       string          `json:"userId"`
	Transactions int             `json:"transactions"`
	Flagged      int             `json:"flagged"`
	Sent         decimal.Decimal `json:"sent"`
	Received     decimal.Decimal `json:"received"`
}

// Summarize aggregates txs. topUsers <= 0 reports TopUsers users.
func Summarize(txs []risk.Transaction, topUsers int, now time.Time) Summary {
	if topUsers <= 0 {
		topUsers = TopUsers
	}

	s := Summary{
		TotalTransactions: len(txs),
		TotalVolume:       decimal.Zero,
		GeneratedAt:       now,
	}
	categories := make(map[string]*CategoryStat)
	users := make(map[string]*UserActivity)
	user := func(id string) *UserActivity {
		u, ok := users[id]
		if !ok {
			u = &UserActivity{UserID: id, Sent: decimal.Zero, Received: decimal.Zero}
			users[id] = u
		}
		return u
	}

	for _, tx := range txs {
		amount := decimal.NewFromFloat(tx.Amount)
		s.TotalVolume = s.TotalVolume.Add(amount)
		flagged := tx.Status == risk.StatusFlagged
		if flagged {
			s.FlaggedTransactions++
		}

		switch tx.RiskScore {
		case risk.ScoreLow:
			s.RiskDistribution.Low++
		case risk.ScoreMedium:
			s.RiskDistribution.Medium++
		case risk.ScoreHigh:
			s.RiskDistribution.High++
		}

		name := tx.Category
		if name == "" {
			name = "Uncategorized"
		}
		cat, ok := categories[name]
		if !ok {
			cat = &CategoryStat{Name: name, Volume: decimal.Zero}
			categories[name] = cat
		}
		cat.Count++
		cat.Volume = cat.Volume.Add(amount)

		sender := user(tx.SenderID)
		sender.Transactions++
		sender.Sent = sender.Sent.Add(amount)
		if flagged {
			sender.Flagged++
		}
		if tx.ReceiverID != nil && *tx.ReceiverID != tx.SenderID {
			receiver := user(*tx.ReceiverID)
			receiver.Transactions++
			receiver.Received = receiver.Received.Add(amount)
			if flagged {
				receiver.Flagged++
			}
		}
	}

	s.TotalUsers = len(users)
	s.Categories = topCategories(categories)
	s.UserActivity = topActivity(users, topUsers)
	return s
}

// topCategories orders by count, then volume, then name.
func topCategories(m map[string]*CategoryStat) []CategoryStat {
	out := make([]CategoryStat, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if cmp := out[i].Volume.Cmp(out[j].Volume); cmp != 0 {
			return cmp > 0
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > TopCategories {
		out = out[:TopCategories]
	}
	return out
}

func topActivity(m map[string]*UserActivity, limit int) []UserActivity {
	out := make([]UserActivity, 0, len(m))
	for _, u := range m {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Transactions != out[j].Transactions {
			return out[i].Transactions > out[j].Transactions
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

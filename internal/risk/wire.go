package risk

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// UnmarshalJSON decodes a transaction from loosely typed clients. Identifiers
// may be strings or numbers, amount may be a number or a numeric string, and
// anything unusable as an amount decodes as NaN so that evaluation falls back
// instead of the request being rejected.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*t = Transaction{
		ID:                text(fields["id"]),
		SenderID:          text(fields["senderId"]),
		ReceiverID:        optionalText(fields["receiverId"]),
		SenderAccountID:   text(fields["senderAccountId"]),
		ReceiverAccountID: optionalText(fields["receiverAccountId"]),
		Amount:            amount(fields["amount"]),
		Description:       text(fields["description"]),
		Category:          text(fields["category"]),
		Status:            Status(text(fields["status"])),
		RiskScore:         Score(text(fields["riskScore"])),
		CreatedAt:         timestamp(fields["createdAt"]),
		Location:          optionalText(fields["location"]),
		DeviceID:          optionalText(fields["deviceId"]),
	}
	return nil
}

// MarshalJSON writes a non-finite amount as null, which encoding/json cannot represent.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	if finite(t.Amount) {
		return json.Marshal(plain(t))
	}
	cp := plain(t)
	cp.Amount = 0
	out, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	return bytes.Replace(out, []byte(`"amount":0`), []byte(`"amount":null`), 1), nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func text(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// optionalText treats null and "" alike as absent.
func optionalText(raw json.RawMessage) *string {
	s := text(raw)
	if s == "" {
		return nil
	}
	return &s
}

func amount(raw json.RawMessage) float64 {
	if isNull(raw) {
		return math.NaN()
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

func timestamp(raw json.RawMessage) time.Time {
	s := text(raw)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

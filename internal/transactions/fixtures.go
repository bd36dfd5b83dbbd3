package transactions

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paykrypt/paykrypt/internal/risk"
)

//go:embed fixtures/sample.yaml
var sampleFixtures []byte

// Fixture is one transaction entry in a fixtures file.
type Fixture struct {
	ID                string  `yaml:"id"`
	SenderID          string  `yaml:"senderId"`
	ReceiverID        string  `yaml:"receiverId"`
	SenderAccountID   string  `yaml:"senderAccountId"`
	ReceiverAccountID string  `yaml:"receiverAccountId"`
	Amount            float64 `yaml:"amount"`
	Description       string  `yaml:"description"`
	Category          string  `yaml:"category"`
	Status            string  `yaml:"status"`
	RiskScore         string  `yaml:"riskScore"`
	AgeHours          float64 `yaml:"ageHours"`
	Location          string  `yaml:"location"`
	DeviceID          string  `yaml:"deviceId"`
}

// FixtureFile is the top-level YAML structure.
type FixtureFile struct {
	Transactions []Fixture `yaml:"transactions"`
}

// SampleFixtures returns the embedded demo dataset.
func SampleFixtures() ([]Fixture, error) {
	return ParseFixtures(sampleFixtures)
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes a fixtures document.
func ParseFixtures(data []byte) ([]Fixture, error) {
	var file FixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return file.Transactions, nil
}

// Transaction converts the fixture to a stored transaction dated relative to now.
func (f Fixture) Transaction(now time.Time) (risk.Transaction, error) {
	tx := risk.Transaction{
		ID:                f.ID,
		SenderID:          f.SenderID,
		ReceiverID:        optional(f.ReceiverID),
		SenderAccountID:   f.SenderAccountID,
		ReceiverAccountID: optional(f.ReceiverAccountID),
		Amount:            f.Amount,
		Description:       f.Description,
		Category:          f.Category,
		Status:            risk.Status(f.Status),
		RiskScore:         risk.ScoreLow,
		CreatedAt:         now.Add(-time.Duration(f.AgeHours * float64(time.Hour))).UTC(),
		Location:          optional(f.Location),
		DeviceID:          optional(f.DeviceID),
	}
	if tx.Status == "" {
		tx.Status = risk.StatusCompleted
	}
	if f.RiskScore != "" {
		score, ok := risk.ParseScore(f.RiskScore)
		if !ok {
			return tx, fmt.Errorf("fixture %s: unknown risk score %q", f.ID, f.RiskScore)
		}
		tx.RiskScore = score
	}
	return tx, Validate(&tx)
}

// Seed inserts fixtures into store when it is empty. It returns how many were inserted.
func Seed(ctx context.Context, store Store, fixtures []Fixture, now time.Time) (int, error) {
	existing, err := store.List(ctx, 1, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to check store before seeding: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	inserted := 0
	for _, f := range fixtures {
		tx, err := f.Transaction(now)
		if err != nil {
			return inserted, err
		}
		if err := store.Create(ctx, &tx); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return inserted, fmt.Errorf("failed to seed %s: %w", f.ID, err)
		}
		inserted++
	}
	return inserted, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

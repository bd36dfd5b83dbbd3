// Package idgen generates identifiers for transactions, assessments and requests.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 24 hex chars, e.g. "tx_3f0c...".
func WithPrefix(prefix string) string {
	id := uuid.New()
	return prefix + strings.ReplaceAll(id.String(), "-", "")[:24]
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

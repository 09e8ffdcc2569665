// Package idgen generates opaque, globally unique task identifiers: a
// sortable timestamp prefix plus a short random suffix.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTaskID returns an opaque, lexicographically-roughly-sortable task ID:
// a millisecond timestamp followed by 10 random base32 characters.
func NewTaskID() (string, error) {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating task id: %w", err)
	}
	return fmt.Sprintf("task_%d_%s", time.Now().UTC().UnixMilli(), encoding.EncodeToString(suffix)), nil
}

package scheduler

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// DefaultLockPrefix namespaces single-node lock keys.
const DefaultLockPrefix = "shortsched/schedule-"

// Fingerprint returns the lock key for a definition. Identical (interval,
// command) pairs on different nodes map to the same key on purpose.
func Fingerprint(prefix string, seconds float64, command string) string {
	if prefix == "" {
		prefix = DefaultLockPrefix
	}
	sum := sha1.Sum([]byte(FormatSeconds(seconds) + command))
	return prefix + hex.EncodeToString(sum[:])
}

// FormatSeconds renders seconds in the shortest decimal form ("0.05", "1", "2.5").
func FormatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

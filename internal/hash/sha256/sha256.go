// Package sha256 provides SHA-256 hashing utilities for alert fingerprints.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Hasher implements watch.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint identifies a match so repeats of the same excerpt can be
// recognised across ticks.
func (h *Hasher) Fingerprint(cfg watch.WatchConfig, match watch.MatchResult) (string, error) {
	return h.Hash(watch.FingerprintInput(cfg, match))
}

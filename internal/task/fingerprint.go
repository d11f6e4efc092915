package task

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fingerprint returns a stable content fingerprint for deduplication.
// Two tasks with the same workspace, goal and normalized name are
// considered equivalent regardless of superficial name differences.
func (t *Task) Fingerprint() string {
	return FingerprintOf(t.WorkspaceID, t.GoalID, t.Name)
}

// FingerprintOf computes the fingerprint for the given identity tuple.
func FingerprintOf(workspaceID, goalID, name string) string {
	h := sha256.New()
	h.Write([]byte(workspaceID))
	h.Write([]byte{0})
	h.Write([]byte(goalID))
	h.Write([]byte{0})
	h.Write([]byte(normalizeName(name)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeName lowercases, strips punctuation and collapses whitespace so
// that "Draft Report!" and "draft   report" fingerprint identically.
func normalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

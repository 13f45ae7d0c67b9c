// Package match resolves block id markers found in OCR output back to the
// block ids that were requested. OCR mangles identifiers, so resolution runs
// in stages: exact match first, checksum repair against the armor alphabet
// second, fuzzy string matching last.
package match

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/corestructure/remote-ocr/internal/document"
)

// DefaultScoreCutoff is the minimum similarity (percent) for a fuzzy match.
const DefaultScoreCutoff = 70.0

// Matcher matches observed id strings against a fixed set of expected block
// ids.
type Matcher struct {
	expected    []string
	normalized  []string
	scoreCutoff float64
}

func NewMatcher(expectedIDs []string) *Matcher {
	normalized := make([]string, len(expectedIDs))
	for i, id := range expectedIDs {
		normalized[i] = normalize(id)
	}
	return &Matcher{
		expected:    expectedIDs,
		normalized:  normalized,
		scoreCutoff: DefaultScoreCutoff,
	}
}

// WithScoreCutoff overrides the fuzzy-match threshold.
func (m *Matcher) WithScoreCutoff(cutoff float64) *Matcher {
	m.scoreCutoff = cutoff
	return m
}

// Match resolves an observed id to one of the expected block ids. The
// returned score is 100 for exact or repaired matches and the Levenshtein
// similarity for fuzzy ones. A miss returns ("", 0, false).
func (m *Matcher) Match(observed string) (string, float64, bool) {
	observedNorm := normalize(observed)

	// exact match first, repair is not free
	for i, exp := range m.normalized {
		if exp == observedNorm {
			return m.expected[i], 100, true
		}
	}

	// checksum-guided repair of the observed code
	if fixed, ok := document.RepairBlockID(observed); ok {
		fixedNorm := normalize(fixed)
		for i, exp := range m.normalized {
			if exp == fixedNorm {
				return m.expected[i], 100, true
			}
		}
	}

	// fuzzy fallback for codes too damaged to repair
	best := -1
	bestScore := 0.0
	for i, exp := range m.normalized {
		score := similarity(observedNorm, exp)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best >= 0 && bestScore >= m.scoreCutoff {
		return m.expected[best], bestScore, true
	}

	return "", 0, false
}

// similarity converts Levenshtein distance to a 0..100 score.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	distance := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return float64(maxLen-distance) / float64(maxLen) * 100
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToUpper(strings.TrimSpace(s))
}

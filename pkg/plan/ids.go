package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

func hashID(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(prefix + ":" + strings.Join(parts, ":")))
	return prefix + "_" + hex.EncodeToString(sum[:])[:12]
}

// StepID derives a step id from its type, sequence and title. Re-deriving
// the same baseline yields the same ids.
func StepID(stepType string, sequence int, title string) string {
	return hashID("step", stepType, strconv.Itoa(sequence), title)
}

// TestID derives a test intent id.
func TestID(testType, decisionID string) string {
	return hashID("test", testType, decisionID)
}

// EvidenceID derives an evidence intent id.
func EvidenceID(evidenceType, objectID string) string {
	return hashID("evid", evidenceType, objectID)
}

// NextRevision returns the letter after the highest existing revision:
// A, B, ... Z, AA, AB, ... Unparseable revisions are ignored.
func NextRevision(existing []string) string {
	highest := 0
	for _, rev := range existing {
		if n := revisionNumber(rev); n > highest {
			highest = n
		}
	}
	return revisionLetters(highest + 1)
}

func revisionNumber(rev string) int {
	if rev == "" {
		return 0
	}
	n := 0
	for _, c := range rev {
		if c < 'A' || c > 'Z' {
			return 0
		}
		n = n*26 + int(c-'A'+1)
	}
	return n
}

func revisionLetters(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// titleCase turns identifiers like "VIBRATION_TEST" into "Vibration Test".
func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		w = strings.ToLower(w)
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Package memory implements the dedup/decay/supersession/promotion logic
// layered on top of the store's memory tables (§4.9). The store itself only
// persists and queries rows; this package holds the scoring and thresholds
// that decide what gets written, merged, or promoted.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	fnvOffset = 0xcbf29ce484222325
	fnvPrime  = 0x100000001b3
)

// ContentHash derives the dedup key for a piece of memory content: the
// first 16 hex characters (8 bytes) of its SHA-256 digest.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// SimHash64 computes a 64-bit locality-sensitive fingerprint of content:
// every token votes +1/-1 on each bit of its FNV-1a hash, and the final bit
// is set wherever the vote sums positive. Near-identical content produces
// fingerprints with a small Hamming distance.
func SimHash64(content string) uint64 {
	var votes [64]int
	for _, tok := range tokenize(content) {
		h := fnv1a(tok)
		for i := range votes {
			if (h>>uint(i))&1 == 1 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}

	var result uint64
	for i, v := range votes {
		if v > 0 {
			result |= 1 << uint(i)
		}
	}
	return result
}

// HammingDistance counts the differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return popcount(a ^ b)
}

func popcount(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

func fnv1a(s string) uint64 {
	h := uint64(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return h
}

// tokenize splits on non-alphanumeric runes (underscore kept) and drops
// tokens shorter than 3 characters, matching both the SimHash and Jaccard
// tokenizers.
func tokenize(content string) []string {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		if r == '_' {
			return false
		}
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// JaccardSimilarity scores token-set overlap between two texts. Two
// contents with no tokens at all (below the 3-char floor) are treated as
// identical; one empty against one non-empty is zero overlap.
func JaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(content string) map[string]bool {
	toks := tokenize(content)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}

// AdaptiveThreshold returns the maximum Hamming distance still worth a
// Jaccard confirmation, scaled by content length: short content's
// fingerprint is noisier, so it needs a tighter distance bound.
func AdaptiveThreshold(contentLen int) int {
	switch {
	case contentLen <= 50:
		return 2
	case contentLen <= 200:
		return 3
	case contentLen <= 500:
		return 4
	default:
		return 5
	}
}

const jaccardThreshold = 0.8

// DuplicateMatch describes why a candidate was judged a duplicate of an
// existing memory, or that it was not.
type DuplicateMatch struct {
	Kind     DuplicateKind
	Of       string // existing memory ID
	Distance int
	Jaccard  float64
}

// DuplicateKind enumerates how a duplicate was detected.
type DuplicateKind int

const (
	// NoDuplicate means the candidate is new content.
	NoDuplicate DuplicateKind = iota
	// ExactDuplicate means the candidate's content hash matches exactly.
	ExactDuplicate
	// NearDuplicate means SimHash distance and Jaccard overlap both passed.
	NearDuplicate
)

// IsDuplicate reports whether the match found an existing memory to
// dedup against.
func (d DuplicateMatch) IsDuplicate() bool { return d.Kind != NoDuplicate }

// candidate is the set of content-derived fields a dedup check is run
// against; computed once per candidate and reused across every existing
// memory it's compared to.
type candidate struct {
	content string
	hash    string
	simhash uint64
}

func newCandidate(content string) candidate {
	return candidate{content: content, hash: ContentHash(content), simhash: SimHash64(content)}
}

// matchAgainst runs the three-level check (exact hash, then SimHash
// distance gated by Jaccard confirmation) against one existing memory.
func (c candidate) matchAgainst(existingID, existingContent, existingHash string, existingSimHash uint64) DuplicateMatch {
	if c.hash == existingHash {
		return DuplicateMatch{Kind: ExactDuplicate, Of: existingID}
	}

	distance := HammingDistance(c.simhash, existingSimHash)
	threshold := AdaptiveThreshold(len(c.content))
	if distance > threshold {
		return DuplicateMatch{Kind: NoDuplicate}
	}

	jaccard := JaccardSimilarity(c.content, existingContent)
	if jaccard >= jaccardThreshold {
		return DuplicateMatch{Kind: NearDuplicate, Of: existingID, Distance: distance, Jaccard: jaccard}
	}
	return DuplicateMatch{Kind: NoDuplicate}
}

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimHash64_Identical(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog"
	assert.Equal(t, SimHash64(text), SimHash64(text))
}

func TestSimHash64_SimilarTextsAreClose(t *testing.T) {
	a := SimHash64("The quick brown fox jumps over the lazy dog")
	b := SimHash64("The quick brown fox jumps over a lazy dog")
	assert.Less(t, HammingDistance(a, b), 10)
}

func TestSimHash64_DifferentTextsAreFar(t *testing.T) {
	a := SimHash64("The quick brown fox jumps over the lazy dog")
	b := SimHash64("Completely unrelated content about programming")
	assert.Greater(t, HammingDistance(a, b), 10)
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance(0b1010, 0b1010))
	assert.Equal(t, 4, HammingDistance(0b1010, 0b0101))
	assert.Equal(t, 4, HammingDistance(0b1111, 0b0000))
}

func TestJaccardSimilarity_Identical(t *testing.T) {
	text := "hello world foo bar"
	assert.Equal(t, 1.0, JaccardSimilarity(text, text))
}

func TestJaccardSimilarity_Similar(t *testing.T) {
	sim := JaccardSimilarity("hello world foo bar", "hello world foo baz")
	assert.Greater(t, sim, 0.5)
	assert.Less(t, sim, 1.0)
}

func TestJaccardSimilarity_Empty(t *testing.T) {
	assert.Equal(t, 1.0, JaccardSimilarity("", ""))
	// "hello world" tokenizes to two tokens; "" tokenizes to none: zero overlap.
	assert.Equal(t, 0.0, JaccardSimilarity("hello world", ""))
}

func TestAdaptiveThreshold(t *testing.T) {
	assert.Equal(t, 2, AdaptiveThreshold(10))
	assert.Equal(t, 3, AdaptiveThreshold(100))
	assert.Equal(t, 4, AdaptiveThreshold(300))
	assert.Equal(t, 5, AdaptiveThreshold(1000))
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash("hello world")
	b := ContentHash("hello world")
	c := ContentHash("different")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestCandidate_MatchAgainst_Exact(t *testing.T) {
	content := "test content for deduplication"
	c := newCandidate(content)

	match := c.matchAgainst("existing-id", content, c.hash, c.simhash)
	assert.Equal(t, ExactDuplicate, match.Kind)
	assert.Equal(t, "existing-id", match.Of)
}

func TestCandidate_MatchAgainst_NearDuplicateViaSimhash(t *testing.T) {
	content := "The user prefers using TypeScript over JavaScript for new projects"
	c := newCandidate(content)

	// Same content, different stored hash (simulating a hash collision edge
	// case): should still be caught by the SimHash/Jaccard path.
	match := c.matchAgainst("existing-id", content, "different-hash", c.simhash)
	assert.True(t, match.IsDuplicate())
	assert.Equal(t, NearDuplicate, match.Kind)
}

func TestCandidate_MatchAgainst_Different(t *testing.T) {
	c := newCandidate("The user prefers using TypeScript over JavaScript")
	other := newCandidate("Database connection pooling configuration settings")

	match := c.matchAgainst("existing-id", other.content, other.hash, other.simhash)
	assert.False(t, match.IsDuplicate())
	assert.Equal(t, NoDuplicate, match.Kind)
}

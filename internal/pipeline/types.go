// Package pipeline implements the three-stage indexing pipeline: parse, embed,
// and write. Stages run as concurrently scheduled goroutines connected by
// bounded channels, so embedding latency for one file never blocks parsing or
// writing of others (SPEC_FULL.md §4.5).
package pipeline

import (
	"time"

	"github.com/ccengram/ccengram/internal/store"
)

// Config bounds the pipeline's batching and backpressure behavior.
type Config struct {
	// EmbeddingBatchSize is the text count threshold that fires a batch.
	EmbeddingBatchSize int
	// EmbeddingBatchTimeout is the time threshold that fires a partial batch.
	EmbeddingBatchTimeout time.Duration
	// DBFlushCount is the accumulated chunk count threshold that flushes to the store.
	DBFlushCount int
	// DBFlushTimeout is the time threshold that flushes a partial accumulation.
	DBFlushTimeout time.Duration
}

// WithDefaults fills zero-valued fields with the pipeline's defaults.
func (c Config) WithDefaults() Config {
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = 32
	}
	if c.EmbeddingBatchTimeout <= 0 {
		c.EmbeddingBatchTimeout = 2 * time.Second
	}
	if c.DBFlushCount <= 0 {
		c.DBFlushCount = 256
	}
	if c.DBFlushTimeout <= 0 {
		c.DBFlushTimeout = 5 * time.Second
	}
	return c
}

// maxInFlight bounds concurrently outstanding embedding batches: the embedder
// never holds more than embedding_batch_size * 4 outstanding embed calls.
func (c Config) maxInFlight() int {
	return c.EmbeddingBatchSize * 4
}

// ParsedFile is the parser stage's output: a chunked file plus enough
// bookkeeping for the embedder to skip chunks whose vector is already cached.
type ParsedFile struct {
	File *store.File
	// Chunks is every chunk for this file, in order. Content reflects any
	// contextual enrichment already applied.
	Chunks []*store.Chunk
	// ExistingEmbeddings holds cached vectors keyed by chunk ID, for chunks
	// whose content (and therefore ID) hasn't changed since the last index.
	ExistingEmbeddings map[string][]float32
	// NeedsEmbedding lists indices into Chunks whose ID was not found in
	// ExistingEmbeddings and must be sent to the embedding provider.
	NeedsEmbedding []int
}

func (p *ParsedFile) chunkCount() int {
	return len(p.Chunks)
}

// EmbeddedFile is the embedder stage's output: a file whose chunks all carry
// a final vector, ready for the writer stage to persist.
type EmbeddedFile struct {
	File    *store.File
	Chunks  []*store.Chunk
	Vectors [][]float32
}

func (e *EmbeddedFile) chunkCount() int {
	return len(e.Chunks)
}

// Stats summarizes one pipeline run, returned once the writer stage drains.
type Stats struct {
	FilesParsed    int
	FilesWritten   int
	ChunksWritten  int
	BatchesFired   int
	BatchesFailed  int
	ParseErrors    int
}

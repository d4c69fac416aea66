package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ccengram/ccengram/internal/embed"
	"github.com/ccengram/ccengram/internal/metrics"
)

// pendingBatch holds the files assigned to one in-flight embedding batch,
// along with the flattened list of texts actually sent to the provider.
type pendingBatch struct {
	files        []*ParsedFile
	textsToEmbed []string
}

func (b *pendingBatch) addFile(pf *ParsedFile) {
	for _, idx := range pf.NeedsEmbedding {
		b.textsToEmbed = append(b.textsToEmbed, pf.Chunks[idx].Content)
	}
	b.files = append(b.files, pf)
}

func (b *pendingBatch) textCount() int { return len(b.textsToEmbed) }
func (b *pendingBatch) isEmpty() bool  { return len(b.files) == 0 }

// finalize zips embedded vectors back onto each file's chunks in order: a
// newly embedded vector, a cached vector from ExistingEmbeddings, or a zero
// vector if neither applies.
func (b *pendingBatch) finalize(embeddings [][]float32, dim int) []*EmbeddedFile {
	idx := 0
	next := func() []float32 {
		if idx < len(embeddings) {
			v := embeddings[idx]
			idx++
			return v
		}
		return make([]float32, dim)
	}

	out := make([]*EmbeddedFile, 0, len(b.files))
	for _, pf := range b.files {
		needsSet := make(map[int]bool, len(pf.NeedsEmbedding))
		for _, i := range pf.NeedsEmbedding {
			needsSet[i] = true
		}

		vectors := make([][]float32, len(pf.Chunks))
		for i, c := range pf.Chunks {
			switch {
			case needsSet[i]:
				vectors[i] = next()
			case pf.ExistingEmbeddings != nil:
				if v, ok := pf.ExistingEmbeddings[c.ID]; ok {
					vectors[i] = v
				} else {
					vectors[i] = make([]float32, dim)
				}
			default:
				vectors[i] = make([]float32, dim)
			}
		}

		out = append(out, &EmbeddedFile{File: pf.File, Chunks: pf.Chunks, Vectors: vectors})
	}
	return out
}

// batchBuilder accumulates ParsedFiles until a size or time threshold fires.
type batchBuilder struct {
	current pendingBatch
	size    int
	lastAdd time.Time
}

func newBatchBuilder(size int) *batchBuilder {
	return &batchBuilder{size: size, lastAdd: time.Now()}
}

func (bb *batchBuilder) add(pf *ParsedFile) {
	bb.current.addFile(pf)
	bb.lastAdd = time.Now()
}

func (bb *batchBuilder) shouldFlushSize() bool { return bb.current.textCount() >= bb.size }

func (bb *batchBuilder) shouldFlushTime(timeout time.Duration) bool {
	return !bb.current.isEmpty() && time.Since(bb.lastAdd) >= timeout
}

func (bb *batchBuilder) take() pendingBatch {
	batch := bb.current
	bb.current = pendingBatch{}
	bb.lastAdd = time.Now()
	return batch
}

func (bb *batchBuilder) isEmpty() bool { return bb.current.isEmpty() }

type batchResult struct {
	id     uint64
	result [][]float32
	err    error
}

// runEmbedder accumulates parsed files into batches, firing each to the
// embedding provider on its own goroutine so multiple batches can be
// in flight concurrently; completions are reassembled out of order by
// batch id. On input closure, it flushes any remainder, drains every
// still-in-flight batch, then closes out.
func runEmbedder(ctx context.Context, cfg Config, embedder embed.Embedder, in <-chan *ParsedFile, out chan<- *EmbeddedFile) (fired, failed int) {
	defer close(out)

	dim := embedder.Dimensions()
	builder := newBatchBuilder(cfg.EmbeddingBatchSize)
	ticker := time.NewTicker(cfg.EmbeddingBatchTimeout)
	defer ticker.Stop()

	var nextBatchID uint64
	pending := make(map[uint64]pendingBatch)
	results := make(chan batchResult, cfg.maxInFlight())

	fire := func() {
		id := nextBatchID
		nextBatchID++
		batch := builder.take()
		pending[id] = batch
		fired++

		if batch.textCount() == 0 {
			go func() { results <- batchResult{id: id, result: nil} }()
			return
		}

		texts := batch.textsToEmbed
		go func() {
			vectors, err := embedder.EmbedBatch(ctx, texts)
			results <- batchResult{id: id, result: vectors, err: err}
		}()
	}

	handleResult := func(r batchResult) {
		batch, ok := pending[r.id]
		if !ok {
			slog.Warn("pipeline: embedder got result for unknown batch", slog.Uint64("batch_id", r.id))
			return
		}
		delete(pending, r.id)

		vectors := r.result
		outcome := "success"
		if r.err != nil {
			slog.Warn("pipeline: embedding batch failed, using zero vectors",
				slog.Uint64("batch_id", r.id), slog.String("error", r.err.Error()))
			vectors = make([][]float32, batch.textCount())
			for i := range vectors {
				vectors[i] = make([]float32, dim)
			}
			failed++
			outcome = "failed"
		}
		metrics.Default().PipelineBatchesTotal.WithLabelValues("embed", outcome).Inc()

		for _, ef := range batch.finalize(vectors, dim) {
			select {
			case out <- ef:
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return fired, failed

		case pf, ok := <-in:
			if !ok {
				if !builder.isEmpty() {
					fire()
				}
				for len(pending) > 0 {
					select {
					case r := <-results:
						handleResult(r)
					case <-ctx.Done():
						return fired, failed
					}
				}
				return fired, failed
			}
			builder.add(pf)
			if builder.shouldFlushSize() {
				fire()
			}

		case r := <-results:
			handleResult(r)

		case <-ticker.C:
			if builder.shouldFlushTime(cfg.EmbeddingBatchTimeout) {
				fire()
			}
		}
	}
}

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ccengram/ccengram/internal/metrics"
	"github.com/ccengram/ccengram/internal/store"
)

// writeAccumulator buffers embedded files until a chunk-count or time
// threshold is reached, then hands them to flushToStore as one transaction
// batch per file.
type writeAccumulator struct {
	files        []*EmbeddedFile
	chunkCount   int
	lastActivity time.Time
}

func newWriteAccumulator() *writeAccumulator {
	return &writeAccumulator{lastActivity: time.Now()}
}

func (a *writeAccumulator) add(f *EmbeddedFile) {
	a.chunkCount += f.chunkCount()
	a.files = append(a.files, f)
	a.lastActivity = time.Now()
}

func (a *writeAccumulator) shouldFlushCount(threshold int) bool { return a.chunkCount >= threshold }

func (a *writeAccumulator) shouldFlushTime(timeout time.Duration) bool {
	return len(a.files) > 0 && time.Since(a.lastActivity) >= timeout
}

func (a *writeAccumulator) take() []*EmbeddedFile {
	files := a.files
	a.files = nil
	a.chunkCount = 0
	a.lastActivity = time.Now()
	return files
}

func (a *writeAccumulator) isEmpty() bool { return len(a.files) == 0 }

// runWriter accumulates embedded files and periodically flushes them to the
// metadata store. It returns aggregate stats once in closes or ctx is
// cancelled; either way it flushes whatever remained buffered first.
func runWriter(ctx context.Context, cfg Config, metadata store.MetadataStore, model string, in <-chan *EmbeddedFile) Stats {
	acc := newWriteAccumulator()
	ticker := time.NewTicker(cfg.DBFlushTimeout)
	defer ticker.Stop()

	var stats Stats

	flush := func() {
		files := acc.take()
		written, chunks := flushToStore(ctx, metadata, model, files)
		stats.FilesWritten += written
		stats.ChunksWritten += chunks
	}

	for {
		select {
		case <-ctx.Done():
			if !acc.isEmpty() {
				flush()
			}
			return stats

		case f, ok := <-in:
			if !ok {
				if !acc.isEmpty() {
					flush()
				}
				return stats
			}
			acc.add(f)
			if acc.shouldFlushCount(cfg.DBFlushCount) {
				flush()
			}

		case <-ticker.C:
			if acc.shouldFlushTime(cfg.DBFlushTimeout) {
				flush()
			}
		}
	}
}

// flushToStore writes one batch of embedded files: each file's existing
// chunks are deleted, its new chunks and their vectors are saved, and its
// file record is upserted so startup reconciliation sees the new mtime/hash.
// A failure on one file is logged and does not abort the rest of the batch.
func flushToStore(ctx context.Context, metadata store.MetadataStore, model string, files []*EmbeddedFile) (filesWritten, chunksWritten int) {
	if len(files) == 0 {
		return 0, 0
	}

	for _, f := range files {
		if err := metadata.DeleteChunksByFile(ctx, f.File.ID); err != nil {
			slog.Warn("pipeline: failed to delete existing chunks",
				slog.String("path", f.File.Path), slog.String("error", err.Error()))
		}

		if err := metadata.SaveFiles(ctx, []*store.File{f.File}); err != nil {
			slog.Error("pipeline: failed to save file record",
				slog.String("path", f.File.Path), slog.String("error", err.Error()))
			continue
		}
		if err := metadata.SaveChunks(ctx, f.Chunks); err != nil {
			slog.Error("pipeline: failed to save chunks",
				slog.String("path", f.File.Path), slog.String("error", err.Error()))
			continue
		}

		chunkIDs := make([]string, len(f.Chunks))
		for i, c := range f.Chunks {
			chunkIDs[i] = c.ID
		}
		if err := metadata.SaveChunkEmbeddings(ctx, chunkIDs, f.Vectors, model); err != nil {
			slog.Error("pipeline: failed to save embeddings",
				slog.String("path", f.File.Path), slog.String("error", err.Error()))
			continue
		}

		filesWritten++
		chunksWritten += len(f.Chunks)
	}

	outcome := "success"
	if filesWritten < len(files) {
		outcome = "partial"
	}
	metrics.Default().PipelineBatchesTotal.WithLabelValues("write", outcome).Inc()

	return filesWritten, chunksWritten
}

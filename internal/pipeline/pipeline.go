package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ccengram/ccengram/internal/embed"
	"github.com/ccengram/ccengram/internal/scanner"
	"github.com/ccengram/ccengram/internal/store"
)

// Pipeline wires the parser, embedder, and writer stages together over
// bounded channels:
//
//	Scanner results → Parser → Embedder → Writer → Store
//
// Channel capacities are the pipeline's memory bound: the embedder never
// holds more than Config.maxInFlight() outstanding embed calls, and the
// parser-to-embedder and embedder-to-writer channels are each capped at the
// embedding batch size so a slow stage applies backpressure to the one
// feeding it instead of buffering without bound.
type Pipeline struct {
	deps     ParserDeps
	embedder embed.Embedder
	metadata store.MetadataStore
	cfg      Config
}

// New creates a Pipeline. cfg's zero fields fall back to Config.WithDefaults().
func New(deps ParserDeps, embedder embed.Embedder, metadata store.MetadataStore, cfg Config) *Pipeline {
	return &Pipeline{
		deps:     deps,
		embedder: embedder,
		metadata: metadata,
		cfg:      cfg.WithDefaults(),
	}
}

// Run processes files through all three stages and returns once the writer
// has flushed everything (or ctx was cancelled). Stage errors other than
// per-file/per-batch failures (which are logged and skipped) are returned
// through the errgroup.
func (p *Pipeline) Run(ctx context.Context, files []*scanner.FileInfo) (Stats, error) {
	parsedCh := make(chan *ParsedFile, p.cfg.EmbeddingBatchSize)
	embeddedCh := make(chan *EmbeddedFile, p.cfg.EmbeddingBatchSize)

	var stats Stats
	var embedFired, embedFailed int

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		parsed, errored := runParser(gctx, p.deps, files, parsedCh)
		stats.FilesParsed = parsed
		stats.ParseErrors = errored
		return nil
	})

	g.Go(func() error {
		embedFired, embedFailed = runEmbedder(gctx, p.cfg, p.embedder, parsedCh, embeddedCh)
		return nil
	})

	var writerStats Stats
	g.Go(func() error {
		writerStats = runWriter(gctx, p.cfg, p.metadata, p.embedder.ModelName(), embeddedCh)
		return nil
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}

	stats.BatchesFired = embedFired
	stats.BatchesFailed = embedFailed
	stats.FilesWritten = writerStats.FilesWritten
	stats.ChunksWritten = writerStats.ChunksWritten

	slog.Info("pipeline run complete",
		slog.Int("files_parsed", stats.FilesParsed),
		slog.Int("files_written", stats.FilesWritten),
		slog.Int("chunks_written", stats.ChunksWritten),
		slog.Int("batches_fired", stats.BatchesFired),
		slog.Int("batches_failed", stats.BatchesFailed),
		slog.Int("parse_errors", stats.ParseErrors))

	return stats, nil
}

// RunEmbedAndWrite drives just the embedder and writer stages over an
// already-parsed (and, if applicable, already contextually enriched) set of
// files. Callers that chunk files themselves (the full-project Runner does,
// to interleave contextual enrichment before embedding) use this instead of
// Run to skip a redundant read-and-chunk pass while still getting the
// concurrent in-flight batching and bounded-accumulator write behavior.
func RunEmbedAndWrite(ctx context.Context, cfg Config, embedder embed.Embedder, metadata store.MetadataStore, files []*ParsedFile) Stats {
	cfg = cfg.WithDefaults()
	parsedCh := make(chan *ParsedFile, cfg.EmbeddingBatchSize)
	embeddedCh := make(chan *EmbeddedFile, cfg.EmbeddingBatchSize)

	var embedFired, embedFailed int
	var writerStats Stats

	done := make(chan struct{})
	go func() {
		defer close(done)
		writerStats = runWriter(ctx, cfg, metadata, embedder.ModelName(), embeddedCh)
	}()

	go func() {
		embedFired, embedFailed = runEmbedder(ctx, cfg, embedder, parsedCh, embeddedCh)
	}()

	go func() {
		defer close(parsedCh)
		for _, f := range files {
			select {
			case parsedCh <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	<-done

	writerStats.BatchesFired = embedFired
	writerStats.BatchesFailed = embedFailed
	writerStats.FilesParsed = len(files)
	return writerStats
}

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/ccengram/ccengram/internal/chunk"
	"github.com/ccengram/ccengram/internal/scanner"
	"github.com/ccengram/ccengram/internal/store"
)

// EnrichFunc optionally rewrites a file's chunks in place (e.g. contextual
// retrieval's prepended context) before chunk IDs are checked against cached
// embeddings. A nil EnrichFunc disables enrichment.
type EnrichFunc func(ctx context.Context, chunks []*store.Chunk) error

// ParserDeps are the parser stage's dependencies.
type ParserDeps struct {
	ProjectID       string
	CodeChunker     chunk.Chunker
	MarkdownChunker chunk.Chunker
	Metadata        store.MetadataStore
	FileID          func(path string) string
	Enrich          EnrichFunc
}

// runParser reads, chunks, and (optionally) contextually enriches each file,
// emitting a ParsedFile per file that produced at least one chunk. Closing
// out is this stage's equivalent of the upstream pipeline's explicit Done
// marker: the next stage range()s over the channel until it closes.
func runParser(ctx context.Context, deps ParserDeps, files []*scanner.FileInfo, out chan<- *ParsedFile) (parsed, errored int) {
	defer close(out)

	for _, f := range files {
		select {
		case <-ctx.Done():
			return parsed, errored
		default:
		}

		pf, err := parseOne(ctx, deps, f)
		if err != nil {
			slog.Warn("pipeline: failed to parse file",
				slog.String("path", f.Path), slog.String("error", err.Error()))
			errored++
			continue
		}
		if pf == nil {
			continue
		}

		select {
		case out <- pf:
			parsed++
		case <-ctx.Done():
			return parsed, errored
		}
	}
	return parsed, errored
}

func parseOne(ctx context.Context, deps ParserDeps, f *scanner.FileInfo) (*ParsedFile, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var chunker chunk.Chunker
	switch f.ContentType {
	case scanner.ContentTypeCode:
		chunker = deps.CodeChunker
	case scanner.ContentTypeMarkdown:
		chunker = deps.MarkdownChunker
	default:
		return nil, nil
	}

	rawChunks, err := chunker.Chunk(ctx, &chunk.FileInput{
		Path:     f.Path,
		Content:  content,
		Language: f.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to chunk file: %w", err)
	}
	if len(rawChunks) == 0 {
		return nil, nil
	}

	fileID := deps.FileID(f.Path)

	storeChunks := make([]*store.Chunk, len(rawChunks))
	for i, c := range rawChunks {
		storeChunks[i] = &store.Chunk{
			ID:          c.ID,
			FileID:      fileID,
			FilePath:    f.Path,
			Content:     c.Content,
			RawContent:  c.RawContent,
			Context:     c.Context,
			ContentType: store.ContentType(c.ContentType),
			Language:    c.Language,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Metadata:    c.Metadata,
		}
	}

	if deps.Enrich != nil {
		if err := deps.Enrich(ctx, storeChunks); err != nil {
			slog.Debug("pipeline: contextual enrichment failed, using raw content",
				slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}

	chunkIDs := make([]string, len(storeChunks))
	for i, c := range storeChunks {
		chunkIDs[i] = c.ID
	}
	existing, err := deps.Metadata.GetEmbeddingsByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to look up cached embeddings: %w", err)
	}

	var needsEmbedding []int
	for i, c := range storeChunks {
		if _, ok := existing[c.ID]; !ok {
			needsEmbedding = append(needsEmbedding, i)
		}
	}

	file := &store.File{
		ID:          fileID,
		ProjectID:   deps.ProjectID,
		Path:        f.Path,
		Size:        f.Size,
		ModTime:     f.ModTime,
		ContentHash: contentHash(content),
		Language:    f.Language,
		ContentType: string(f.ContentType),
	}

	return &ParsedFile{
		File:               file,
		Chunks:             storeChunks,
		ExistingEmbeddings: existing,
		NeedsEmbedding:     needsEmbedding,
	}, nil
}

func contentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

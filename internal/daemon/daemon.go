package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/embed"
	"github.com/ccengram/ccengram/internal/search"
	"github.com/ccengram/ccengram/internal/store"
)

// projectState holds one project's loaded stores and search engine, kept
// warm in memory for the lifetime of the daemon or until evicted.
type projectState struct {
	rootPath string
	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
	engine   *search.Engine
	lastUsed time.Time
}

// Close releases every resource held by a project, logging (rather than
// failing) individual close errors so one broken component doesn't prevent
// cleanup of the others.
func (p *projectState) Close() error {
	var firstErr error
	record := func(name string, err error) {
		if err == nil {
			return
		}
		slog.Warn("error closing project resource",
			slog.String("project", p.rootPath), slog.String("resource", name), slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}
	record("vector", p.vector.Close())
	record("bm25", p.bm25.Close())
	record("embedder", p.embedder.Close())
	record("metadata", p.metadata.Close())
	return firstErr
}

// Daemon hosts the warm-project cache, the Unix-socket RPC server, and the
// background compaction and scheduler loops that run across all loaded
// projects (§4.10).
type Daemon struct {
	cfg Config

	mu       sync.RWMutex
	projects map[string]*projectState

	server     *Server
	compaction *CompactionManager
	scheduler  *Scheduler
	pidFile    *PIDFile

	started time.Time
}

// NewDaemon creates a daemon bound to the given configuration. The socket
// and PID file are not created until Start is called.
func NewDaemon(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	server, err := NewServer(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		projects: make(map[string]*projectState),
		server:   server,
		pidFile:  NewPIDFile(cfg.PIDPath),
	}
	d.compaction = NewCompactionManager(d, defaultCompactionConfig())
	d.scheduler = NewScheduler(d, DefaultSchedulerConfig())
	server.SetHandler(d)
	return d, nil
}

// defaultCompactionConfig mirrors config.NewConfig's Compaction defaults
// without requiring a full project config.Config to be loaded up front —
// the daemon serves many projects, each of which loads its own config.
func defaultCompactionConfig() config.CompactionConfig {
	return config.NewConfig().Compaction
}

// Start runs the daemon until ctx is cancelled or SIGTERM/SIGINT is
// received, then shuts down gracefully: the compaction manager and
// scheduler are stopped, all loaded projects are closed, and the PID file
// and socket are removed.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	d.started = time.Now()
	d.compaction.Start(ctx)
	defer d.compaction.Stop()

	go d.scheduler.Run(ctx)

	err := d.server.ListenAndServe(ctx)

	d.mu.Lock()
	for path, ps := range d.projects {
		_ = ps.Close()
		delete(d.projects, path)
	}
	d.mu.Unlock()

	if err != nil && ctx.Err() != nil {
		// Context cancellation (signal or caller) is an orderly shutdown,
		// not a failure worth surfacing to the caller.
		return nil
	}
	return err
}

// getOrCreateProject loads (or returns the already-warm) state for a
// project root, evicting the least-recently-used project first if the
// cache is at capacity. Mirrors the store/search construction in the `ccengram
// search` CLI path (cmd/ccengram/cmd/search.go's runLocalSearch).
func (d *Daemon) getOrCreateProject(ctx context.Context, rootPath string) (*projectState, error) {
	d.mu.Lock()
	if ps, ok := d.projects[rootPath]; ok {
		ps.lastUsed = time.Now()
		d.mu.Unlock()
		return ps, nil
	}
	d.mu.Unlock()

	ps, err := d.loadProject(ctx, rootPath)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.projects[rootPath]; ok {
		// Lost a race with another request loading the same project: keep
		// the one already registered, discard the one we just built.
		_ = ps.Close()
		existing.lastUsed = time.Now()
		return existing, nil
	}

	if len(d.projects) >= d.cfg.MaxProjects {
		d.evictLRULocked()
	}
	d.projects[rootPath] = ps
	return ps, nil
}

// evictLRULocked removes the least-recently-used project. Caller must hold d.mu.
func (d *Daemon) evictLRULocked() {
	var oldestPath string
	var oldestTime time.Time
	for path, ps := range d.projects {
		if oldestPath == "" || ps.lastUsed.Before(oldestTime) {
			oldestPath = path
			oldestTime = ps.lastUsed
		}
	}
	if oldestPath == "" {
		return
	}
	slog.Debug("evicting least-recently-used project", slog.String("project", oldestPath))
	_ = d.projects[oldestPath].Close()
	delete(d.projects, oldestPath)
}

func (d *Daemon) loadProject(ctx context.Context, rootPath string) (*projectState, error) {
	dataDir := filepath.Join(rootPath, ".ccengram")

	cfg, err := config.Load(rootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25Config := store.DefaultBM25Config()
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, bm25Config, cfg.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		_ = embedder.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("project", rootPath), slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		engineConfig.DefaultWeights = search.Weights{BM25: cfg.Search.BM25Weight, Semantic: cfg.Search.SemanticWeight}
	}
	engine, err := search.NewEngine(bm25, vector, embedder, metadata, engineConfig,
		search.WithMultiQuerySearch(search.NewPatternDecomposer()))
	if err != nil {
		_ = vector.Close()
		_ = embedder.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to build search engine: %w", err)
	}

	return &projectState{
		rootPath: rootPath,
		metadata: metadata,
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		engine:   engine,
		lastUsed: time.Now(),
	}, nil
}

// HandleSearch implements RequestHandler.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	d.compaction.InterruptCompaction(params.RootPath)

	ps, err := d.getOrCreateProject(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	opts := search.SearchOptions{
		Limit:    params.Limit,
		Filter:   params.Filter,
		Language: params.Language,
		Scopes:   params.Scopes,
		BM25Only: params.BM25Only,
		Explain:  params.Explain,
	}

	results, err := ps.engine.Search(ctx, params.Query, opts)
	if err != nil {
		return nil, err
	}

	d.compaction.OnSearchComplete(params.RootPath)

	out := make([]SearchResult, 0, len(results))
	for i, r := range results {
		sr := SearchResult{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Content:   r.Chunk.Content,
			Language:  r.Chunk.Language,
			BM25Score: r.BM25Score,
			VecScore:  r.VecScore,
			BM25Rank:  r.BM25Rank,
			VecRank:   r.VecRank,
		}
		if i == 0 && r.Explain != nil {
			sr.Explain = &ExplainData{
				Query:             r.Explain.Query,
				BM25ResultCount:   r.Explain.BM25ResultCount,
				VectorResultCount: r.Explain.VectorResultCount,
				BM25Weight:        r.Explain.Weights.BM25,
				SemanticWeight:    r.Explain.Weights.Semantic,
				RRFConstant:       r.Explain.RRFConstant,
				BM25Only:          r.Explain.BM25Only,
				DimensionMismatch: r.Explain.DimensionMismatch,
			}
		}
		out = append(out, sr)
	}
	return out, nil
}

// warmMetadataStores returns a projectID -> store snapshot of every
// currently loaded project, for the scheduler's sweeps.
func (d *Daemon) warmMetadataStores() map[string]store.MetadataStore {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]store.MetadataStore, len(d.projects))
	for rootPath, ps := range d.projects {
		out[projectID(rootPath)] = ps.metadata
	}
	return out
}

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := StatusResult{
		Running:        true,
		ProjectsLoaded: len(d.projects),
		EmbedderType:   "none",
		EmbedderStatus: "not_loaded",
	}
	for _, ps := range d.projects {
		status.EmbedderType = ps.embedder.ModelName()
		status.EmbedderStatus = "ready"
		break
	}
	return status
}

package daemon

import (
	"context"
	"time"

	"github.com/ccengram/ccengram/internal/store"
)

// fakeMetadataStore is a minimal store.MetadataStore fake for daemon tests:
// real logic only for the methods the scheduler drives (decay, session
// cleanup); everything else is a no-op stub purely to satisfy the interface.
type fakeMetadataStore struct {
	memories          []*store.Memory
	decayCalls        int
	salienceUpdates   map[string]float64
	cleanupCalls      int
	sessionsRemoved   int
	cleanupErr        error
	listForDecayErr   error
}

func (s *fakeMetadataStore) ListMemoriesForDecay(ctx context.Context, projectID string, before time.Time, limit int) ([]*store.Memory, error) {
	s.decayCalls++
	if s.listForDecayErr != nil {
		return nil, s.listForDecayErr
	}
	if limit > 0 && limit < len(s.memories) {
		return s.memories[:limit], nil
	}
	return s.memories, nil
}
func (s *fakeMetadataStore) UpdateMemorySalience(ctx context.Context, id string, salience, decayRate float64, nextDecayAt time.Time) error {
	if s.salienceUpdates == nil {
		s.salienceUpdates = make(map[string]float64)
	}
	s.salienceUpdates[id] = salience
	return nil
}
func (s *fakeMetadataStore) CleanupSessions(ctx context.Context, olderThan time.Time) (int, error) {
	s.cleanupCalls++
	if s.cleanupErr != nil {
		return 0, s.cleanupErr
	}
	return s.sessionsRemoved, nil
}

func (s *fakeMetadataStore) SaveMemory(ctx context.Context, m *store.Memory) error { return nil }
func (s *fakeMetadataStore) GetMemory(ctx context.Context, id string) (*store.Memory, error) {
	return nil, nil
}
func (s *fakeMetadataStore) FindMemoryByContentHash(ctx context.Context, projectID, contentHash string) (*store.Memory, error) {
	return nil, nil
}
func (s *fakeMetadataStore) ListMemoriesBySimHashNeighborhood(ctx context.Context, projectID string, sector store.MemorySector) ([]*store.Memory, error) {
	return nil, nil
}
func (s *fakeMetadataStore) SupersedeMemory(ctx context.Context, oldID, newID string) error {
	return nil
}
func (s *fakeMetadataStore) PromoteMemory(ctx context.Context, id string) (bool, error) {
	return false, nil
}
func (s *fakeMetadataStore) SoftDeleteMemory(ctx context.Context, id string) error { return nil }
func (s *fakeMetadataStore) TouchMemoryAccess(ctx context.Context, id string) error { return nil }
func (s *fakeMetadataStore) DeleteMemoriesBySession(ctx context.Context, sessionID string) error {
	return nil
}
func (s *fakeMetadataStore) SaveRelationship(ctx context.Context, rel *store.MemoryRelationship) error {
	return nil
}
func (s *fakeMetadataStore) ListRelationships(ctx context.Context, memoryID string) ([]*store.MemoryRelationship, error) {
	return nil, nil
}
func (s *fakeMetadataStore) DeleteRelationship(ctx context.Context, id string) error { return nil }

func (s *fakeMetadataStore) SaveProject(ctx context.Context, p *store.Project) error { return nil }
func (s *fakeMetadataStore) GetProject(ctx context.Context, id string) (*store.Project, error) {
	return nil, nil
}
func (s *fakeMetadataStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	return nil
}
func (s *fakeMetadataStore) RefreshProjectStats(ctx context.Context, id string) error { return nil }
func (s *fakeMetadataStore) SaveFiles(ctx context.Context, files []*store.File) error { return nil }
func (s *fakeMetadataStore) GetFileByPath(ctx context.Context, projectID, path string) (*store.File, error) {
	return nil, nil
}
func (s *fakeMetadataStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*store.File, error) {
	return nil, nil
}
func (s *fakeMetadataStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*store.File, string, error) {
	return nil, "", nil
}
func (s *fakeMetadataStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	return nil, nil
}
func (s *fakeMetadataStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*store.File, error) {
	return nil, nil
}
func (s *fakeMetadataStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	return nil, nil
}
func (s *fakeMetadataStore) DeleteFile(ctx context.Context, fileID string) error             { return nil }
func (s *fakeMetadataStore) DeleteFilesByProject(ctx context.Context, projectID string) error { return nil }
func (s *fakeMetadataStore) RenameFile(ctx context.Context, projectID, oldPath, newPath, newFileID string, modTime time.Time, size int64) error {
	return nil
}
func (s *fakeMetadataStore) SaveChunks(ctx context.Context, chunks []*store.Chunk) error { return nil }
func (s *fakeMetadataStore) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return nil, nil
}
func (s *fakeMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	return nil, nil
}
func (s *fakeMetadataStore) GetChunksByFile(ctx context.Context, fileID string) ([]*store.Chunk, error) {
	return nil, nil
}
func (s *fakeMetadataStore) DeleteChunks(ctx context.Context, ids []string) error        { return nil }
func (s *fakeMetadataStore) DeleteChunksByFile(ctx context.Context, fileID string) error { return nil }
func (s *fakeMetadataStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}
func (s *fakeMetadataStore) GetState(ctx context.Context, key string) (string, error) { return "", nil }
func (s *fakeMetadataStore) SetState(ctx context.Context, key, value string) error    { return nil }
func (s *fakeMetadataStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	return nil
}
func (s *fakeMetadataStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return nil, nil
}
func (s *fakeMetadataStore) GetEmbeddingsByIDs(ctx context.Context, chunkIDs []string) (map[string][]float32, error) {
	return nil, nil
}
func (s *fakeMetadataStore) GetEmbeddingStats(ctx context.Context) (int, int, error) { return 0, 0, nil }
func (s *fakeMetadataStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	return nil
}
func (s *fakeMetadataStore) LoadIndexCheckpoint(ctx context.Context) (*store.IndexCheckpoint, error) {
	return nil, nil
}
func (s *fakeMetadataStore) ClearIndexCheckpoint(ctx context.Context) error { return nil }
func (s *fakeMetadataStore) SaveSession(ctx context.Context, sess *store.Session) error { return nil }
func (s *fakeMetadataStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return nil, nil
}
func (s *fakeMetadataStore) EndSession(ctx context.Context, id string, endedAt time.Time, summary string) error {
	return nil
}
func (s *fakeMetadataStore) LinkSessionMemory(ctx context.Context, link *store.SessionMemory) error {
	return nil
}
func (s *fakeMetadataStore) ListSessionMemories(ctx context.Context, sessionID string) ([]*store.SessionMemory, error) {
	return nil, nil
}
func (s *fakeMetadataStore) FindOrCreateEntity(ctx context.Context, projectID, name string, entityType store.EntityType) (*store.Entity, error) {
	return nil, nil
}
func (s *fakeMetadataStore) RecordEntityMention(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (s *fakeMetadataStore) GetEntity(ctx context.Context, id string) (*store.Entity, error) {
	return nil, nil
}
func (s *fakeMetadataStore) ListTopEntities(ctx context.Context, projectID string, limit int) ([]*store.Entity, error) {
	return nil, nil
}
func (s *fakeMetadataStore) Close() error { return nil }

var _ store.MetadataStore = (*fakeMetadataStore)(nil)

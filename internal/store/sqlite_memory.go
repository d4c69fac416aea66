package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// --- Memory operations ---

func (s *SQLiteStore) SaveMemory(ctx context.Context, m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := marshalStrings(m.Tags)
	if err != nil {
		return err
	}
	concepts, err := marshalStrings(m.Concepts)
	if err != nil {
		return err
	}
	files, err := marshalStrings(m.Files)
	if err != nil {
		return err
	}
	categories, err := marshalStrings(m.Categories)
	if err != nil {
		return err
	}

	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, project_id, content, summary, sector, tier, memory_type, importance, salience,
			confidence, access_count, tags_json, concepts_json, files_json, categories_json,
			scope_path, session_id, segment_id, content_hash, simhash, superseded_by, decay_rate,
			next_decay_at, embedding_model, created_at, updated_at, last_accessed_at, deleted_at,
			is_deleted, valid_from, valid_until
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, summary = excluded.summary, sector = excluded.sector,
			tier = excluded.tier, memory_type = excluded.memory_type, importance = excluded.importance,
			salience = excluded.salience, confidence = excluded.confidence, access_count = excluded.access_count,
			tags_json = excluded.tags_json, concepts_json = excluded.concepts_json, files_json = excluded.files_json,
			categories_json = excluded.categories_json, scope_path = excluded.scope_path,
			content_hash = excluded.content_hash, simhash = excluded.simhash,
			superseded_by = excluded.superseded_by, decay_rate = excluded.decay_rate,
			next_decay_at = excluded.next_decay_at, updated_at = excluded.updated_at,
			last_accessed_at = excluded.last_accessed_at, deleted_at = excluded.deleted_at,
			is_deleted = excluded.is_deleted, valid_from = excluded.valid_from, valid_until = excluded.valid_until
	`, m.ID, m.ProjectID, m.Content, m.Summary, string(m.Sector), string(m.Tier), m.MemoryType,
		m.Importance, m.Salience, m.Confidence, m.AccessCount, tags, concepts, files, categories,
		m.ScopePath, nullableString(m.SessionID), nullableString(m.SegmentID), m.ContentHash, m.SimHash,
		nullableString(m.SupersededBy), m.DecayRate, timeOrNil(m.NextDecayAt), m.EmbeddingModel,
		m.CreatedAt, m.UpdatedAt, timeOrNil(m.LastAccessedAt), timeOrNil(m.DeletedAt), boolToInt(m.IsDeleted),
		timeOrNil(m.ValidFrom), timeOrNil(m.ValidUntil))
	if err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

const memoryColumns = `
	id, project_id, content, summary, sector, tier, memory_type, importance, salience,
	confidence, access_count, tags_json, concepts_json, files_json, categories_json,
	scope_path, session_id, segment_id, content_hash, simhash, superseded_by, decay_rate,
	next_decay_at, embedding_model, created_at, updated_at, last_accessed_at, deleted_at,
	is_deleted, valid_from, valid_until`

func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) FindMemoryByContentHash(ctx context.Context, projectID, contentHash string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE project_id = ? AND content_hash = ? AND is_deleted = 0 AND superseded_by IS NULL
		LIMIT 1`, projectID, contentHash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find memory by content hash: %w", err)
	}
	return m, nil
}

// ListMemoriesForDecay returns the batch of memories due for a decay sweep,
// ordered oldest-due first, bounded by limit (decay.batch_size).
func (s *SQLiteStore) ListMemoriesForDecay(ctx context.Context, projectID string, before time.Time, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE project_id = ? AND is_deleted = 0 AND next_decay_at IS NOT NULL AND next_decay_at <= ?
		ORDER BY next_decay_at ASC LIMIT ?`, projectID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories for decay: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListMemoriesBySimHashNeighborhood returns the live, non-superseded memories
// in a sector, for the caller to score by Hamming distance / Jaccard overlap.
func (s *SQLiteStore) ListMemoriesBySimHashNeighborhood(ctx context.Context, projectID string, sector MemorySector) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE project_id = ? AND sector = ? AND is_deleted = 0 AND superseded_by IS NULL`,
		projectID, string(sector))
	if err != nil {
		return nil, fmt.Errorf("failed to list memories by sector: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) UpdateMemorySalience(ctx context.Context, id string, salience, decayRate float64, nextDecayAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET salience = ?, decay_rate = ?, next_decay_at = ?, updated_at = ?
		WHERE id = ?`, salience, decayRate, nextDecayAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update memory salience: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SupersedeMemory(ctx context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET superseded_by = ?, updated_at = ? WHERE id = ?`, newID, time.Now(), oldID)
	if err != nil {
		return fmt.Errorf("failed to supersede memory: %w", err)
	}
	return nil
}

// PromoteMemory atomically promotes a memory from session to project tier.
// Returns false (no error) if the memory was already promoted or doesn't exist.
func (s *SQLiteStore) PromoteMemory(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET tier = 'project', updated_at = ? WHERE id = ? AND tier = 'session'`,
		time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to promote memory: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check promotion result: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SoftDeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ?`,
		time.Now(), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchMemoryAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch memory access: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMemoriesBySession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE session_id = ? AND tier = 'session'`, time.Now(), time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session memories: %w", err)
	}
	return nil
}

func scanMemory(scanner interface {
	Scan(dest ...any) error
}) (*Memory, error) {
	m := &Memory{}
	var sector, tier string
	var tags, concepts, files, categories sql.NullString
	var sessionID, segmentID, supersededBy sql.NullString
	var nextDecayAt, lastAccessedAt, deletedAt, validFrom, validUntil sql.NullTime
	var isDeleted int

	err := scanner.Scan(&m.ID, &m.ProjectID, &m.Content, &m.Summary, &sector, &tier, &m.MemoryType,
		&m.Importance, &m.Salience, &m.Confidence, &m.AccessCount, &tags, &concepts, &files, &categories,
		&m.ScopePath, &sessionID, &segmentID, &m.ContentHash, &m.SimHash, &supersededBy, &m.DecayRate,
		&nextDecayAt, &m.EmbeddingModel, &m.CreatedAt, &m.UpdatedAt, &lastAccessedAt, &deletedAt,
		&isDeleted, &validFrom, &validUntil)
	if err != nil {
		return nil, err
	}

	m.Sector = MemorySector(sector)
	m.Tier = MemoryTier(tier)
	m.IsDeleted = isDeleted != 0
	m.SessionID = sessionID.String
	m.SegmentID = segmentID.String
	m.SupersededBy = supersededBy.String
	if nextDecayAt.Valid {
		m.NextDecayAt = nextDecayAt.Time
	}
	if lastAccessedAt.Valid {
		m.LastAccessedAt = lastAccessedAt.Time
	}
	if deletedAt.Valid {
		m.DeletedAt = deletedAt.Time
	}
	if validFrom.Valid {
		m.ValidFrom = validFrom.Time
	}
	if validUntil.Valid {
		m.ValidUntil = validUntil.Time
	}
	if m.Tags, err = unmarshalStrings(tags); err != nil {
		return nil, err
	}
	if m.Concepts, err = unmarshalStrings(concepts); err != nil {
		return nil, err
	}
	if m.Files, err = unmarshalStrings(files); err != nil {
		return nil, err
	}
	if m.Categories, err = unmarshalStrings(categories); err != nil {
		return nil, err
	}
	return m, nil
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// --- Memory relationship operations ---

func (s *SQLiteStore) SaveRelationship(ctx context.Context, rel *MemoryRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_relationships (
			id, from_memory_id, to_memory_id, relationship_type, confidence,
			valid_from, valid_until, provenance, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			relationship_type = excluded.relationship_type, confidence = excluded.confidence,
			valid_from = excluded.valid_from, valid_until = excluded.valid_until,
			provenance = excluded.provenance, updated_at = excluded.updated_at
	`, rel.ID, rel.FromMemoryID, rel.ToMemoryID, string(rel.RelationshipType), rel.Confidence,
		timeOrNil(rel.ValidFrom), timeOrNil(rel.ValidUntil), rel.Provenance, rel.CreatedAt, rel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save relationship: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRelationships(ctx context.Context, memoryID string) ([]*MemoryRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_memory_id, to_memory_id, relationship_type, confidence,
			valid_from, valid_until, provenance, created_at, updated_at
		FROM memory_relationships WHERE from_memory_id = ? OR to_memory_id = ?`, memoryID, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	var rels []*MemoryRelationship
	for rows.Next() {
		r := &MemoryRelationship{}
		var relType string
		var validFrom, validUntil sql.NullTime
		if err := rows.Scan(&r.ID, &r.FromMemoryID, &r.ToMemoryID, &relType, &r.Confidence,
			&validFrom, &validUntil, &r.Provenance, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		r.RelationshipType = RelationshipType(relType)
		if validFrom.Valid {
			r.ValidFrom = validFrom.Time
		}
		if validUntil.Valid {
			r.ValidUntil = validUntil.Time
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

func (s *SQLiteStore) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_relationships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

// --- Session operations ---

func (s *SQLiteStore) SaveSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var contextJSON string
	if len(session.Context) > 0 {
		b, err := json.Marshal(session.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal session context: %w", err)
		}
		contextJSON = string(b)
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, started_at, ended_at, summary, user_prompt, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at, summary = excluded.summary,
			user_prompt = excluded.user_prompt, context_json = excluded.context_json
	`, session.ID, session.ProjectID, session.StartedAt, timeOrNil(session.EndedAt),
		session.Summary, session.UserPrompt, contextJSON)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, started_at, ended_at, summary, user_prompt, context_json
		FROM sessions WHERE id = ?`, id)

	sess := &Session{}
	var endedAt sql.NullTime
	var contextJSON sql.NullString
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.StartedAt, &endedAt, &sess.Summary, &sess.UserPrompt, &contextJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if endedAt.Valid {
		sess.EndedAt = endedAt.Time
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &sess.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session context: %w", err)
		}
	}
	return sess, nil
}

func (s *SQLiteStore) EndSession(ctx context.Context, id string, endedAt time.Time, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ?`, endedAt, summary, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LinkSessionMemory(ctx context.Context, link *SessionMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_memories (session_id, memory_id, usage_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, memory_id, usage_type) DO NOTHING
	`, link.SessionID, link.MemoryID, string(link.UsageType), link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to link session memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSessionMemories(ctx context.Context, sessionID string) ([]*SessionMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, memory_id, usage_type, created_at
		FROM session_memories WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session memories: %w", err)
	}
	defer rows.Close()

	var links []*SessionMemory
	for rows.Next() {
		l := &SessionMemory{}
		var usageType string
		if err := rows.Scan(&l.SessionID, &l.MemoryID, &usageType, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session memory link: %w", err)
		}
		l.UsageType = UsageType(usageType)
		links = append(links, l)
	}
	return links, rows.Err()
}

// CleanupSessions deletes sessions (and their junction rows) that ended
// before the given time, returning the number removed.
func (s *SQLiteStore) CleanupSessions(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM session_memories WHERE session_id IN (
			SELECT id FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?)`, olderThan); err != nil {
		return 0, fmt.Errorf("failed to delete session memory links: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// --- Entity operations ---

func (s *SQLiteStore) FindOrCreateEntity(ctx context.Context, projectID, name string, entityType EntityType) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nameLower := strings.ToLower(name)
	now := time.Now()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, entity_type, summary, aliases_json, first_seen_at, last_seen_at, mention_count
		FROM entities WHERE project_id = ? AND name_lower = ?`, projectID, nameLower)
	e, err := scanEntity(row)
	if err == nil {
		return e, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up entity: %w", err)
	}

	id := fmt.Sprintf("entity-%s-%d", nameLower, now.UnixNano())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, project_id, name, name_lower, entity_type, first_seen_at, last_seen_at, mention_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`, id, projectID, name, nameLower, string(entityType), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return &Entity{
		ID: id, ProjectID: projectID, Name: name, EntityType: entityType,
		FirstSeenAt: now, LastSeenAt: now, MentionCount: 1,
	}, nil
}

func (s *SQLiteStore) RecordEntityMention(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE entities SET mention_count = mention_count + 1, last_seen_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to record entity mention: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, entity_type, summary, aliases_json, first_seen_at, last_seen_at, mention_count
		FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListTopEntities(ctx context.Context, projectID string, limit int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, entity_type, summary, aliases_json, first_seen_at, last_seen_at, mention_count
		FROM entities WHERE project_id = ? ORDER BY mention_count DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanEntity(scanner interface {
	Scan(dest ...any) error
}) (*Entity, error) {
	e := &Entity{}
	var entityType string
	var summary, aliasesJSON sql.NullString
	err := scanner.Scan(&e.ID, &e.ProjectID, &e.Name, &entityType, &summary, &aliasesJSON,
		&e.FirstSeenAt, &e.LastSeenAt, &e.MentionCount)
	if err != nil {
		return nil, err
	}
	e.EntityType = EntityType(entityType)
	e.Summary = summary.String
	if aliasesJSON.Valid && aliasesJSON.String != "" {
		if err := json.Unmarshal([]byte(aliasesJSON.String), &e.Aliases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity aliases: %w", err)
		}
	}
	return e, nil
}

// --- shared helpers ---

func marshalStrings(ss []string) (string, error) {
	if len(ss) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(ns.String), &ss); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return ss, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ccengram/ccengram/internal/store"
)

// WriteOutcome reports what Write actually did with a candidate memory.
type WriteOutcome int

const (
	// Inserted means the candidate was new content and was saved.
	Inserted WriteOutcome = iota
	// Deduplicated means the candidate matched an existing memory and was
	// dropped; Match names which one and how it matched.
	Deduplicated
	// Superseded means the candidate replaced an existing memory of the
	// same content hash that had drifted (explicit supersession request,
	// not automatic — see Supersede).
	Superseded
)

// WriteResult is Write's return value.
type WriteResult struct {
	Outcome WriteOutcome
	Memory  *store.Memory // the stored memory (new, or the existing match)
	Match   DuplicateMatch
}

// Write runs the full dedup-on-write pipeline (§4.9) for a candidate memory
// and only reaches the store if the candidate survives: first against an
// exact content-hash match (a single indexed lookup), then, if none, against
// every live memory in the candidate's sector by SimHash distance gated on
// Jaccard confirmation.
func Write(ctx context.Context, st store.MetadataStore, m *store.Memory) (*WriteResult, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	c := newCandidate(m.Content)
	m.ContentHash = c.hash
	m.SimHash = c.simhash

	if existing, err := st.FindMemoryByContentHash(ctx, m.ProjectID, c.hash); err != nil {
		return nil, fmt.Errorf("failed to check content hash: %w", err)
	} else if existing != nil {
		return &WriteResult{
			Outcome: Deduplicated,
			Memory:  existing,
			Match:   DuplicateMatch{Kind: ExactDuplicate, Of: existing.ID},
		}, nil
	}

	neighborhood, err := st.ListMemoriesBySimHashNeighborhood(ctx, m.ProjectID, m.Sector)
	if err != nil {
		return nil, fmt.Errorf("failed to list sector neighborhood: %w", err)
	}

	for _, existing := range neighborhood {
		match := c.matchAgainst(existing.ID, existing.Content, existing.ContentHash, existing.SimHash)
		if match.IsDuplicate() {
			return &WriteResult{Outcome: Deduplicated, Memory: existing, Match: match}, nil
		}
	}

	if err := st.SaveMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}
	return &WriteResult{Outcome: Inserted, Memory: m, Match: DuplicateMatch{Kind: NoDuplicate}}, nil
}

// Supersede marks oldID as superseded by newID. Default searches filter out
// superseded memories; they stay retrievable only via explicit inclusion
// (enforced by the store's query layer, not here).
func Supersede(ctx context.Context, st store.MetadataStore, oldID, newID string) error {
	if err := st.SupersedeMemory(ctx, oldID, newID); err != nil {
		return fmt.Errorf("failed to supersede memory: %w", err)
	}
	return st.SaveRelationship(ctx, &store.MemoryRelationship{
		ID:               uuid.NewString(),
		FromMemoryID:     oldID,
		ToMemoryID:       newID,
		RelationshipType: store.RelationSupersedes,
	})
}

// Recall records a successful retrieval: access bookkeeping plus the
// reinforcement salience bump (§4.9's "on any successful recall" contract).
func Recall(ctx context.Context, st store.MetadataStore, m *store.Memory) error {
	if err := st.TouchMemoryAccess(ctx, m.ID); err != nil {
		return fmt.Errorf("failed to touch memory access: %w", err)
	}
	newSalience := Reinforce(m.Salience)
	return st.UpdateMemorySalience(ctx, m.ID, newSalience, m.DecayRate, m.NextDecayAt)
}

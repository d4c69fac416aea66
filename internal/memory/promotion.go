package memory

import (
	"context"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/store"
)

// PromotionConfig holds the two independent thresholds that make a
// session-tier memory eligible for promotion to project tier (§4.9,
// Open Question (c)): a cross-session use count, or a salience level
// checked at session end.
type PromotionConfig struct {
	UseCount          int
	SalienceThreshold float64
}

// DefaultPromotionConfig returns the thresholds a zero-value MemoryConfig
// resolves to (config.NewConfig's defaults: use count 3, salience 0.7).
func DefaultPromotionConfig() PromotionConfig {
	return PromotionConfigFromConfig(config.MemoryConfig{PromotionUseCount: 3, PromotionSalienceThreshold: 0.7})
}

// PromotionConfigFromConfig adapts the loaded memory.* config section into
// the thresholds ShouldPromote checks.
func PromotionConfigFromConfig(cfg config.MemoryConfig) PromotionConfig {
	return PromotionConfig{UseCount: cfg.PromotionUseCount, SalienceThreshold: cfg.PromotionSalienceThreshold}
}

// ShouldPromote reports whether a session-tier memory has crossed either
// promotion threshold. Only meaningful for memories still in the session
// tier; a project-tier memory is already promoted.
func ShouldPromote(m *store.Memory, cfg PromotionConfig) bool {
	if m.Tier != store.TierSession {
		return false
	}
	return m.AccessCount >= cfg.UseCount || m.Salience >= cfg.SalienceThreshold
}

// PromoteIfEligible checks the threshold and, if crossed, calls through to
// the store's atomically-guarded promotion. Returns false with no error if
// the memory isn't eligible or was already promoted by a concurrent call.
func PromoteIfEligible(ctx context.Context, st store.MetadataStore, m *store.Memory, cfg PromotionConfig) (bool, error) {
	if !ShouldPromote(m, cfg) {
		return false, nil
	}
	return st.PromoteMemory(ctx, m.ID)
}

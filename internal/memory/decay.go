package memory

import (
	"context"
	"math"
	"time"

	"github.com/ccengram/ccengram/internal/store"
)

// baseDecayRate is the per-sector day⁻¹ constant used by ApplySalienceDecay.
// Values chosen per DESIGN.md Open Question (b): not present in the filtered
// original source, invented to preserve the ordering its own decay tests
// assert (episodic fastest, emotional slowest).
func baseDecayRate(sector store.MemorySector) float64 {
	switch sector {
	case store.SectorEpisodic:
		return 0.12
	case store.SectorReflective:
		return 0.08
	case store.SectorProcedural:
		return 0.06
	case store.SectorSemantic:
		return 0.05
	case store.SectorEmotional:
		return 0.03
	default:
		return 0.05
	}
}

const (
	minSalience          = 0.05
	maxSalience          = 1.0
	accessProtectionCap  = 0.1
	accessProtectionStep = 0.02
)

// ApplySalienceDecay computes a memory's salience after days of elapsed
// wall-clock time since its last access: the sector's base rate is slowed by
// importance, and a logarithmic access-count floor keeps frequently recalled
// memories from decaying all the way to the minimum.
func ApplySalienceDecay(current, importance float64, sector store.MemorySector, accessCount int, days float64) float64 {
	effectiveRate := baseDecayRate(sector) / (importance + 0.1)
	decayFactor := math.Exp(-effectiveRate * days)

	accessProtection := math.Log(1+float64(accessCount)) * accessProtectionStep
	if accessProtection > accessProtectionCap {
		accessProtection = accessProtectionCap
	}

	next := current*decayFactor + accessProtection
	return clamp(next, minSalience, maxSalience)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DecayResult summarizes the outcome of decaying one memory.
type DecayResult struct {
	MemoryID         string
	PreviousSalience float64
	NewSalience      float64
	DaysSinceAccess  float64
}

// DecayBatchSize bounds how many memories ApplyDecaySweep pulls per call,
// keeping peak memory bounded during a sweep over a large project.
const DecayBatchSize = 5000

// ApplyDecaySweep runs one bounded decay pass over a project's memories due
// for decay as of now, persisting each new salience and the next due time.
// The scheduler (§4.10) calls this on a fixed interval per live project.
// batchSize should come from the loaded memory.decay_batch_size config; a
// value <= 0 falls back to DecayBatchSize.
func ApplyDecaySweep(ctx context.Context, st store.MetadataStore, projectID string, now time.Time, interval time.Duration, batchSize int) ([]DecayResult, error) {
	if batchSize <= 0 {
		batchSize = DecayBatchSize
	}
	due, err := st.ListMemoriesForDecay(ctx, projectID, now, batchSize)
	if err != nil {
		return nil, err
	}

	results := make([]DecayResult, 0, len(due))
	for _, m := range due {
		days := now.Sub(m.LastAccessedAt).Hours() / 24
		if days < 0 {
			days = 0
		}

		newSalience := ApplySalienceDecay(m.Salience, m.Importance, m.Sector, m.AccessCount, days)

		if err := st.UpdateMemorySalience(ctx, m.ID, newSalience, baseDecayRate(m.Sector), now.Add(interval)); err != nil {
			return results, err
		}

		results = append(results, DecayResult{
			MemoryID:         m.ID,
			PreviousSalience: m.Salience,
			NewSalience:      newSalience,
			DaysSinceAccess:  days,
		})
	}
	return results, nil
}

// Reinforce records a successful recall: access_count increments, the
// access timestamp resets to now, and salience is nudged back up by a fixed
// step (never past the ceiling). Matches §4.9's "on any successful recall"
// contract.
const ReinforcementStep = 0.05

func Reinforce(current float64) float64 {
	return clamp(current+ReinforcementStep, minSalience, maxSalience)
}

package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/ccengram/ccengram/internal/memory"
)

// SchedulerConfig configures the daemon's periodic background sweeps
// (§4.10). Grounded on
// original_source/rewrite/crates/daemon/src/scheduler.rs's SchedulerConfig.
type SchedulerConfig struct {
	// DecayInterval is how often ApplyDecay runs across loaded projects.
	DecayInterval time.Duration
	// SessionCleanupInterval is how often stale sessions are purged.
	SessionCleanupInterval time.Duration
	// MaxSessionAge is how old a session must be before cleanup removes it.
	MaxSessionAge time.Duration
	// DecayBatchSize caps memories processed per project per decay tick.
	DecayBatchSize int
}

// DefaultSchedulerConfig mirrors the Rust source's defaults: a 60-hour decay
// interval, 6-hour session cleanup interval and max session age, and a
// 5000-memory decay batch cap.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DecayInterval:          60 * time.Hour,
		SessionCleanupInterval: 6 * time.Hour,
		MaxSessionAge:          6 * time.Hour,
		DecayBatchSize:         memory.DecayBatchSize,
	}
}

// Scheduler runs the daemon's background sweeps: decay and session cleanup,
// each on its own ticker, against every project currently warm in the
// daemon's cache. One goroutine per daemon (§4.10's "single background
// goroutine" contract); log-retention and idle-shutdown-check are handled
// by the lifecycle/logging packages rather than here, since this daemon —
// unlike the original's — runs only in foreground debug mode, not as a
// long-lived background service with its own idle-exit policy.
type Scheduler struct {
	daemon *Daemon
	cfg    SchedulerConfig
}

// NewScheduler creates a scheduler bound to a daemon's project cache.
func NewScheduler(d *Daemon, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{daemon: d, cfg: cfg}
}

// Run blocks, firing decay and cleanup sweeps on their respective tickers
// until ctx is cancelled. The first tick of each ticker is skipped so a
// freshly started daemon doesn't immediately sweep before any work has
// happened, matching the Rust scheduler's startup behavior.
func (s *Scheduler) Run(ctx context.Context) {
	decayTicker := time.NewTicker(s.cfg.DecayInterval)
	defer decayTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.SessionCleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-decayTicker.C:
			s.applyDecay(ctx)
		case <-cleanupTicker.C:
			s.cleanupSessions(ctx)
		}
	}
}

// applyDecay runs one decay sweep per currently-loaded project. Projects
// not presently warm in the daemon's cache are skipped — the original
// daemon iterates a persistent project registry that outlives any single
// project's in-memory state, but this daemon's only handle on a project's
// store is the warm cache itself, so a project is only swept while a
// client has it open.
func (s *Scheduler) applyDecay(ctx context.Context) {
	for projectID, md := range s.daemon.warmMetadataStores() {
		results, err := memory.ApplyDecaySweep(ctx, md, projectID, time.Now(), s.cfg.DecayInterval, s.cfg.DecayBatchSize)
		if err != nil {
			slog.Error("scheduled decay sweep failed", slog.String("project", projectID), slog.String("error", err.Error()))
			continue
		}
		if len(results) > 0 {
			slog.Info("scheduled decay sweep complete", slog.String("project", projectID), slog.Int("memories_processed", len(results)))
		}
	}
}

// cleanupSessions purges sessions older than MaxSessionAge in every
// currently-loaded project.
func (s *Scheduler) cleanupSessions(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.MaxSessionAge)
	for projectID, md := range s.daemon.warmMetadataStores() {
		cleaned, err := md.CleanupSessions(ctx, cutoff)
		if err != nil {
			slog.Error("scheduled session cleanup failed", slog.String("project", projectID), slog.String("error", err.Error()))
			continue
		}
		if cleaned > 0 {
			slog.Info("scheduled session cleanup complete", slog.String("project", projectID), slog.Int("sessions_removed", cleaned))
		}
	}
}

// projectID derives the stable per-root identifier used to key a project's
// rows in its own metadata store (same SHA256-16hex scheme internal/index
// uses to key store.File/store.Chunk IDs from a root path).
func projectID(rootPath string) string {
	sum := sha256.Sum256([]byte(rootPath))
	return hex.EncodeToString(sum[:])[:16]
}

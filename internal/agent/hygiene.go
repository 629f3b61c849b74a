package agent

import (
	"context"
	"time"
)

// RunHygieneOnce prunes sessions and memories past their retention windows.
// A retention of zero or less disables the corresponding pruning.
func (r *Runtime) RunHygieneOnce(ctx context.Context) {
	sessions, err := r.store.PruneSessionsOlderThan(ctx, r.cfg.Agent.SessionRetentionDays)
	if err != nil {
		r.logger.Warn("session pruning failed", "error", err)
	}

	var memories int64
	if r.memory != nil {
		memories, err = r.memory.PruneOlderThan(ctx, r.cfg.Agent.MemoryRetentionDays)
		if err != nil {
			r.logger.Warn("memory pruning failed", "error", err)
		}
	}

	if sessions > 0 || memories > 0 {
		r.logger.Info("hygiene pass finished",
			"sessions_pruned", sessions, "memories_pruned", memories)
	}
}

// StartHygiene runs periodic hygiene passes until ctx is cancelled. The
// first pass runs after one full interval, not at startup.
func (r *Runtime) StartHygiene(ctx context.Context) {
	interval := r.cfg.Agent.HygieneInterval()
	if interval <= 0 {
		r.logger.Debug("hygiene loop disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunHygieneOnce(ctx)
			}
		}
	}()
}

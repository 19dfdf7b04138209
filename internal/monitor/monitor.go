// Package monitor periodically samples per-environment utilization from the
// runtime and joins it with session metadata for the administrative API.
// It is strictly read-only with respect to sessions and environments.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/drydock-sh/drydock/internal/runtime"
	"github.com/drydock-sh/drydock/internal/session"
)

// SessionStats is one session's utilization sample joined with its
// registry metadata.
type SessionStats struct {
	SessionID string        `json:"session_id"`
	UserID    uint          `json:"user_id"`
	Profile   string        `json:"profile"`
	Shell     string        `json:"shell"`
	CreatedAt time.Time     `json:"created_at"`
	Usage     runtime.Usage `json:"usage"`
}

// HostStats aggregates utilization across all sessions.
type HostStats struct {
	Sessions    int     `json:"sessions"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Pids        uint64  `json:"pids"`
	SampledAt   string  `json:"sampled_at"`
}

// Monitor caches the latest poll so API reads never block on the runtime.
type Monitor struct {
	adapter runtime.Adapter
	reg     *session.Registry

	mu        sync.RWMutex
	perSess   []SessionStats
	aggregate HostStats
}

func New(adapter runtime.Adapter, reg *session.Registry) *Monitor {
	return &Monitor{adapter: adapter, reg: reg}
}

// Poll samples every registered session. A failed sample for one
// environment never aborts polling the others.
func (m *Monitor) Poll(ctx context.Context) {
	sessions := m.reg.ListAll()

	stats := make([]SessionStats, 0, len(sessions))
	var agg HostStats
	for _, s := range sessions {
		usage, err := m.adapter.Stats(ctx, s.RuntimeID())
		if err != nil {
			log.Printf("[monitor] stats for session %s (env %s): %v", s.ID, s.RuntimeID(), err)
			continue
		}
		stats = append(stats, SessionStats{
			SessionID: s.ID,
			UserID:    s.UserID,
			Profile:   s.Profile,
			Shell:     s.Shell,
			CreatedAt: s.CreatedAt,
			Usage:     usage,
		})
		agg.CPUPercent += usage.CPUPercent
		agg.MemoryBytes += usage.MemoryBytes
		agg.Pids += usage.Pids
	}
	agg.Sessions = len(sessions)
	agg.SampledAt = time.Now().UTC().Format(time.RFC3339)

	m.mu.Lock()
	m.perSess = stats
	m.aggregate = agg
	m.mu.Unlock()
}

// Snapshot returns the most recent per-session samples.
func (m *Monitor) Snapshot() []SessionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionStats, len(m.perSess))
	copy(out, m.perSess)
	return out
}

// Aggregate returns the most recent host-level totals.
func (m *Monitor) Aggregate() HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregate
}

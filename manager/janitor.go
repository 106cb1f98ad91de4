// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"time"
)

// janitor periodically reclaims streams that have been inactive longer than
// the retention window. This is housekeeping, not correctness: terminal
// streams are inert, and the sweep only bounds memory growth from abandoned
// or forgotten records.
func (m *Manager) janitor() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reclaim(m.now())
		}
	}
}

// reclaim deletes every stream whose last activity predates the retention
// window, regardless of state, and drops their per-stream subscribers. It
// returns the number of streams reclaimed.
func (m *Manager) reclaim(now time.Time) int {
	cutoff := now.Add(-m.retention)

	m.mu.Lock()
	var stale []string
	for id, info := range m.streams {
		if info.LastActivity.Before(cutoff) {
			stale = append(stale, id)
			delete(m.streams, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.subs.drop(id)
	}

	if len(stale) > 0 {
		m.logger.Info("reclaimed stale streams", "count", len(stale), "retention", m.retention)
	}
	return len(stale)
}

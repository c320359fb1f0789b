// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"log/slog"
	"time"
)

// SweeperConfig configures the periodic idle-eviction sweep.
type SweeperConfig struct {
	// Interval is how often the sweep runs. Default: 1 minute.
	Interval time.Duration
}

// DefaultSweeperConfig returns sensible defaults for the sweeper.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: time.Minute}
}

// Sweeper periodically evicts idle sessions from a Store.
//
// Uses the ticker + context pattern for graceful shutdown.
//
// Thread Safety: Run is intended to be called from exactly one goroutine.
type Sweeper struct {
	store  *Store
	config SweeperConfig
}

// NewSweeper creates a sweeper for the given store.
func NewSweeper(store *Store, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{store: store, config: config}
}

// Run blocks, sweeping on every tick until the context is cancelled.
//
// Inputs:
//   - ctx: Cancellation stops the sweep loop.
//
// Outputs:
//   - error: Always the context error, for errgroup composition.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.config.Interval)
	defer ticker.Stop()

	slog.Info("Session sweeper started", "interval", sw.config.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Session sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if n := sw.store.EvictExpired(sw.store.clock.Now()); n > 0 {
				slog.Info("Sweep evicted idle sessions", "count", n)
			}
		}
	}
}

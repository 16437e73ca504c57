// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention prunes conversation memory past its retention window.
//
// Conversation turns are stored masked, but masked history is still user
// data; keeping it forever is a liability. The sweeper runs in the
// background of the gate server and deletes each tenant's turns once they
// age out, taking a dead rolling summary with them.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pruner is the slice of the conversation store the sweeper needs.
type Pruner interface {
	// PruneOlderThan removes one tenant's turns older than cutoff and
	// reports how many were deleted.
	PruneOlderThan(ctx context.Context, tenant string, cutoff time.Time) (int, error)
}

// Config holds retention sweeper configuration.
//
// # Fields
//
//   - Interval: how often to run sweep cycles. Default: 1 hour.
//   - MaxAge: turns older than this are deleted. Default: 30 days.
//   - Tenants: the tenant set to sweep. Required.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
	Tenants  []string
}

// DefaultConfig returns production sweeper defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 1 * time.Hour,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	StartTime     time.Time
	EndTime       time.Time
	TurnsPruned   int
	TenantsSwept  int      // tenants where at least one turn was removed
	Errors        []string // per-tenant failures; the cycle continues past them
	ClockRejected bool     // true when the cycle aborted on a clock sanity failure
}

// Duration returns the wall time the cycle took.
func (r SweepResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Sweeper periodically prunes expired conversation turns.
//
// # Description
//
// Manages a background goroutine that runs a sweep at a fixed interval
// using the ticker + done channel pattern. Each cycle validates the
// system clock, computes the cutoff, and prunes every configured tenant.
// A tenant failure is recorded and the cycle moves on; a clock failure
// aborts the cycle without deleting anything.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Sweeper struct {
	store  Pruner
	clock  ClockChecker
	config Config

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a retention sweeper. A nil clock installs the
// production bounds checker; zero Interval or MaxAge fall back to
// DefaultConfig values.
func NewSweeper(store Pruner, clock ClockChecker, config Config) *Sweeper {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}
	if clock == nil {
		clock = NewClockChecker()
	}
	return &Sweeper{
		store:  store,
		clock:  clock,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start begins the background sweep loop. Returns an error if the sweeper
// is already running. The loop stops when Stop is called or the context is
// cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("retention sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // reset for potential restart
	s.mu.Unlock()

	slog.Info("Retention sweeper starting",
		"interval", s.config.Interval.String(),
		"max_age", s.config.MaxAge.String(),
		"tenants", len(s.config.Tenants),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep loop to exit. Safe to call multiple times. Does
// not interrupt an in-progress prune.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	slog.Info("Retention sweeper stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow performs one sweep cycle immediately, outside the schedule.
func (s *Sweeper) RunNow(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx)
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Sweep once on start so a long interval doesn't delay the first pass.
	s.executeSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Retention sweeper stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("Retention sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

// executeSweep runs one cycle and logs the outcome; errors never crash the
// loop.
func (s *Sweeper) executeSweep(ctx context.Context) {
	result, err := s.sweep(ctx)
	if err != nil {
		slog.Error("Retention sweep cycle failed", "error", err)
		return
	}

	if result.TurnsPruned > 0 || len(result.Errors) > 0 {
		slog.Info("Retention sweep completed",
			"turns_pruned", result.TurnsPruned,
			"tenants_swept", result.TenantsSwept,
			"errors", len(result.Errors),
			"duration_ms", result.Duration().Milliseconds(),
		)
	} else {
		slog.Debug("Retention sweep completed (nothing expired)")
	}
}

func (s *Sweeper) sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{StartTime: time.Now()}

	now, err := s.clock.Now()
	if err != nil {
		result.ClockRejected = true
		result.EndTime = time.Now()
		return result, fmt.Errorf("sweep aborted: %w", err)
	}
	cutoff := now.Add(-s.config.MaxAge)

	for _, tenant := range s.config.Tenants {
		if err := ctx.Err(); err != nil {
			result.EndTime = time.Now()
			return result, err
		}
		pruned, err := s.store.PruneOlderThan(ctx, tenant, cutoff)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", tenant, err))
			continue
		}
		if pruned > 0 {
			result.TurnsPruned += pruned
			result.TenantsSwept++
		}
	}

	result.EndTime = time.Now()
	return result, nil
}

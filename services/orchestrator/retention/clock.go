// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"fmt"
	"sync"
	"time"
)

// ClockChecker validates the system clock before time-sensitive deletes.
//
// # Description
//
// Retention sweeps compute a cutoff from the wall clock. A clock that has
// been set far into the future would expire everything at once; one set
// into the past would silently stop pruning. The checker bounds the clock
// to a plausible window and flags suspicious jumps between checks.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ClockChecker interface {
	// CheckClockSanity returns an error if the clock is outside the
	// valid window or jumped more than the allowed threshold since the
	// previous successful check.
	CheckClockSanity() error

	// Now returns the current time after a passing sanity check.
	Now() (time.Time, error)
}

// ClockConfig bounds the clock checker.
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns the production bounds: the deployment era on
// the low end, far future on the high end, and jump thresholds wide enough
// to tolerate NTP corrections but not wholesale clock changes.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

type clockChecker struct {
	config ClockConfig

	mu            sync.Mutex
	lastKnownGood time.Time
	checkCount    int
}

// NewClockChecker creates a checker with DefaultClockConfig.
func NewClockChecker() ClockChecker {
	return NewClockCheckerWithConfig(DefaultClockConfig())
}

// NewClockCheckerWithConfig creates a checker with custom bounds.
func NewClockCheckerWithConfig(config ClockConfig) ClockChecker {
	return &clockChecker{config: config}
}

func (c *clockChecker) CheckClockSanity() error {
	now := time.Now()

	if now.Before(c.config.MinValidTime) {
		return fmt.Errorf("clock sanity: time %v is before minimum valid time %v (possible clock set to past)",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339))
	}
	if now.After(c.config.MaxValidTime) {
		return fmt.Errorf("clock sanity: time %v is after maximum valid time %v (possible clock set to future)",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Jump detection needs a baseline; skip it on the first check.
	if c.checkCount > 0 {
		diff := now.Sub(c.lastKnownGood)
		if diff < -c.config.MaxBackwardJump {
			return fmt.Errorf("clock sanity: suspicious backward jump of %v detected (max allowed: %v)",
				-diff, c.config.MaxBackwardJump)
		}
		if diff > c.config.MaxForwardJump {
			return fmt.Errorf("clock sanity: suspicious forward jump of %v detected (max allowed: %v)",
				diff, c.config.MaxForwardJump)
		}
	}

	c.lastKnownGood = now
	c.checkCount++
	return nil
}

func (c *clockChecker) Now() (time.Time, error) {
	if err := c.CheckClockSanity(); err != nil {
		return time.Time{}, err
	}
	return time.Now(), nil
}

// noopClockChecker accepts any clock. For tests.
type noopClockChecker struct{}

// NewNoopClockChecker returns a checker that never fails.
func NewNoopClockChecker() ClockChecker {
	return &noopClockChecker{}
}

func (n *noopClockChecker) CheckClockSanity() error { return nil }

func (n *noopClockChecker) Now() (time.Time, error) { return time.Now(), nil }

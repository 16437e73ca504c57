// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
)

// =============================================================================
// Rate Limiting
// =============================================================================

// RateLimitConfig controls the token-bucket limiter applied per caller.
type RateLimitConfig struct {
	// RPS is the sustained requests-per-second budget for one caller.
	// Zero or negative disables limiting entirely.
	RPS float64

	// Burst is the token bucket capacity. Defaults to twice the RPS
	// (minimum 1) when zero.
	Burst int
}

// rateLimiter holds one token bucket per caller key. Buckets are created
// on first sight and never expire; the caller population here is small
// (a handful of tenants plus stray IPs).
type rateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// get returns the bucket for a caller key, creating it on first use.
func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, exists := rl.buckets[key]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)
	rl.buckets[key] = limiter
	return limiter
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
// per caller.
//
// # Description
//
// Each caller gets an independent token bucket. The caller key is the
// bound tenant when authentication produced one, otherwise the client IP,
// so an abusive tenant cannot starve the others. Requests over budget
// answer 429 and emit a ratelimit.exceeded event to the audit logger.
//
// Run this after AuthMiddleware so the tenant binding is available.
//
// # Inputs
//
//   - cfg: Limiter budget. RPS <= 0 disables limiting.
//   - auditor: AuditLogger for over-budget events. May be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	v1.Use(middleware.AuthMiddleware(opts.AuthProvider, opts.AuditLogger))
//	v1.Use(middleware.RateLimitMiddleware(middleware.RateLimitConfig{RPS: 5}, opts.AuditLogger))
//
// # Limitations
//
//   - Buckets live for the process lifetime; unauthenticated callers are
//     keyed by IP, which shares a bucket behind NAT.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RateLimitMiddleware(cfg RateLimitConfig, auditor extensions.AuditLogger) gin.HandlerFunc {
	if cfg.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RPS * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	rl := &rateLimiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}

	return func(c *gin.Context) {
		key := c.ClientIP()
		var userID, tenant string
		if info := GetAuthInfo(c); info != nil {
			userID = info.UserID
			if info.Tenant != "" {
				key = info.Tenant
				tenant = info.Tenant
			}
		}

		if !rl.get(key).Allow() {
			logEvent(c, auditor, extensions.AuditEvent{
				EventType: extensions.EventRateLimited,
				Timestamp: time.Now().UTC(),
				UserID:    userID,
				Tenant:    tenant,
				Outcome:   "denied",
				Metadata: extensions.NewMetadata().
					Set("limit_rps", cfg.RPS).
					Set("remote_addr", c.ClientIP()),
			})
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

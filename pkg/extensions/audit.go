// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// Boundary event types emitted by the gate server's HTTP layer. The
// per-decision trail (services/orchestrator/audit) records pipeline
// outcomes; these events cover what happens before a request reaches the
// pipeline at all.
const (
	// EventAuthFailed is an Authorization header that did not validate.
	EventAuthFailed = "auth.failed"

	// EventTenantMismatch is a validated caller naming a tenant their
	// token is not bound to.
	EventTenantMismatch = "auth.tenant_mismatch"

	// EventRateLimited is a request rejected by the per-tenant limiter.
	EventRateLimited = "ratelimit.exceeded"

	// EventFilterBlocked is a query or answer suppressed by the
	// configured MessageFilter.
	EventFilterBlocked = "filter.blocked"
)

// AuditEvent is one security-relevant boundary event for compliance
// logging (SOC2, GDPR incident trails). Events are fire-and-forget: the
// gate never blocks a request on event delivery.
//
// Example:
//
//	event := AuditEvent{
//	    EventType: EventTenantMismatch,
//	    Timestamp: time.Now().UTC(),
//	    UserID:    authInfo.UserID,
//	    Tenant:    requestedTenant,
//	    Outcome:   "denied",
//	    Metadata: NewMetadata().
//	        Set("bound_tenant", authInfo.Tenant),
//	}
type AuditEvent struct {
	// EventType categorizes the event, "category.action" form. Use the
	// Event* constants for gate-emitted events.
	EventType string

	// Timestamp is when the event occurred, in UTC. Implementations
	// should set it to time.Now().UTC() when zero.
	Timestamp time.Time

	// UserID identifies who triggered the event. "anonymous" when the
	// caller never authenticated.
	UserID string

	// Tenant is the identity domain the event concerns, when known.
	Tenant string

	// Outcome is the result: "blocked", "denied", or "failure".
	Outcome string

	// Metadata holds event-specific detail: the offending header shape,
	// the limiter state, the filter rule that fired.
	Metadata Metadata
}

// AuditLogger records boundary security events.
//
// Implementations must be safe for concurrent use and must not block the
// request path; buffer internally and deliver asynchronously if the sink
// is slow.
//
// # Open Source Behavior
//
// NopAuditLogger discards everything. The decision trail still records
// every pipeline run, so nothing about answers or refusals is lost.
//
// # Enterprise Implementation
//
// Enterprise versions forward to SIEM systems:
//
//	func (l *SplunkLogger) Log(ctx context.Context, event AuditEvent) error {
//	    return l.hec.Send(ctx, l.render(event))
//	}
type AuditLogger interface {
	// Log records one event. Errors are advisory; callers log and
	// continue, they never fail the request over a sink error.
	Log(ctx context.Context, event AuditEvent) error

	// Flush forces buffered events out, typically during shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger is the default logger for open source deployments. It
// discards all events. Thread-safe: no state.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// Flush does nothing.
func (l *NopAuditLogger) Flush(_ context.Context) error {
	return nil
}

// Compile-time interface compliance check.
var _ AuditLogger = (*NopAuditLogger)(nil)

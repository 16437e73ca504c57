// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines interfaces for enterprise functionality.
//
// This package provides extension points that let AleutianEnterprise add
// capabilities to the answer gate without modifying the core AleutianGuard
// codebase. The open source version ships no-op defaults for every
// interface, plus a static token provider for simple multi-tenant
// deployments.
//
// # Design Philosophy
//
// AleutianGuard works out of the box as a self-contained tenant-isolation
// gate. Enterprise deployments layer identity, compliance, and data-loss
// controls on top by providing concrete implementations of these
// interfaces and injecting them via ServiceOptions.
//
// # Extension Categories
//
// The package is organized by domain:
//
//   - auth.go: Tenant authentication and authorization (AuthProvider, AuthzProvider)
//   - audit.go: Security event logging at the HTTP boundary (AuditLogger)
//   - filter.go: Query/answer transformation and DLP hooks (MessageFilter)
//
// # Usage in AleutianGuard (Open Source)
//
// The open source gate server uses no-op defaults:
//
//	opts := extensions.DefaultOptions()
//	svc, err := orchestrator.New(cfg, &opts)
//
// # Usage in AleutianEnterprise
//
// Enterprise injects concrete implementations:
//
//	opts := extensions.ServiceOptions{
//	    AuthProvider:  enterprise.NewOIDCTenantProvider(cfg),
//	    AuditLogger:   enterprise.NewSIEMLogger(cfg),
//	    MessageFilter: enterprise.NewDLPFilter(policy),
//	}
//	svc, err := orchestrator.New(cfg, &opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for gate configuration.
//
// Pass this to the orchestrator constructor to enable enterprise
// features. All fields are optional; nil values behave as no-ops.
type ServiceOptions struct {
	// AuthProvider maps bearer tokens to tenant identities.
	// Default: NopAuthProvider (trusts the request-supplied tenant)
	AuthProvider AuthProvider

	// AuthzProvider checks authorization for gate operations.
	// Default: NopAuthzProvider (allows everything)
	AuthzProvider AuthzProvider

	// AuditLogger records security events observed at the HTTP boundary:
	// rejected tokens, tenant mismatches, rate-limit trips.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger

	// MessageFilter transforms or blocks text crossing the gate boundary.
	// Default: NopMessageFilter (passes through unchanged)
	MessageFilter MessageFilter
}

// DefaultOptions returns ServiceOptions with no-op defaults. This is the
// configuration used by the open source gate: any request is trusted to
// name its own tenant, nothing is filtered, boundary events are dropped.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
		AuditLogger:   &NopAuditLogger{},
		MessageFilter: &NopMessageFilter{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
// Useful for fluent configuration.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts with the given MessageFilter.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianGuard/pkg/validation"
)

// ErrUnauthorized is returned when authentication or authorization fails.
// Enterprise implementations should wrap this error with additional context.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity resolved from a bearer token.
//
// The Tenant field is what the gate cares about: when non-empty it is the
// authoritative identity domain for the request, and the HTTP layer
// overrides any tenant named in the request body with it. An empty Tenant
// means the provider does not bind identities to tenants (the open source
// NopAuthProvider), so the request-supplied tenant stands.
//
// Example:
//
//	info := &AuthInfo{
//	    UserID: "user-123",
//	    Tenant: "U2",
//	    Roles:  []string{"analyst"},
//	    Metadata: NewMetadata().
//	        Set("mfa_verified", true),
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated caller.
	// Never empty on a successful Validate.
	UserID string

	// Tenant is the identity domain the caller is bound to (U1..U4).
	// Empty when the provider performs no tenant binding.
	Tenant string

	// Roles contains role memberships for authorization decisions.
	// Common roles: "admin", "analyst", "auditor"
	Roles []string

	// Metadata holds additional claims from the identity provider.
	// Enterprise implementations can store provider-specific data here
	// without changes to the core struct.
	Metadata Metadata
}

// HasRole checks if the caller has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens and returns the caller's identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default NopAuthProvider accepts any token (including none) and
// returns a local user with no tenant binding. StaticTokenProvider offers
// a step up: a fixed token-to-tenant table for small shared deployments.
//
// # Enterprise Implementation
//
// Enterprise versions validate against identity providers (Okta, Auth0,
// Azure AD) and derive the tenant from verified claims:
//
//	func (p *OktaProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
//	    claims, err := p.client.VerifyToken(ctx, token)
//	    if err != nil {
//	        return nil, fmt.Errorf("okta validation failed: %w", ErrUnauthorized)
//	    }
//	    return &AuthInfo{UserID: claims.Subject, Tenant: claims.Tenant}, nil
//	}
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The bearer token; empty when no Authorization header was sent
	//
	// Returns:
	//   - *AuthInfo: Identity information if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes an authorization check as (subject, action,
// resource). ResourceID is optional; when empty the check covers the
// resource type in general.
//
// Example:
//
//	req := AuthzRequest{
//	    User:         authInfo,
//	    Action:       "clear",
//	    ResourceType: "memory",
//	    ResourceID:   "U1",
//	}
type AuthzRequest struct {
	// User is the authenticated caller, from AuthProvider.Validate.
	User *AuthInfo

	// Action is the operation being attempted.
	// Gate actions: "ask", "index", "read", "clear", "tail"
	Action string

	// ResourceType is the category being accessed.
	// Gate resources: "gate", "index", "memory", "audit"
	ResourceType string

	// ResourceID is the specific instance, usually a tenant identifier.
	ResourceID string
}

// AuthzProvider checks whether a caller may perform a gate operation.
//
// Implementations must be safe for concurrent use. The default
// NopAuthzProvider allows everything, which suits single-team local
// deployments; enterprise versions implement RBAC or policy engines.
type AuthzProvider interface {
	// Authorize returns nil when permitted and ErrUnauthorized (or a
	// wrapped form) when denied.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider is the default provider for open source deployments.
//
// It accepts any token and returns a local user with admin privileges and
// no tenant binding, so the request-supplied tenant is trusted as-is.
// This implementation has no mutable state and is trivially thread-safe.
type NopAuthProvider struct{}

// Validate always succeeds. The token is ignored; any value including the
// empty string authenticates as "local-user".
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// NopAuthzProvider is the default authorization provider. It allows all
// actions; tenant isolation is still enforced by the gate core, which
// never admits foreign-tenant private documents regardless of this check.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// StaticTokenProvider binds fixed bearer tokens to tenants. It is the
// shipped provider for shared deployments that want real tenant binding
// without an identity provider: each tenant gets an opaque token, and a
// request's tenant is whatever its token maps to.
//
// Tokens are compared with exact string equality. An empty or unknown
// token fails with ErrUnauthorized.
type StaticTokenProvider struct {
	tokens map[string]string // token -> tenant
}

// NewStaticTokenProvider creates a provider over a token-to-tenant table.
// The map is copied; later mutation of the argument has no effect.
func NewStaticTokenProvider(tokens map[string]string) *StaticTokenProvider {
	copied := make(map[string]string, len(tokens))
	for token, tenant := range tokens {
		copied[token] = tenant
	}
	return &StaticTokenProvider{tokens: copied}
}

// ParseTokenMap parses the GATE_TENANT_TOKENS environment format:
// a comma-separated list of token:tenant pairs, e.g.
//
//	"s3cr3t-one:U1,s3cr3t-two:U2"
//
// Whitespace around entries is trimmed. Returns an error on malformed
// pairs, invalid tenant identifiers, or duplicate tokens.
func ParseTokenMap(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, tenant, ok := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		tenant = strings.TrimSpace(tenant)
		if !ok || token == "" || tenant == "" {
			return nil, fmt.Errorf("malformed token pair %q, want token:tenant", pair)
		}
		if err := validation.ValidateTenantID(tenant); err != nil {
			return nil, fmt.Errorf("token pair %q: %w", pair, err)
		}
		if _, dup := tokens[token]; dup {
			return nil, fmt.Errorf("duplicate token %q", token)
		}
		tokens[token] = tenant
	}
	return tokens, nil
}

// Validate resolves the token to its tenant.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	tenant, ok := p.tokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown bearer token: %w", ErrUnauthorized)
	}
	return &AuthInfo{
		UserID: "tenant-" + tenant,
		Tenant: tenant,
		Roles:  []string{"analyst"},
	}, nil
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = (*StaticTokenProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
)

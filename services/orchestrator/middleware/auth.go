// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gate server.
//
// This package contains middleware for authentication, tenant binding,
// and rate limiting. It integrates with the extensions package to
// support enterprise features.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it using the configured AuthProvider, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo, binds tenant via BindTenant)
//
// # Tenant Binding
//
// Requests name the tenant they want to act as, in the JSON body for /ask
// and /index and in the URL path for /memory. When the AuthProvider binds
// the token to a tenant, that binding wins: a request naming a different
// tenant is rejected with 403 and an auth.tenant_mismatch audit event.
//
// # Open Source Behavior
//
// When using NopAuthProvider (default), all requests are authenticated
// as "local-user" with admin privileges and no tenant binding, so the
// tenant named in the request stands. This keeps the CLI usable without
// any authentication infrastructure.
//
// # Enterprise Behavior
//
// Enterprise implementations validate tokens against identity providers
// (Okta, Auth0, Azure AD) and return real user identity information with
// a bound tenant.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
// Using a typed key prevents collisions with other context values.
const authInfoKey = "aleutian_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
//
// Called by AuthMiddleware after successful authentication. The stored
// AuthInfo can be retrieved by handlers via GetAuthInfo. Only valid for
// the current request; overwrites any previously set auth info.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// Called by handlers to access the authenticated user's identity.
// Returns nil if no AuthInfo is present (request not authenticated)
// or the stored value has the wrong type.
//
// # Examples
//
//	func (h *handler) HandleRequest(c *gin.Context) {
//	    authInfo := middleware.GetAuthInfo(c)
//	    if authInfo == nil {
//	        c.JSON(401, gin.H{"error": "not authenticated"})
//	        return
//	    }
//	    // Use authInfo.UserID, authInfo.Tenant, authInfo.Roles, etc.
//	}
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// using the provided AuthProvider, and stores the resulting AuthInfo
// in the context for downstream handlers. Failed validations answer 401
// and emit an auth.failed event to the audit logger.
//
// # Token Extraction
//
// The middleware expects tokens in the Authorization header:
//
//	Authorization: Bearer <token>
//
// If the header is missing or malformed, the token passed to Validate
// will be empty string. NopAuthProvider accepts this and returns local-user;
// StaticTokenProvider rejects it.
//
// # Inputs
//
//   - provider: AuthProvider to validate tokens. Must not be nil.
//   - auditor: AuditLogger for boundary events. May be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.AuthMiddleware(opts.AuthProvider, opts.AuditLogger))
//
// # Limitations
//
//   - Only supports Bearer token authentication
//   - Does not cache validation results (validates every request)
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			logEvent(c, auditor, extensions.AuditEvent{
				EventType: extensions.EventAuthFailed,
				Timestamp: time.Now().UTC(),
				UserID:    "anonymous",
				Outcome:   "failure",
				Metadata: extensions.NewMetadata().
					Set("remote_addr", c.ClientIP()).
					Set("path", c.Request.URL.Path),
			})
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			// Provider failures, network issues, etc.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Tenant Binding
// =============================================================================

// BindTenant resolves the tenant a request is allowed to act as.
//
// # Description
//
// Compares the tenant named in the request against the tenant the
// AuthProvider bound the caller to. Three cases:
//
//   - No binding (AuthInfo absent or Tenant empty): the requested tenant
//     stands. This is the NopAuthProvider path.
//   - Binding matches the request, or the request names no tenant: the
//     bound tenant is returned.
//   - Binding conflicts with the request: answers 403, emits an
//     auth.tenant_mismatch event, and returns ok=false.
//
// # Inputs
//
//   - c: Gin context. Must not be nil.
//   - auditor: AuditLogger for the mismatch event. May be nil.
//   - requested: Tenant named by the request body or URL path.
//
// # Outputs
//
//   - string: The effective tenant for the request.
//   - bool: False when the request was rejected; the response is already
//     written and the handler must return without further output.
//
// # Examples
//
//	tenant, ok := middleware.BindTenant(c, auditor, req.Tenant)
//	if !ok {
//	    return
//	}
//	req.Tenant = tenant
func BindTenant(c *gin.Context, auditor extensions.AuditLogger, requested string) (string, bool) {
	info := GetAuthInfo(c)
	if info == nil || info.Tenant == "" {
		return requested, true
	}
	if requested == "" || requested == info.Tenant {
		return info.Tenant, true
	}

	logEvent(c, auditor, extensions.AuditEvent{
		EventType: extensions.EventTenantMismatch,
		Timestamp: time.Now().UTC(),
		UserID:    info.UserID,
		Tenant:    info.Tenant,
		Outcome:   "denied",
		Metadata: extensions.NewMetadata().
			Set("bound_tenant", info.Tenant).
			Set("requested_tenant", requested),
	})
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error": "tenant mismatch",
	})
	return "", false
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// Parses the Authorization header expecting format: "Bearer <token>".
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235 and the token is
// whitespace-trimmed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// logEvent sends a boundary event to the audit logger. Failures are
// logged and swallowed; audit problems never fail the request.
func logEvent(c *gin.Context, auditor extensions.AuditLogger, event extensions.AuditEvent) {
	if auditor == nil {
		return
	}
	if err := auditor.Log(c.Request.Context(), event); err != nil {
		slog.Warn("audit event log failed",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()))
	}
}

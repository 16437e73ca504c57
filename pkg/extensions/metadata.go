// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import "time"

// =============================================================================
// Metadata Type
// =============================================================================

// Metadata stores arbitrary key-value pairs on identities and boundary
// events.
//
// A defined type rather than a bare map[string]any keeps signatures
// self-documenting and gives enterprise providers typed accessors for
// the claims they stash on AuthInfo and AuditEvent.
//
// # Common Keys
//
//   - "bound_tenant": tenant a token resolves to
//   - "requested_tenant": tenant named by the request
//   - "remote_addr": client address for security analysis
//   - "mfa_verified": whether MFA was used
//   - "limit_rps": limiter configuration at rejection time
//   - "filter_rule": DLP rule that fired
//
// # Thread Safety
//
// Metadata is NOT thread-safe. Build it on one goroutine before handing
// it to a logger.
//
// Example:
//
//	meta := extensions.NewMetadata().
//	    Set("bound_tenant", "U1").
//	    Set("requested_tenant", "U2").
//	    Set("mfa_verified", true)
//
//	if tenant, ok := meta.GetString("bound_tenant"); ok {
//	    slog.Info("token binding", "tenant", tenant)
//	}
type Metadata map[string]any

// NewMetadata creates an empty Metadata instance ready for fluent Set calls.
func NewMetadata() Metadata {
	return make(Metadata)
}

// Set adds or updates a key and returns the same instance for chaining.
func (m Metadata) Set(key string, value any) Metadata {
	m[key] = value
	return m
}

// Get retrieves a raw value by key.
func (m Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	value, ok := m[key]
	return value, ok
}

// GetString retrieves a string value. Returns false when the key is
// absent or holds a non-string.
func (m Metadata) GetString(key string) (string, bool) {
	value, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// GetInt retrieves an int value. Accepts int and int64 storage, since
// JSON round-trips widen integers.
func (m Metadata) GetInt(key string) (int, bool) {
	value, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetBool retrieves a bool value.
func (m Metadata) GetBool(key string) (bool, bool) {
	value, ok := m.Get(key)
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// GetTime retrieves a time.Time value.
func (m Metadata) GetTime(key string) (time.Time, bool) {
	value, ok := m.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, ok := value.(time.Time)
	return t, ok
}

// Has reports whether the key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes a key and returns the same instance for chaining.
func (m Metadata) Delete(key string) Metadata {
	delete(m, key)
	return m
}

// Clone returns a shallow copy. Mutating the copy does not affect the
// original; values themselves are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	copied := make(Metadata, len(m))
	for key, value := range m {
		copied[key] = value
	}
	return copied
}

// Merge copies other's entries into m, overwriting on conflict, and
// returns m for chaining.
func (m Metadata) Merge(other Metadata) Metadata {
	for key, value := range other {
		m[key] = value
	}
	return m
}

// Keys returns the key set in map order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of entries.
func (m Metadata) Len() int {
	return len(m)
}

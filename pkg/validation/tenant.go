// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for identifiers that are used in
// database keys, vector index class names, or metric tags. Using these
// validators prevents injection attacks (key-scheme corruption, GraphQL
// name injection, tag injection).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// tenantPattern matches valid tenant identifiers.
// Allows: a leading letter, then letters, digits, underscores.
// Max length: 32 characters.
//
// The character set is the intersection of what every downstream sink
// accepts: Badger key prefixes use ":" as a separator, Weaviate class
// names are GraphQL identifiers, and Influx tags split on commas.
var tenantPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,31}$`)

// ValidateTenantID validates a tenant identifier before it reaches a
// storage key, index namespace, or metric tag.
//
// Valid tenant IDs:
//   - 1-32 characters
//   - Leading letter A-Z or a-z
//   - Letters, digits 0-9, underscores after that
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateTenantID(tenant); err != nil {
//	    return nil, fmt.Errorf("invalid tenant: %w", err)
//	}
//	// Safe to use in a key prefix or class name
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}

	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("invalid tenant ID format: %q (must be 1-32 chars, leading letter, then letters, digits, or underscores)", tenant)
	}

	return nil
}

// ValidateTenantIDs validates a tenant universe, typically the configured
// closed set. Returns an error listing all invalid identifiers if any
// fail validation.
func ValidateTenantIDs(tenants []string) error {
	var invalid []string
	for _, t := range tenants {
		if err := ValidateTenantID(t); err != nil {
			invalid = append(invalid, t)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid tenant IDs: %v", invalid)
	}
	return nil
}

// SanitizeTenantID trims and validates a tenant identifier. Case is
// preserved; tenant IDs are case-sensitive.
//
// Use this when you need both validation and normalization:
//
//	safeTenant, err := validation.SanitizeTenantID(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeTenant is trimmed and validated
func SanitizeTenantID(tenant string) (string, error) {
	normalized := strings.TrimSpace(tenant)
	if err := ValidateTenantID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

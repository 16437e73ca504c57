// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard is the last line of defense between retrieval and
// generation. It decides which retrieved hits the active tenant may see,
// masks PII spans in everything that survives, and owns the fixed refusal
// catalogue used across the gate.
//
// The guard is deny-by-default: a hit is admitted only when it is public or
// belongs to the active tenant, and an empty admitted set is a refusal, not
// an empty answer.
package guard

import (
	"regexp"

	"github.com/AleutianAI/AleutianGuard/services/retrieval"
)

// RedactionToken replaces every masked PII span.
const RedactionToken = "[REDACTED]"

// PII patterns for the supported locale: national identity numbers in
// 5-7-1 digit grouping, and mobile numbers in the +92-3xx-xxxxxxx family
// with optional plus and optional hyphens.
var (
	cnicPattern  = regexp.MustCompile(`\b\d{5}-\d{7}-\d\b`)
	phonePattern = regexp.MustCompile(`(?:\+|\b)92-?3\d{2}-?\d{7}\b`)
)

var defaultPIIPatterns = []*regexp.Regexp{cnicPattern, phonePattern}

// Guard enforces tenant access on retrieved hits and masks PII in the
// survivors. The zero value is not usable; construct with New.
type Guard struct {
	patterns []*regexp.Regexp
}

// New returns a guard with the built-in PII patterns.
func New() *Guard {
	return &Guard{patterns: defaultPIIPatterns}
}

var defaultGuard = New()

// Decision is the tagged result of enforcement: either Allowed carries the
// admitted, masked hits, or Refusal is set. Exactly one side is populated.
type Decision struct {
	Allowed []retrieval.Hit
	Refusal *Refusal
}

// Refused reports whether enforcement ended in a refusal.
func (d Decision) Refused() bool {
	return d.Refusal != nil
}

// Enforce filters hits down to those the active tenant may see and masks
// PII in each survivor. Admission requires public visibility, ownership by
// the active tenant, or the public tenant; everything else is dropped
// without a trace in the output. An empty admitted set yields an
// AccessDenied refusal.
func (g *Guard) Enforce(hits []retrieval.Hit, activeTenant string) Decision {
	var allowed []retrieval.Hit
	for _, hit := range hits {
		if !admissible(hit, activeTenant) {
			continue
		}
		hit.Text, hit.PIIFlag = g.Mask(hit.Text)
		allowed = append(allowed, hit)
	}
	if len(allowed) == 0 {
		return Decision{Refusal: NewRefusal(KindAccessDenied)}
	}
	return Decision{Allowed: allowed}
}

// admissible applies the three-way access rule.
func admissible(hit retrieval.Hit, activeTenant string) bool {
	return hit.Visibility == retrieval.VisibilityPublic ||
		hit.Tenant == activeTenant ||
		hit.Tenant == retrieval.PublicTenant
}

// Mask replaces PII spans in text with the redaction token and reports
// whether anything changed. Masking is idempotent: the token contains no
// digits, so a masked string passes through untouched.
func (g *Guard) Mask(text string) (string, bool) {
	masked := text
	for _, pattern := range g.patterns {
		masked = pattern.ReplaceAllString(masked, RedactionToken)
	}
	return masked, masked != text
}

// MaskPII masks text with the built-in patterns. The orchestrator uses this
// on the raw query before anything else sees it.
func MaskPII(text string) (string, bool) {
	return defaultGuard.Mask(text)
}

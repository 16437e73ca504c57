// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner classifies raw user queries before they are allowed to
// touch retrieval or generation.
//
// Classification is a pure, total function: it performs no I/O, never fails,
// and always returns a complete Plan. Detection is substring containment over
// the case-folded query against static catalogues (see catalogues.go), not
// regex matching — the catalogues are short phrases and containment keeps the
// classifier trivially auditable.
package planner

import "strings"

// Plan is the classifier's verdict on a single query. It is immutable once
// produced; the orchestrator resolves precedence between the flags.
type Plan struct {
	// Injection is true when the query contains a system-manipulation phrase
	// (instruction override, privileged role assumption, internal-state
	// extraction, privilege escalation, authority claims).
	Injection bool `json:"injection"`

	// Prohibited is true when the query reaches for a non-active tenant's
	// data via a possessive or locative marker, or requests all tenants.
	Prohibited bool `json:"prohibited"`

	// LeakageRisk is true when the query asks for PII unmasking or bulk
	// personal-data exposure. Advisory: recorded and logged, never a direct
	// refusal trigger.
	LeakageRisk bool `json:"leakage_risk"`

	// RetrievalQuery is the query forwarded to retrieval: the original text
	// with surrounding whitespace trimmed. No rewriting, no decomposition.
	RetrievalQuery string `json:"retrieval_query"`
}

// Planner holds the immutable catalogues and the closed tenant set. Build one
// at process start and share it freely; Classify is safe for concurrent use.
type Planner struct {
	injection   []string
	leakage     []string
	tenants     []string // lowercased tenant identifiers
	crossTenant map[string][]string
}

// NewPlanner returns a Planner for the given tenant identity set. Passing an
// empty set disables cross-tenant detection entirely (no non-active tenant
// exists to be named).
func NewPlanner(tenants []string) *Planner {
	p := &Planner{
		injection:   injectionCatalogue,
		leakage:     leakageCatalogue,
		crossTenant: make(map[string][]string, len(tenants)),
	}
	for _, t := range tenants {
		lower := strings.ToLower(t)
		p.tenants = append(p.tenants, lower)
		p.crossTenant[lower] = crossTenantMarkers(lower)
	}
	return p
}

// Default returns a Planner over the shipped tenant set.
func Default() *Planner {
	return NewPlanner(DefaultTenants)
}

// Classify analyzes a query on behalf of activeTenant and returns the Plan.
//
// An empty query is legal and yields all-false flags with an empty retrieval
// query. When several catalogues match at once every corresponding flag is
// set; precedence between them belongs to the orchestrator.
func (p *Planner) Classify(query, activeTenant string) Plan {
	lower := strings.ToLower(query)

	plan := Plan{
		Injection:      containsAny(lower, p.injection),
		LeakageRisk:    containsAny(lower, p.leakage),
		RetrievalQuery: strings.TrimSpace(query),
	}

	// Cross-tenant prohibition: existence of a match is the result, not which
	// tenant matched, so the scan stops at the first hit.
	if activeTenant != "" {
		active := strings.ToLower(activeTenant)
		for _, tenant := range p.tenants {
			if tenant == active {
				continue
			}
			if containsAny(lower, p.crossTenant[tenant]) {
				plan.Prohibited = true
				break
			}
		}
	}

	return plan
}

func containsAny(haystack string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}

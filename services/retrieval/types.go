// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import "context"

// Visibility levels and the distinguished public domain. The public tenant is
// a visibility domain, not an identity; it owns the shared namespace.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
	PublicTenant      = "public"
)

// NamespacePrefix scopes every logical collection the gate owns.
const NamespacePrefix = "tenant_"

// Namespace returns the logical collection name for a tenant.
func Namespace(tenant string) string {
	return NamespacePrefix + tenant
}

// PublicNamespace is the shared collection every tenant may read.
var PublicNamespace = Namespace(PublicTenant)

// Hit is one retrieved chunk with its access metadata. Hits are created per
// query by the Gateway and have their Text replaced by its masked form in the
// access guard; they are never persisted.
type Hit struct {
	DocID      string  `json:"doc_id"`
	Tenant     string  `json:"tenant"`
	Visibility string  `json:"visibility"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	PIIFlag    bool    `json:"pii_flag"`
	Path       string  `json:"path,omitempty"`
}

// ChunkMeta is the access metadata stored alongside every indexed chunk.
type ChunkMeta struct {
	DocID      string `json:"doc_id"`
	Tenant     string `json:"tenant"`
	Visibility string `json:"visibility"`
	Path       string `json:"path"`
}

// Chunk is one unit of indexed text. ID must be deterministic for a given
// (doc, position) so that repeated upserts merge instead of duplicating.
type Chunk struct {
	ID   string
	Text string
	Meta ChunkMeta
}

// Candidate is a raw index result before scoring. Distance is nil when the
// backing index did not report one; the Gateway then assigns the neutral
// default score.
type Candidate struct {
	Text     string
	Meta     ChunkMeta
	Distance *float64
}

// VectorIndex is the external index capability. Implementations must treat a
// namespace that does not exist yet as empty on Query, never as an error, and
// must merge repeated Upsert calls for identical chunk IDs (last writer wins).
type VectorIndex interface {
	// Upsert writes chunks into a namespace, creating it if needed.
	Upsert(ctx context.Context, namespace string, chunks []Chunk) error

	// Query returns up to k candidates ranked by similarity to text.
	Query(ctx context.Context, namespace, text string, k int) ([]Candidate, error)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval merges ranked evidence from a tenant's private namespace
// and the shared public namespace of an external vector index.
//
// The package owns no access decisions: it returns whatever the index holds
// and leaves admission and masking to the access guard. It also performs no
// embedding or similarity math of its own; both live behind the VectorIndex
// capability.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aleutianguard.retrieval")

// neutralScore is assigned when the index reports no distance for a candidate.
const neutralScore = 0.5

// Gateway fans a query out to the active tenant's namespace and the public
// namespace, scores the candidates, and returns a single ranked hit list.
//
// Safe for concurrent use; all state is the injected index handle.
type Gateway struct {
	index VectorIndex
}

// NewGateway wraps an index capability.
func NewGateway(index VectorIndex) *Gateway {
	return &Gateway{index: index}
}

// Fetch returns up to topK hits for the query, drawn from tenant_<tenant> and
// tenant_public.
//
// Both namespaces are queried concurrently, each capped at topK. Scores are
// derived as 1/(1+distance), or the neutral default when the index reported
// no distance. The merged list is sorted by descending score with a stable
// sort, so equal-score hits keep namespace-query order: tenant-private
// entries precede public ones.
//
// A namespace that does not exist, or whose query fails, contributes zero
// hits. The only error Fetch returns is the caller's context expiring.
func (g *Gateway) Fetch(ctx context.Context, query, tenant string, topK int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "gateway.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", tenant),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return nil, nil
	}

	namespaces := []string{Namespace(tenant), PublicNamespace}
	perNamespace := make([][]Hit, len(namespaces))

	eg, qctx := errgroup.WithContext(ctx)
	for i, ns := range namespaces {
		eg.Go(func() error {
			candidates, err := g.index.Query(qctx, ns, query, topK)
			if err != nil {
				// Index flakiness degrades to an empty contribution; the
				// guard turns a fully empty set into an explicit refusal.
				slog.Warn("Namespace query failed, contributing zero hits",
					"namespace", ns, "error", err)
				return qctx.Err()
			}
			perNamespace[i] = scoreCandidates(candidates)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var hits []Hit
	for _, contribution := range perNamespace {
		hits = append(hits, contribution...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

// scoreCandidates converts raw index candidates into scored hits, preserving
// the index's ranking order.
func scoreCandidates(candidates []Candidate) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		score := neutralScore
		if c.Distance != nil {
			score = 1.0 / (1.0 + *c.Distance)
		}
		hits = append(hits, Hit{
			DocID:      c.Meta.DocID,
			Tenant:     c.Meta.Tenant,
			Visibility: c.Meta.Visibility,
			Text:       c.Text,
			Score:      score,
			Path:       c.Meta.Path,
		})
	}
	return hits
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memindex is an in-process vector index for lightweight mode:
// everything lives in maps, nothing leaves the process, and queries run a
// brute-force cosine scan. It exists so the gate can run end to end with no
// Weaviate and no embedding server.
package memindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianGuard/services/retrieval"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/embed"
)

type entry struct {
	text   string
	meta   retrieval.ChunkMeta
	vector []float32
}

// Store holds vectors per namespace, keyed by chunk id. Safe for concurrent
// use; upserts take the write lock, queries the read lock.
type Store struct {
	provider embed.Provider

	mu         sync.RWMutex
	namespaces map[string]map[string]entry
}

// New builds a store over the given embedding provider.
func New(provider embed.Provider) *Store {
	return &Store{
		provider:   provider,
		namespaces: make(map[string]map[string]entry),
	}
}

// Upsert embeds and stores chunks under the namespace. Re-upserting an
// existing chunk id replaces it, which is what makes repeated corpus builds
// idempotent.
func (s *Store) Upsert(ctx context.Context, namespace string, chunks []retrieval.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %d chunks for %s: %w", len(chunks), namespace, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]entry, len(chunks))
		s.namespaces[namespace] = ns
	}
	for i, chunk := range chunks {
		ns[chunk.ID] = entry{text: chunk.Text, meta: chunk.Meta, vector: vectors[i]}
	}
	return nil
}

// Query embeds the text and returns the k nearest chunks by cosine
// distance. An unknown namespace yields no candidates and no error.
func (s *Store) Query(ctx context.Context, namespace, text string, k int) ([]retrieval.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	ns, ok := s.namespaces[namespace]
	if !ok || len(ns) == 0 {
		s.mu.RUnlock()
		return nil, nil
	}
	// Snapshot entries so the embed call runs outside the lock.
	entries := make([]entry, 0, len(ns))
	for _, e := range ns {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	queryVec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query for %s: %w", namespace, err)
	}

	candidates := make([]retrieval.Candidate, 0, len(entries))
	for _, e := range entries {
		d := cosineDistance(queryVec, e.vector)
		candidates = append(candidates, retrieval.Candidate{
			Text:     e.text,
			Meta:     e.meta,
			Distance: &d,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].Distance < *candidates[j].Distance
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Count returns the number of chunks stored under a namespace.
func (s *Store) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

// Namespaces lists the populated namespaces in sorted order.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cosineDistance is 1 minus cosine similarity. Vectors from the hash
// provider are unit length, so the dot product is the similarity; unequal
// lengths count as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1.0 - dot
}

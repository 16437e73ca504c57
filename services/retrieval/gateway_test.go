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

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

// fakeIndex serves canned candidates per namespace and records queries.
type fakeIndex struct {
	mu         sync.Mutex
	candidates map[string][]Candidate
	errs       map[string]error
	queried    []string
}

func (f *fakeIndex) Upsert(_ context.Context, _ string, _ []Chunk) error {
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, namespace, _ string, k int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.queried = append(f.queried, namespace)
	f.mu.Unlock()

	if err := f.errs[namespace]; err != nil {
		return nil, err
	}
	got := f.candidates[namespace]
	if len(got) > k {
		got = got[:k]
	}
	return got, nil
}

func distance(d float64) *float64 { return &d }

func candidate(docID, tenant, visibility string, d *float64) Candidate {
	return Candidate{
		Text:     "text of " + docID,
		Distance: d,
		Meta: ChunkMeta{
			DocID:      docID,
			Tenant:     tenant,
			Visibility: visibility,
		},
	}
}

func TestFetch_MergesAndRanks(t *testing.T) {
	index := &fakeIndex{
		candidates: map[string][]Candidate{
			"tenant_U1": {
				candidate("U1_close", "U1", "private", distance(0.0)),
				candidate("U1_far", "U1", "private", distance(1.0)),
			},
			"tenant_public": {
				candidate("PUB_mid", "public", "public", distance(0.5)),
			},
		},
	}

	hits, err := NewGateway(index).Fetch(context.Background(), "query", "U1", 6)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}

	wantOrder := []string{"U1_close", "PUB_mid", "U1_far"}
	for i, want := range wantOrder {
		if hits[i].DocID != want {
			t.Errorf("hits[%d] = %s, want %s", i, hits[i].DocID, want)
		}
	}

	wantScores := []float64{1.0, 1.0 / 1.5, 0.5}
	for i, want := range wantScores {
		if math.Abs(hits[i].Score-want) > 1e-9 {
			t.Errorf("hits[%d].Score = %f, want %f", i, hits[i].Score, want)
		}
	}
}

func TestFetch_QueriesBothNamespaces(t *testing.T) {
	index := &fakeIndex{}
	if _, err := NewGateway(index).Fetch(context.Background(), "query", "U2", 3); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	seen := map[string]bool{}
	for _, ns := range index.queried {
		seen[ns] = true
	}
	if !seen["tenant_U2"] || !seen["tenant_public"] {
		t.Errorf("queried namespaces = %v, want tenant_U2 and tenant_public", index.queried)
	}
}

func TestFetch_TiesFavorPrivate(t *testing.T) {
	// No distances: every hit scores the neutral 0.5, so order is decided
	// by the stable sort alone.
	index := &fakeIndex{
		candidates: map[string][]Candidate{
			"tenant_U1": {
				candidate("U1_a", "U1", "private", nil),
				candidate("U1_b", "U1", "private", nil),
			},
			"tenant_public": {
				candidate("PUB_a", "public", "public", nil),
			},
		},
	}

	hits, err := NewGateway(index).Fetch(context.Background(), "query", "U1", 6)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	wantOrder := []string{"U1_a", "U1_b", "PUB_a"}
	for i, want := range wantOrder {
		if hits[i].DocID != want {
			t.Errorf("hits[%d] = %s, want %s (private before public on ties)", i, hits[i].DocID, want)
		}
		if hits[i].Score != 0.5 {
			t.Errorf("hits[%d].Score = %f, want the neutral 0.5", i, hits[i].Score)
		}
	}
}

func TestFetch_TruncatesToTopK(t *testing.T) {
	index := &fakeIndex{
		candidates: map[string][]Candidate{
			"tenant_U1": {
				candidate("U1_a", "U1", "private", distance(0.1)),
				candidate("U1_b", "U1", "private", distance(0.2)),
				candidate("U1_c", "U1", "private", distance(0.3)),
			},
			"tenant_public": {
				candidate("PUB_a", "public", "public", distance(0.15)),
			},
		},
	}

	hits, err := NewGateway(index).Fetch(context.Background(), "query", "U1", 2)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits after truncation, got %d", len(hits))
	}
	if hits[0].DocID != "U1_a" || hits[1].DocID != "PUB_a" {
		t.Errorf("kept %s, %s; want the two closest across namespaces", hits[0].DocID, hits[1].DocID)
	}
}

func TestFetch_NonPositiveTopK(t *testing.T) {
	index := &fakeIndex{
		candidates: map[string][]Candidate{
			"tenant_U1": {candidate("U1_a", "U1", "private", nil)},
		},
	}

	for _, topK := range []int{0, -3} {
		hits, err := NewGateway(index).Fetch(context.Background(), "query", "U1", topK)
		if err != nil {
			t.Fatalf("Fetch with topK=%d failed: %v", topK, err)
		}
		if hits != nil {
			t.Errorf("topK=%d should yield nil, got %v", topK, hits)
		}
	}
}

func TestFetch_MissingNamespacesYieldEmpty(t *testing.T) {
	hits, err := NewGateway(&fakeIndex{}).Fetch(context.Background(), "query", "U9", 5)
	if err != nil {
		t.Fatalf("empty namespaces must not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestFetch_DegradesOnNamespaceError(t *testing.T) {
	index := &fakeIndex{
		candidates: map[string][]Candidate{
			"tenant_public": {candidate("PUB_a", "public", "public", distance(0.2))},
		},
		errs: map[string]error{
			"tenant_U1": errors.New("index unavailable"),
		},
	}

	hits, err := NewGateway(index).Fetch(context.Background(), "query", "U1", 5)
	if err != nil {
		t.Fatalf("namespace failure should degrade, not error: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != "PUB_a" {
		t.Errorf("expected only the public hit, got %v", hits)
	}
}

func TestFetch_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewGateway(&fakeIndex{}).Fetch(ctx, "query", "U1", 5); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestScoreCandidates(t *testing.T) {
	hits := scoreCandidates([]Candidate{
		candidate("a", "U1", "private", distance(0.0)),
		candidate("b", "U1", "private", distance(3.0)),
		candidate("c", "U1", "private", nil),
	})

	if hits[0].Score != 1.0 {
		t.Errorf("zero distance should score 1.0, got %f", hits[0].Score)
	}
	if hits[1].Score != 0.25 {
		t.Errorf("distance 3 should score 0.25, got %f", hits[1].Score)
	}
	if hits[2].Score != 0.5 {
		t.Errorf("missing distance should score the neutral 0.5, got %f", hits[2].Score)
	}
}

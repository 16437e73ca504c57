// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memindex

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianGuard/services/retrieval"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/embed"
)

func chunk(id, text, tenant string) retrieval.Chunk {
	return retrieval.Chunk{
		ID:   id,
		Text: text,
		Meta: retrieval.ChunkMeta{
			DocID:      id,
			Tenant:     tenant,
			Visibility: "private",
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(embed.NewHashProvider(0))
}

func TestStore_UpsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, "tenant_U1", []retrieval.Chunk{
		chunk("U1_policy_chunk_0", "data retention policy keeps records for thirty days", "U1"),
		chunk("U1_budget_chunk_0", "quarterly marketing budget forecast numbers", "U1"),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	candidates, err := s.Query(ctx, "tenant_U1", "what is the data retention policy", 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Meta.DocID != "U1_policy_chunk_0" {
		t.Errorf("nearest candidate = %s, want the retention chunk", candidates[0].Meta.DocID)
	}
	if candidates[0].Distance == nil {
		t.Fatal("candidate distance should be set")
	}
	if *candidates[0].Distance > *candidates[1].Distance {
		t.Error("candidates should be ordered by ascending distance")
	}
}

func TestStore_UnknownNamespace(t *testing.T) {
	s := newTestStore(t)
	candidates, err := s.Query(context.Background(), "tenant_missing", "anything", 5)
	if err != nil {
		t.Fatalf("unknown namespace must not error: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(candidates))
	}
}

func TestStore_UpsertReplacesByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "tenant_U1", []retrieval.Chunk{
		chunk("doc_chunk_0", "first version", "U1"),
	}); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, "tenant_U1", []retrieval.Chunk{
		chunk("doc_chunk_0", "second version entirely rewritten", "U1"),
	}); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	if got := s.Count("tenant_U1"); got != 1 {
		t.Fatalf("Count = %d, want 1 after replace", got)
	}

	candidates, err := s.Query(ctx, "tenant_U1", "second version", 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if candidates[0].Text != "second version entirely rewritten" {
		t.Errorf("text = %q, want the replacement", candidates[0].Text)
	}
}

func TestStore_TruncatesToK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var chunks []retrieval.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, chunk(
			fmt.Sprintf("doc_chunk_%d", i),
			fmt.Sprintf("filler text number %d about assorted topics", i),
			"U1",
		))
	}
	if err := s.Upsert(ctx, "tenant_U1", chunks); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	candidates, err := s.Query(ctx, "tenant_U1", "filler text", 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(candidates))
	}

	none, err := s.Query(ctx, "tenant_U1", "filler text", 0)
	if err != nil {
		t.Fatalf("Query with k=0 failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("k=0 should yield nothing, got %d", len(none))
	}
}

func TestStore_Namespaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, ns := range []string{"tenant_U2", "tenant_public", "tenant_U1"} {
		if err := s.Upsert(ctx, ns, []retrieval.Chunk{chunk(ns+"_chunk_0", "content", "U1")}); err != nil {
			t.Fatalf("Upsert %s failed: %v", ns, err)
		}
	}

	got := s.Namespaces()
	want := []string{"tenant_U1", "tenant_U2", "tenant_public"}
	if len(got) != len(want) {
		t.Fatalf("Namespaces = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Namespaces[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "tenant_U1", []retrieval.Chunk{
		chunk("seed_chunk_0", "seed content", "U1"),
	}); err != nil {
		t.Fatalf("seed Upsert failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				err := s.Upsert(ctx, "tenant_U1", []retrieval.Chunk{
					chunk(fmt.Sprintf("w_chunk_%d", i), "written concurrently", "U1"),
				})
				if err != nil {
					t.Errorf("concurrent Upsert failed: %v", err)
				}
			} else {
				if _, err := s.Query(ctx, "tenant_U1", "seed", 3); err != nil {
					t.Errorf("concurrent Query failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
}

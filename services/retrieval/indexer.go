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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianGuard/services/corpus"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/singleflight"
)

// Chunking geometry for the gate corpus. The separators walk from paragraph
// to sentence to word so a chunk rarely severs a sentence mid-clause.
var (
	CHUNK_SIZE      = 700
	CHUNK_OVERLAP   = 120
	chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}
)

// Indexer keeps the external index in step with the source corpus.
//
// BuildOrUpdate is idempotent and safe to invoke on every request: chunk IDs
// are deterministic, so repeated upserts merge (last writer wins), and a
// singleflight group collapses concurrent redundant builds into one.
type Indexer struct {
	index   VectorIndex
	loader  corpus.Loader
	group   singleflight.Group
	metrics *observability.GateMetrics
}

// NewIndexer returns an Indexer over the given index capability and corpus.
func NewIndexer(index VectorIndex, loader corpus.Loader) *Indexer {
	return &Indexer{index: index, loader: loader}
}

// WithMetrics attaches gate metrics so builds report per-namespace chunk
// counts. Returns the receiver for chaining.
func (ix *Indexer) WithMetrics(m *observability.GateMetrics) *Indexer {
	ix.metrics = m
	return ix
}

// BuildOrUpdate loads the corpus, chunks every document, and upserts the
// chunks into their tenant namespaces.
//
// Concurrent callers share a single in-flight build; each caller observes
// that build's result. Cancellation of the winning caller's context cancels
// the shared build, so late joiners may see a context error they did not
// cause — the next invocation simply rebuilds.
func (ix *Indexer) BuildOrUpdate(ctx context.Context) error {
	_, err, shared := ix.group.Do("corpus-build", func() (any, error) {
		return nil, ix.rebuild(ctx)
	})
	if shared {
		slog.Debug("Index build shared with a concurrent caller")
	}
	return err
}

func (ix *Indexer) rebuild(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "indexer.rebuild")
	defer span.End()

	docs, err := ix.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(CHUNK_SIZE),
		textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
		textsplitter.WithSeparators(chunkSeparators),
	)

	byNamespace := make(map[string][]Chunk)
	for _, doc := range docs {
		if doc.Content == "" {
			continue
		}
		pieces, err := splitter.SplitText(doc.Content)
		if err != nil {
			return fmt.Errorf("failed to chunk document %s: %w", doc.DocID, err)
		}
		ns := Namespace(doc.Collection)
		for idx, piece := range pieces {
			byNamespace[ns] = append(byNamespace[ns], Chunk{
				ID:   fmt.Sprintf("%s_chunk_%d", doc.DocID, idx),
				Text: piece,
				Meta: ChunkMeta{
					DocID:      doc.DocID,
					Tenant:     doc.Tenant,
					Visibility: doc.Visibility,
					Path:       doc.Path,
				},
			})
		}
	}

	for ns, chunks := range byNamespace {
		if err := ix.index.Upsert(ctx, ns, chunks); err != nil {
			return fmt.Errorf("failed to upsert namespace %s: %w", ns, err)
		}
		ix.metrics.RecordIndexedChunks(ns, len(chunks))
		slog.Debug("Upserted namespace", "namespace", ns, "chunks", len(chunks))
	}
	return nil
}

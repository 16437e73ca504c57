// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed turns text into vectors for the retrieval layer. The HTTP
// provider talks to an external embedding service; the hash provider is a
// dependency-free fallback for lightweight mode and tests.
package embed

import "context"

// Provider computes embeddings. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingRequest is the wire shape of a single-text embed call.
type EmbeddingRequest struct {
	Text string `json:"text"`
}

// EmbeddingResponse is the embedding service's single-text reply.
type EmbeddingResponse struct {
	Id        string    `json:"id"`
	Timestamp int       `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

// BatchEmbeddingRequest is the wire shape of a batch embed call.
type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

// BatchEmbeddingResponse is the embedding service's batch reply.
type BatchEmbeddingResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

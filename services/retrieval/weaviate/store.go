// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weaviate backs the retrieval layer with a Weaviate instance. All
// chunks live in one class; the namespace property scopes every query so a
// tenant's vectors never appear in another tenant's candidate set.
package weaviate

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianGuard/services/retrieval"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/embed"
)

// Store implements the retrieval index on top of a Weaviate client.
type Store struct {
	client   *weaviate.Client
	provider embed.Provider
}

// New connects to the Weaviate instance at rawURL and returns a store using
// the given embedding provider.
func New(rawURL string, provider embed.Provider) (*Store, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q: %w", rawURL, err)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	return &Store{client: client, provider: provider}, nil
}

// NewWithClient wraps an existing client, mainly for tests and callers that
// manage their own connection settings.
func NewWithClient(client *weaviate.Client, provider embed.Provider) *Store {
	return &Store{client: client, provider: provider}
}

// EnsureSchema creates the chunk class if it does not exist yet. Safe to
// call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	class := getChunkSchema()

	if _, err := s.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already present", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it", "class", class.Class)
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	return nil
}

// Upsert embeds the chunks and writes them in one batch. Object ids derive
// from the namespace and chunk id, so re-indexing the same corpus overwrites
// in place instead of accumulating duplicates.
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
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class:  ChunkClass,
			ID:     objectID(namespace, chunk.ID),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":    chunk.Text,
				"chunk_id":   chunk.ID,
				"doc_id":     chunk.Meta.DocID,
				"namespace":  namespace,
				"tenant":     chunk.Meta.Tenant,
				"visibility": chunk.Meta.Visibility,
				"path":       chunk.Meta.Path,
				"indexed_at": now,
			},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to batch import %d chunks to weaviate: %w", len(chunks), err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in weaviate batch item", "namespace", namespace, "error", errItem.Message)
			}
		}
	}
	slog.Info("Upserted chunks", "namespace", namespace, "requested", len(chunks), "stored", stored)
	return nil
}

// chunkQueryResponse is the GraphQL response shape for chunk queries.
type chunkQueryResponse struct {
	Get struct {
		GateChunk []chunkResult `json:"GateChunk"`
	} `json:"Get"`
}

type chunkResult struct {
	Content    string `json:"content"`
	DocID      string `json:"doc_id"`
	Tenant     string `json:"tenant"`
	Visibility string `json:"visibility"`
	Path       string `json:"path"`
	Additional struct {
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// Query embeds the text and runs a namespace-scoped nearVector search. A
// namespace with no objects, or a schema that has not been built yet, yields
// no candidates and no error.
func (s *Store) Query(ctx context.Context, namespace, text string, k int) ([]retrieval.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query for %s: %w", namespace, err)
	}

	namespaceFilter := filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueString(namespace)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "doc_id"},
		{Name: "tenant"},
		{Name: "visibility"},
		{Name: "path"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "distance"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(ChunkClass).
		WithFields(fields...).
		WithWhere(namespaceFilter).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed for %s: %w", namespace, err)
	}
	if len(result.Errors) > 0 {
		// A missing class comes back as a GraphQL error with a 200. Treat
		// it like an empty namespace; the index simply has not been built.
		for _, gqlErr := range result.Errors {
			slog.Warn("Weaviate query returned errors", "namespace", namespace, "error", gqlErr.Message)
		}
		return nil, nil
	}

	parsed, err := parseResponse[chunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse weaviate results for %s: %w", namespace, err)
	}

	candidates := make([]retrieval.Candidate, 0, len(parsed.Get.GateChunk))
	for _, row := range parsed.Get.GateChunk {
		candidates = append(candidates, retrieval.Candidate{
			Text: row.Content,
			Meta: retrieval.ChunkMeta{
				DocID:      row.DocID,
				Tenant:     row.Tenant,
				Visibility: row.Visibility,
				Path:       row.Path,
			},
			Distance: row.Additional.Distance,
		})
	}
	return candidates, nil
}

// objectID derives a stable UUID for a chunk from its namespace and id.
func objectID(namespace, chunkID string) strfmt.UUID {
	hash := sha256.Sum256([]byte(namespace + "/" + chunkID))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// parseResponse converts Weaviate's dynamic GraphQL payload into a typed
// struct via a marshal round trip.
func parseResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

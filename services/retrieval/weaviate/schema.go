// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package weaviate

import "github.com/weaviate/weaviate/entities/models"

// ChunkClass is the single Weaviate class holding every corpus chunk.
// Namespace isolation is enforced through the filterable namespace property,
// not through separate classes, so one schema covers all tenants.
const ChunkClass = "GateChunk"

func getChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ChunkClass,
		Description: "A corpus chunk with its tenant and visibility binding.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				Description:     "Stable chunk identifier: <doc_id>_chunk_<n>.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "doc_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the source document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "namespace",
				DataType:        []string{"text"},
				Description:     "Retrieval namespace, tenant_<id> or tenant_public.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "tenant",
				DataType:        []string{"text"},
				Description:     "Owning tenant after ACL resolution.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "visibility",
				DataType:        []string{"text"},
				Description:     "Access level of the source document, public or private.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "path",
				DataType:        []string{"text"},
				Description:     "Source path of the document within the corpus.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "indexed_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was indexed.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

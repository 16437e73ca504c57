// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus loads the gate's source documents and their access bindings.
//
// A corpus is described by two CSV files plus the document bodies:
//
//	manifest.csv    tenant,doc_id,path        which documents exist
//	tenant_acl.csv  doc_id,tenant_id,visibility   who owns them, who may see them
//
// Tenant identifiers in either file may carry suffixes (U1a, U1-eng) or the
// PUB marker; loaders normalize them to the base tenant set before anything
// downstream sees them. Documents can live on the local filesystem or in a
// GCS bucket; both loaders produce the same Document values.
package corpus

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PublicTenant is the distinguished shared domain.
const PublicTenant = "public"

// pubMarker is the manifest/ACL spelling of the public domain.
const pubMarker = "PUB"

// Document is one source unit with its resolved access binding.
type Document struct {
	DocID      string
	Tenant     string // owning tenant after ACL resolution
	Visibility string // "public" or "private"
	Path       string // storage path relative to the corpus root
	Content    string
	Collection string // normalized manifest tenant; the namespace this doc is indexed under
}

// Loader yields the full corpus. Load must be safe to call repeatedly; the
// indexer invokes it on every build-or-update pass.
type Loader interface {
	Load(ctx context.Context) ([]Document, error)
}

// aclEntry is one row of tenant_acl.csv after tenant normalization.
type aclEntry struct {
	tenant     string
	visibility string
}

// DirLoader reads a corpus from a local directory.
type DirLoader struct {
	baseDir string
	tenants []string
}

// NewDirLoader returns a loader rooted at baseDir. The tenants set drives
// identifier normalization (prefix matching); pass the gate's closed tenant
// set.
func NewDirLoader(baseDir string, tenants []string) *DirLoader {
	return &DirLoader{baseDir: baseDir, tenants: tenants}
}

// Load reads manifest.csv, tenant_acl.csv, and every listed document body.
// A manifest row whose document is missing or empty is skipped with a
// warning; a missing ACL file means every binding falls back to manifest
// defaults.
func (l *DirLoader) Load(ctx context.Context) ([]Document, error) {
	manifest, err := readCSVFile(filepath.Join(l.baseDir, "manifest.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	acl := map[string]aclEntry{}
	aclRows, err := readCSVFile(filepath.Join(l.baseDir, "tenant_acl.csv"))
	if err == nil {
		acl = buildACL(aclRows, l.tenants)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read tenant ACL: %w", err)
	}

	var docs []Document
	for _, row := range manifest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docID := row["doc_id"]
		relPath := row["path"]
		collection := NormalizeTenant(row["tenant"], l.tenants)

		content, err := os.ReadFile(filepath.Join(l.baseDir, relPath))
		if err != nil {
			slog.Warn("Skipping unreadable corpus document", "doc_id", docID, "path", relPath, "error", err)
			continue
		}
		if len(content) == 0 {
			continue
		}

		docs = append(docs, resolveDocument(docID, relPath, string(content), collection, acl))
	}
	return docs, nil
}

// resolveDocument applies the ACL binding, falling back to the manifest
// grouping: a document without an ACL row belongs to its collection tenant
// and is public only in the public collection or under a PUB_ doc id.
func resolveDocument(docID, relPath, content, collection string, acl map[string]aclEntry) Document {
	doc := Document{
		DocID:      docID,
		Path:       relPath,
		Content:    content,
		Collection: collection,
	}
	if entry, ok := acl[docID]; ok {
		doc.Tenant = entry.tenant
		doc.Visibility = entry.visibility
		return doc
	}
	doc.Tenant = collection
	if collection == PublicTenant || strings.Contains(docID, "PUB_") {
		doc.Visibility = "public"
	} else {
		doc.Visibility = "private"
	}
	return doc
}

func buildACL(rows []map[string]string, tenants []string) map[string]aclEntry {
	acl := make(map[string]aclEntry, len(rows))
	for _, row := range rows {
		docID := row["doc_id"]
		if docID == "" {
			continue
		}
		visibility := row["visibility"]
		if visibility == "" {
			visibility = "private"
		}
		acl[docID] = aclEntry{
			tenant:     NormalizeTenant(row["tenant_id"], tenants),
			visibility: visibility,
		}
	}
	return acl
}

// NormalizeTenant maps a raw identifier onto the closed tenant set: the PUB
// marker becomes the public domain, and any identifier starting with a known
// tenant collapses to that tenant (U1a → U1). Unknown identifiers pass
// through unchanged.
func NormalizeTenant(raw string, tenants []string) string {
	if raw == pubMarker || raw == PublicTenant {
		return PublicTenant
	}
	for _, t := range tenants {
		if strings.HasPrefix(raw, t) {
			return t
		}
	}
	return raw
}

// readCSVFile parses a header-first CSV into one map per data row.
func readCSVFile(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[strings.TrimSpace(col)] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSLoader reads a corpus laid out under a prefix in a GCS bucket, using
// the same manifest.csv / tenant_acl.csv contract as DirLoader.
type GCSLoader struct {
	client  *storage.Client
	bucket  string
	prefix  string
	tenants []string
}

// GCSConfig selects the bucket location of a corpus.
type GCSConfig struct {
	Bucket          string
	Prefix          string // object prefix the corpus lives under, may be empty
	CredentialsFile string // optional; falls back to ambient credentials
}

// NewGCSLoader builds a loader for the given bucket. Close the loader when
// the corpus is no longer needed.
func NewGCSLoader(ctx context.Context, cfg GCSConfig, tenants []string) (*GCSLoader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs corpus requires a bucket name")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSLoader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		tenants: tenants,
	}, nil
}

// Close releases the underlying storage client.
func (l *GCSLoader) Close() error {
	return l.client.Close()
}

// Load mirrors DirLoader.Load against bucket objects. A missing ACL object
// degrades to manifest defaults; a missing manifest is an error.
func (l *GCSLoader) Load(ctx context.Context) ([]Document, error) {
	manifestRows, err := l.readCSVObject(ctx, "manifest.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest from gs://%s: %w", l.bucket, err)
	}

	acl := map[string]aclEntry{}
	aclRows, err := l.readCSVObject(ctx, "tenant_acl.csv")
	if err == nil {
		acl = buildACL(aclRows, l.tenants)
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("failed to read tenant ACL from gs://%s: %w", l.bucket, err)
	}

	var docs []Document
	for _, row := range manifestRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docID := row["doc_id"]
		relPath := row["path"]
		collection := NormalizeTenant(row["tenant"], l.tenants)

		content, err := l.readObject(ctx, relPath)
		if err != nil {
			slog.Warn("Skipping unreadable corpus object",
				"bucket", l.bucket, "doc_id", docID, "path", relPath, "error", err)
			continue
		}
		if len(content) == 0 {
			continue
		}

		docs = append(docs, resolveDocument(docID, relPath, string(content), collection, acl))
	}
	return docs, nil
}

func (l *GCSLoader) objectName(relPath string) string {
	if l.prefix == "" {
		return relPath
	}
	return path.Join(l.prefix, relPath)
}

func (l *GCSLoader) readObject(ctx context.Context, relPath string) ([]byte, error) {
	reader, err := l.client.Bucket(l.bucket).Object(l.objectName(relPath)).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (l *GCSLoader) readCSVObject(ctx context.Context, relPath string) ([]map[string]string, error) {
	reader, err := l.client.Bucket(l.bucket).Object(l.objectName(relPath)).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return readCSV(reader)
}

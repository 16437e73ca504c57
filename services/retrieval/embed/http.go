// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider calls an embedding service exposing /embed and /batch_embed.
type HTTPProvider struct {
	embedURL string
	batchURL string
	client   *http.Client
}

// NewHTTPProvider builds a provider against the service base URL. The base
// may point at the /embed endpoint directly; the batch endpoint is derived
// from it. Batch calls get a long timeout since corpus builds embed whole
// documents at once.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	base := strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/embed")
	return &HTTPProvider{
		embedURL: base + "/embed",
		batchURL: base + "/batch_embed",
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Embed posts a single text to /embed.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	respBody, err := p.post(ctx, p.embedURL, body)
	if err != nil {
		return nil, err
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse embedding service response: %w", err)
	}
	return embResp.Vector, nil
}

// EmbedBatch posts all texts to /batch_embed and checks the count matches.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	respBody, err := p.post(ctx, p.batchURL, body)
	if err != nil {
		return nil, err
	}

	var batchResp BatchEmbeddingResponse
	if err := json.Unmarshal(respBody, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch embed response: %w", err)
	}
	if len(batchResp.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts",
			len(batchResp.Vectors), len(texts))
	}
	return batchResp.Vectors, nil
}

func (p *HTTPProvider) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding service response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

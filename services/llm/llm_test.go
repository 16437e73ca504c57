// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Ollama Client Tests
// =============================================================================

// capturedOllamaRequest mirrors the generate payload for assertions.
type capturedOllamaRequest struct {
	Model   string                 `json:"model"`
	System  string                 `json:"system"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
}

// newTestOllamaClient creates an OllamaClient pointing to a test server.
//
// # Description
//
// Bypasses environment variable configuration so tests never depend on
// a real Ollama install.
func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		model:      model,
	}
}

// TestOllamaClient_Generate_MapsParams verifies the payload mapping.
//
// # Description
//
// Checks that system, prompt, and every generation parameter land in
// the request body under the names the Ollama API expects.
func TestOllamaClient_Generate_MapsParams(t *testing.T) {
	t.Parallel()

	var got capturedOllamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","response":"pong","done":true}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	params := GenerationParams{
		Temperature: Float32Ptr(0.5),
		TopK:        IntPtr(40),
		TopP:        Float32Ptr(0.25),
		MaxTokens:   IntPtr(128),
		Stop:        []string{"\n\n"},
	}

	answer, err := client.Generate(context.Background(), "You are careful.", "ping", params)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if answer != "pong" {
		t.Errorf("Answer = %q, want %q", answer, "pong")
	}
	if got.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", got.Model)
	}
	if got.System != "You are careful." {
		t.Errorf("System = %q", got.System)
	}
	if got.Prompt != "ping" {
		t.Errorf("Prompt = %q", got.Prompt)
	}
	if got.Stream {
		t.Error("Stream should be false for blocking generation")
	}
	if got.Options["temperature"] != 0.5 {
		t.Errorf("temperature = %v, want 0.5", got.Options["temperature"])
	}
	if got.Options["top_k"] != float64(40) {
		t.Errorf("top_k = %v, want 40", got.Options["top_k"])
	}
	if got.Options["top_p"] != 0.25 {
		t.Errorf("top_p = %v, want 0.25", got.Options["top_p"])
	}
	if got.Options["num_predict"] != float64(128) {
		t.Errorf("num_predict = %v, want 128", got.Options["num_predict"])
	}
	stop, ok := got.Options["stop"].([]interface{})
	if !ok || len(stop) != 1 || stop[0] != "\n\n" {
		t.Errorf("stop = %v, want [\\n\\n]", got.Options["stop"])
	}
}

// TestOllamaClient_Generate_Defaults verifies unset params fall back to
// deterministic gate defaults.
func TestOllamaClient_Generate_Defaults(t *testing.T) {
	t.Parallel()

	var got capturedOllamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","response":"ok","done":true}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	if _, err := client.Generate(context.Background(), "", "ping", GenerationParams{}); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if got.Options["temperature"] != float64(0) {
		t.Errorf("default temperature = %v, want 0", got.Options["temperature"])
	}
	if got.Options["top_k"] != float64(20) {
		t.Errorf("default top_k = %v, want 20", got.Options["top_k"])
	}
	if got.Options["top_p"] != 0.9 {
		t.Errorf("default top_p = %v, want 0.9", got.Options["top_p"])
	}
	if got.Options["num_predict"] != float64(400) {
		t.Errorf("default num_predict = %v, want 400", got.Options["num_predict"])
	}
	if _, present := got.Options["stop"]; present {
		t.Error("stop should be omitted when no sequences are set")
	}
}

// TestOllamaClient_Generate_ModelNotFound verifies the pull-hint error.
func TestOllamaClient_Generate_ModelNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'missing-model' not found, try pulling it first"}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "missing-model")
	_, err := client.Generate(context.Background(), "", "ping", GenerationParams{})
	if err == nil {
		t.Fatal("Expected error for missing model")
	}
	if !strings.Contains(err.Error(), "ollama pull missing-model") {
		t.Errorf("Error should suggest pulling the model, got: %v", err)
	}
}

// TestOllamaClient_Generate_ContextCancellation verifies the request
// honors an already-cancelled context.
func TestOllamaClient_Generate_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"response":"late","done":true}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Generate(ctx, "", "ping", GenerationParams{}); err == nil {
		t.Fatal("Expected error from cancelled context")
	}
}

// =============================================================================
// Mock Client Tests
// =============================================================================

func TestMockClient_ScriptedResponses(t *testing.T) {
	t.Parallel()

	mock := NewMockClient("first", "second")
	ctx := context.Background()

	got, err := mock.Generate(ctx, "sys", "q1", GenerationParams{})
	if err != nil || got != "first" {
		t.Fatalf("Generate = (%q, %v), want (first, nil)", got, err)
	}
	got, _ = mock.Generate(ctx, "sys", "q2", GenerationParams{})
	if got != "second" {
		t.Errorf("Second call = %q, want second", got)
	}
	got, _ = mock.Generate(ctx, "sys", "q3", GenerationParams{})
	if got != mock.DefaultResponse {
		t.Errorf("Drained queue should fall back to DefaultResponse, got %q", got)
	}
}

func TestMockClient_RecordsCalls(t *testing.T) {
	t.Parallel()

	mock := NewMockClient()
	params := GenerationParams{Temperature: Float32Ptr(0), MaxTokens: IntPtr(400)}
	if _, err := mock.Generate(context.Background(), "system text", "user prompt", params); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("Calls = %d, want 1", len(calls))
	}
	if calls[0].System != "system text" || calls[0].Prompt != "user prompt" {
		t.Errorf("Recorded call = %+v", calls[0])
	}
	if calls[0].Params.MaxTokens == nil || *calls[0].Params.MaxTokens != 400 {
		t.Error("Params should be recorded verbatim")
	}
}

func TestMockClient_FailWith(t *testing.T) {
	t.Parallel()

	mock := NewMockClient("unreachable")
	wantErr := errors.New("upstream is down")
	mock.FailWith(wantErr)

	if _, err := mock.Generate(context.Background(), "", "q", GenerationParams{}); !errors.Is(err, wantErr) {
		t.Fatalf("Generate error = %v, want %v", err, wantErr)
	}

	mock.FailWith(nil)
	if got, err := mock.Generate(context.Background(), "", "q", GenerationParams{}); err != nil || got != "unreachable" {
		t.Errorf("After clearing failure, Generate = (%q, %v)", got, err)
	}
}

// =============================================================================
// Secure Key Tests
// =============================================================================

// TestLoadSecureKey_FromEnv verifies env resolution and scrubbing.
//
// # Description
//
// The credential must round-trip through the enclave and the source
// environment variable must be unset afterwards.
func TestLoadSecureKey_FromEnv(t *testing.T) {
	t.Setenv("ALEUTIANGUARD_TEST_KEY", "sk-guard-12345")

	key, err := LoadSecureKey("ALEUTIANGUARD_TEST_KEY", "")
	if err != nil {
		t.Fatalf("LoadSecureKey returned error: %v", err)
	}
	defer key.Destroy()

	if got := os.Getenv("ALEUTIANGUARD_TEST_KEY"); got != "" {
		t.Errorf("Environment variable should be scrubbed, still set to %q", got)
	}

	revealed, err := key.Reveal()
	if err != nil {
		t.Fatalf("Reveal returned error: %v", err)
	}
	if revealed != "sk-guard-12345" {
		t.Errorf("Reveal = %q, want sk-guard-12345", revealed)
	}
}

func TestLoadSecureKey_FromSecretFile(t *testing.T) {
	t.Setenv("ALEUTIANGUARD_TEST_KEY", "")

	secretPath := filepath.Join(t.TempDir(), "groq_api_key")
	if err := os.WriteFile(secretPath, []byte("sk-from-file\n"), 0o600); err != nil {
		t.Fatalf("Failed to write secret file: %v", err)
	}

	key, err := LoadSecureKey("ALEUTIANGUARD_TEST_KEY", secretPath)
	if err != nil {
		t.Fatalf("LoadSecureKey returned error: %v", err)
	}
	defer key.Destroy()

	revealed, err := key.Reveal()
	if err != nil {
		t.Fatalf("Reveal returned error: %v", err)
	}
	if revealed != "sk-from-file" {
		t.Errorf("Reveal = %q, want trimmed file contents", revealed)
	}
}

func TestLoadSecureKey_Missing(t *testing.T) {
	t.Setenv("ALEUTIANGUARD_TEST_KEY", "")

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	if _, err := LoadSecureKey("ALEUTIANGUARD_TEST_KEY", missing); err == nil {
		t.Fatal("Expected error when neither env nor secret file is set")
	}
}

func TestSecureKey_Destroy(t *testing.T) {
	t.Setenv("ALEUTIANGUARD_TEST_KEY", "sk-ephemeral")

	key, err := LoadSecureKey("ALEUTIANGUARD_TEST_KEY", "")
	if err != nil {
		t.Fatalf("LoadSecureKey returned error: %v", err)
	}
	key.Destroy()
	key.Destroy() // idempotent

	if _, err := key.Reveal(); err == nil {
		t.Fatal("Reveal after Destroy should fail")
	}

	var nilKey *SecureKey
	nilKey.Destroy()
	if _, err := nilKey.Reveal(); err == nil {
		t.Fatal("Reveal on nil key should fail")
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".aleutianguard", "guard.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}

	var cfg GuardConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	if cfg.LLM.Backend != "groq" {
		t.Errorf("LLM.Backend = %q, want %q", cfg.LLM.Backend, "groq")
	}
	if cfg.LLM.Model != "llama-3.1-8b-instant" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "llama-3.1-8b-instant")
	}
	if cfg.Retrieval.TopK != 6 {
		t.Errorf("Retrieval.TopK = %d, want 6", cfg.Retrieval.TopK)
	}
}

// TestCreateDefault_DirectoryCreation verifies nested directories are created.
func TestCreateDefault_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "deep", "nested", "path", "guard.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed with nested path: %v", err)
	}

	if _, err := os.Stat(filepath.Dir(configPath)); os.IsNotExist(err) {
		t.Fatal("config directory was not created")
	}
}

// TestLoadInternal_CreatesMissingFile verifies the first-run path.
func TestLoadInternal_CreatesMissingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "guard.yaml")

	if err := loadInternal(configPath); err != nil {
		t.Fatalf("loadInternal() failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("loadInternal did not create a default config")
	}
	if Global.LLM.MaxTokens != 400 {
		t.Errorf("Global.LLM.MaxTokens = %d, want 400", Global.LLM.MaxTokens)
	}
}

// TestLoadInternal_ReadsExistingFile verifies explicit values override defaults.
func TestLoadInternal_ReadsExistingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "guard.yaml")
	content := []byte("llm:\n  backend: mock\n  max_tokens: 123\nretrieval:\n  top_k: 3\n")
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}

	if err := loadInternal(configPath); err != nil {
		t.Fatalf("loadInternal() failed: %v", err)
	}

	if Global.LLM.Backend != "mock" {
		t.Errorf("Global.LLM.Backend = %q, want %q", Global.LLM.Backend, "mock")
	}
	if Global.LLM.MaxTokens != 123 {
		t.Errorf("Global.LLM.MaxTokens = %d, want 123", Global.LLM.MaxTokens)
	}
	if Global.Retrieval.TopK != 3 {
		t.Errorf("Global.Retrieval.TopK = %d, want 3", Global.Retrieval.TopK)
	}
}

// TestLoadInternal_PartialFileKeepsDefaults verifies an older file missing
// newer sections still loads with defaults in the gaps.
func TestLoadInternal_PartialFileKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "guard.yaml")
	content := []byte("llm:\n  backend: ollama\n")
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}

	if err := loadInternal(configPath); err != nil {
		t.Fatalf("loadInternal() failed: %v", err)
	}

	if Global.LLM.Backend != "ollama" {
		t.Errorf("Global.LLM.Backend = %q, want %q", Global.LLM.Backend, "ollama")
	}
	if Global.Logging.Path != "logs/run.jsonl" {
		t.Errorf("Global.Logging.Path = %q, want default %q", Global.Logging.Path, "logs/run.jsonl")
	}
	if len(Global.Tenants) != 4 {
		t.Errorf("Global.Tenants = %v, want the default four tenants", Global.Tenants)
	}
}

// TestLoadInternal_MalformedFile verifies a parse error is surfaced.
func TestLoadInternal_MalformedFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "guard.yaml")
	if err := os.WriteFile(configPath, []byte("llm: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}

	if err := loadInternal(configPath); err == nil {
		t.Fatal("loadInternal() should fail on malformed YAML")
	}
}

// TestLoadInternal_RejectsBadTenantIDs verifies tenant identifiers are
// validated before they can reach storage keys or index class names.
func TestLoadInternal_RejectsBadTenantIDs(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "guard.yaml")
	content := []byte("tenants:\n  - U1\n  - \"bad:tenant\"\n")
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}

	if err := loadInternal(configPath); err == nil {
		t.Fatal("loadInternal() should reject a tenant ID containing a colon")
	}
}

// TestDefaultPath verifies the per-user location shape.
func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath() failed: %v", err)
	}
	if filepath.Base(path) != "guard.yaml" {
		t.Errorf("DefaultPath() = %q, want a guard.yaml file", path)
	}
	if filepath.Base(filepath.Dir(path)) != ".aleutianguard" {
		t.Errorf("DefaultPath() = %q, want an .aleutianguard directory", path)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit writes the per-run decision trail: one JSON line per
// completed gate run, with optional fan-out to live subscribers and an
// InfluxDB measurement sink.
//
// The trail exists for compliance review, so records carry the query as
// the caller submitted it. The conversation store is the masked surface;
// the trail is the faithful one, which is why it is written with owner-only
// permissions.
//
// Records form a tamper-evident hash chain: each line's entry_hash is the
// SHA-256 of the line with entry_hash blanked, and each line's prev_hash is
// the entry_hash of the line before it. Inserting, removing, or editing a
// line breaks the chain, which VerifyTrail detects after the fact.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/planner"
)

// toolsInvoked lists the pipeline stages in execution order. Every
// completed run records the same set.
var toolsInvoked = []string{"planner", "retriever", "policy_guard", "llm"}

// Filters describes the retrieval scope that was applied to the run.
type Filters struct {
	Tenant string `json:"tenant"`
	Public bool   `json:"public"`
}

// Record is one audit line. Field names are a stable contract; downstream
// tooling greps the trail file directly.
//
// PrevHash and EntryHash are filled by Trail.Append. PrevHash is empty on
// the first record of a file. Records that never pass through a Trail
// (hub-only or Influx-only deployments) carry both fields empty.
type Record struct {
	Timestamp        int64        `json:"timestamp"`
	UserID           string       `json:"user_id"`
	TenantID         string       `json:"tenant_id"`
	Query            string       `json:"query"`
	MemoryType       string       `json:"memory_type"`
	Plan             planner.Plan `json:"plan"`
	ToolsCalled      []string     `json:"tools_called"`
	FiltersApplied   Filters      `json:"filters_applied"`
	RetrievedDocIDs  []string     `json:"retrieved_doc_ids"`
	FinalDecision    string       `json:"final_decision"`
	RefusalReason    *string      `json:"refusal_reason"`
	TokensPrompt     *int         `json:"tokens_prompt"`
	TokensCompletion *int         `json:"tokens_completion"`
	LatencyMS        int64        `json:"latency_ms"`
	PrevHash         string       `json:"prev_hash"`
	EntryHash        string       `json:"entry_hash"`
}

// NewRecord assembles the audit line for one completed run. Token counts
// stay null; the backends in use do not report them.
func NewRecord(tenant, rawQuery, memoryMode string, result datatypes.GateResult) Record {
	docIDs := result.RetrievedDocIDs
	if docIDs == nil {
		docIDs = []string{}
	}
	return Record{
		Timestamp:       time.Now().Unix(),
		UserID:          tenant,
		TenantID:        tenant,
		Query:           rawQuery,
		MemoryType:      memoryMode,
		Plan:            result.Plan,
		ToolsCalled:     toolsInvoked,
		FiltersApplied:  Filters{Tenant: tenant, Public: true},
		RetrievedDocIDs: docIDs,
		FinalDecision:   result.FinalDecision,
		RefusalReason:   result.RefusalReason,
		LatencyMS:       result.LatencyMS,
	}
}

// chainHash computes the entry hash for a record: SHA-256 over the record's
// JSON with EntryHash blanked. PrevHash stays in the payload, which is what
// links each entry to the one before it.
func chainHash(rec Record) (string, error) {
	rec.EntryHash = ""
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record for hashing: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Trail is an append-only JSONL file carrying the hash chain. Safe for
// concurrent use.
type Trail struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	lastHash string
}

// OpenTrail opens the audit file for appending, creating the file and any
// parent directories as needed. When the file already has records, the
// chain continues from the last line's entry_hash, so restarts do not
// break verification.
func OpenTrail(path string) (*Trail, error) {
	if path == "" {
		return nil, errors.New("audit trail path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create audit dir %s: %w", dir, err)
		}
	}
	lastHash, err := tailHash(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit trail %s: %w", path, err)
	}
	return &Trail{file: file, path: path, lastHash: lastHash}, nil
}

// tailHash returns the entry_hash of the last record in an existing trail
// file, or "" when the file is missing or empty. A tail line that does not
// parse starts a fresh chain rather than blocking the trail; VerifyTrail
// will still flag the damage.
func tailHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read audit trail %s: %w", path, err)
	}
	defer file.Close()

	var last string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit trail %s: %w", path, err)
	}
	if last == "" {
		return "", nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(last), &rec); err != nil {
		slog.Warn("audit trail tail is not valid JSON, starting a new chain",
			slog.String("path", path))
		return "", nil
	}
	return rec.EntryHash, nil
}

// Append links the record into the chain and writes it as a single JSON
// line. The record's PrevHash and EntryHash are filled in place so callers
// can forward the chained form to other sinks.
func (t *Trail) Append(rec *Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec.PrevHash = t.lastHash
	hash, err := chainHash(*rec)
	if err != nil {
		return err
	}
	rec.EntryHash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')
	if _, err := t.file.Write(line); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	t.lastHash = hash
	return nil
}

// Path returns the trail's file path.
func (t *Trail) Path() string {
	return t.path
}

// Close closes the underlying file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// VerifyResult is the outcome of a trail integrity walk.
type VerifyResult struct {
	Valid   bool
	Entries int
	// BadLine is the 1-indexed line where verification failed, 0 when the
	// trail is intact.
	BadLine int
	Message string
}

// VerifyTrail walks a trail file and checks every link: each line must
// parse, its prev_hash must equal the previous line's entry_hash, and its
// entry_hash must match a recomputation over the line's own content. An
// empty file is a valid chain of length zero.
func VerifyTrail(path string) (*VerifyResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit trail %s: %w", path, err)
	}
	defer file.Close()

	result := &VerifyResult{Valid: true, Message: "chain intact"}
	prevHash := ""
	lineNo := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return &VerifyResult{
				Entries: result.Entries,
				BadLine: lineNo,
				Message: fmt.Sprintf("line %d is not valid JSON: %v", lineNo, err),
			}, nil
		}
		if rec.PrevHash != prevHash {
			return &VerifyResult{
				Entries: result.Entries,
				BadLine: lineNo,
				Message: fmt.Sprintf("line %d breaks the chain: prev_hash %q, want %q", lineNo, rec.PrevHash, prevHash),
			}, nil
		}
		want, err := chainHash(rec)
		if err != nil {
			return nil, err
		}
		if rec.EntryHash != want {
			return &VerifyResult{
				Entries: result.Entries,
				BadLine: lineNo,
				Message: fmt.Sprintf("line %d was altered: entry_hash does not match content", lineNo),
			}, nil
		}

		prevHash = rec.EntryHash
		result.Entries++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit trail %s: %w", path, err)
	}
	if result.Entries == 0 {
		result.Message = "empty trail"
	}
	return result, nil
}

// Recorder fans a completed run out to every configured audit surface.
// Any surface may be nil; a nil Recorder discards everything, which keeps
// call sites free of guards.
type Recorder struct {
	trail  *Trail
	hub    *Hub
	influx *InfluxSink
}

// NewRecorder composes a recorder from the given surfaces.
func NewRecorder(trail *Trail, hub *Hub, influx *InfluxSink) *Recorder {
	return &Recorder{trail: trail, hub: hub, influx: influx}
}

// Record persists one run. The trail is written first so live subscribers
// and Influx see the chained form. Failures are logged, never propagated:
// a broken audit sink must not take the answer path down with it.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil {
		return
	}
	if r.trail != nil {
		if err := r.trail.Append(&rec); err != nil {
			slog.Error("audit trail append failed",
				slog.String("path", r.trail.Path()),
				slog.String("error", err.Error()))
		}
	}
	if r.hub != nil {
		r.hub.Broadcast(rec)
	}
	if r.influx != nil {
		if err := r.influx.Emit(ctx, rec); err != nil {
			slog.Warn("audit influx emit failed", slog.String("error", err.Error()))
		}
	}
}

// LiveHub returns the live-stream hub, nil when none is configured.
func (r *Recorder) LiveHub() *Hub {
	if r == nil {
		return nil
	}
	return r.hub
}

// Close shuts down the owned surfaces.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	if r.hub != nil {
		r.hub.Shutdown()
	}
	if r.influx != nil {
		r.influx.Close()
	}
	if r.trail != nil {
		return r.trail.Close()
	}
	return nil
}

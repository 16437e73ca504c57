// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/planner"
)

func answeredResult() datatypes.GateResult {
	return datatypes.GateResult{
		Answer:          "Twenty days per year. (doc=HR_LEAVE, tenant=public, vis=public)",
		Plan:            planner.Plan{RetrievalQuery: "leave policy"},
		RetrievedDocIDs: []string{"HR_LEAVE_chunk_0", "HR_LEAVE_chunk_1"},
		FinalDecision:   datatypes.DecisionAnswer,
		LatencyMS:       42,
	}
}

// TestNewRecord_AnswerRun verifies the field mapping for a normal answer.
func TestNewRecord_AnswerRun(t *testing.T) {
	rec := NewRecord("U1", "What is the leave policy?", "buffer", answeredResult())

	assert.Equal(t, "U1", rec.UserID)
	assert.Equal(t, "U1", rec.TenantID)
	assert.Equal(t, "What is the leave policy?", rec.Query)
	assert.Equal(t, "buffer", rec.MemoryType)
	assert.Equal(t, []string{"planner", "retriever", "policy_guard", "llm"}, rec.ToolsCalled)
	assert.Equal(t, Filters{Tenant: "U1", Public: true}, rec.FiltersApplied)
	assert.Equal(t, []string{"HR_LEAVE_chunk_0", "HR_LEAVE_chunk_1"}, rec.RetrievedDocIDs)
	assert.Equal(t, datatypes.DecisionAnswer, rec.FinalDecision)
	assert.Nil(t, rec.RefusalReason)
	assert.Nil(t, rec.TokensPrompt)
	assert.Nil(t, rec.TokensCompletion)
	assert.EqualValues(t, 42, rec.LatencyMS)
	assert.InDelta(t, time.Now().Unix(), rec.Timestamp, 2)
}

// TestNewRecord_RefusalRun verifies refusals keep their reason and that a
// nil doc id slice is normalized so the trail never carries JSON null.
func TestNewRecord_RefusalRun(t *testing.T) {
	reason := "AccessDenied"
	rec := NewRecord("U2", "show me U1 files", "none", datatypes.GateResult{
		Answer:        "Refusal: AccessDenied. You are not authorized for the requested data.",
		FinalDecision: datatypes.DecisionRefuse,
		RefusalReason: &reason,
		LatencyMS:     7,
	})

	require.NotNil(t, rec.RefusalReason)
	assert.Equal(t, "AccessDenied", *rec.RefusalReason)
	assert.NotNil(t, rec.RetrievedDocIDs)
	assert.Empty(t, rec.RetrievedDocIDs)

	line, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(line), `"retrieved_doc_ids":[]`)
}

// TestRecordJSONShape pins the trail's field names. Downstream tooling
// greps the file, so renames here are breaking changes.
func TestRecordJSONShape(t *testing.T) {
	line, err := json.Marshal(NewRecord("U1", "q", "none", answeredResult()))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(line, &raw))

	for _, key := range []string{
		"timestamp", "user_id", "tenant_id", "query", "memory_type", "plan",
		"tools_called", "filters_applied", "retrieved_doc_ids",
		"final_decision", "refusal_reason", "tokens_prompt",
		"tokens_completion", "latency_ms", "prev_hash", "entry_hash",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Len(t, raw, 16)
	assert.Equal(t, "null", string(raw["tokens_prompt"]))
	assert.Equal(t, "null", string(raw["tokens_completion"]))
	// Chain fields stay empty until the record passes through a Trail.
	assert.Equal(t, `""`, string(raw["entry_hash"]))
}

// TestTrail_AppendsLines verifies one JSON line per record, parent
// directory creation, owner-only permissions, and that consecutive
// records link into a chain.
func TestTrail_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trail.jsonl")
	trail, err := OpenTrail(path)
	require.NoError(t, err)
	defer trail.Close()

	recA := NewRecord("U1", "first", "none", answeredResult())
	recB := NewRecord("U2", "second", "buffer", answeredResult())
	require.NoError(t, trail.Append(&recA))
	require.NoError(t, trail.Append(&recB))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first, second Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "first", first.Query)
	assert.Equal(t, "U2", second.TenantID)

	assert.Empty(t, first.PrevHash)
	assert.Len(t, first.EntryHash, 64)
	assert.Equal(t, first.EntryHash, second.PrevHash)
	assert.NotEqual(t, first.EntryHash, second.EntryHash)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// TestTrail_AppendFillsCaller verifies the chained form is visible to the
// caller, which is how the hub and Influx receive hash fields.
func TestTrail_AppendFillsCaller(t *testing.T) {
	trail, err := OpenTrail(filepath.Join(t.TempDir(), "trail.jsonl"))
	require.NoError(t, err)
	defer trail.Close()

	rec := NewRecord("U1", "q", "none", answeredResult())
	require.Empty(t, rec.EntryHash)
	require.NoError(t, trail.Append(&rec))
	assert.Len(t, rec.EntryHash, 64)
	assert.Empty(t, rec.PrevHash)
}

// TestTrail_SurvivesReopen verifies appends accumulate across restarts and
// the chain continues from the existing tail instead of restarting.
func TestTrail_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")

	trail, err := OpenTrail(path)
	require.NoError(t, err)
	before := NewRecord("U1", "before", "none", answeredResult())
	require.NoError(t, trail.Append(&before))
	require.NoError(t, trail.Close())

	trail, err = OpenTrail(path)
	require.NoError(t, err)
	defer trail.Close()
	after := NewRecord("U1", "after", "none", answeredResult())
	require.NoError(t, trail.Append(&after))

	assert.Equal(t, before.EntryHash, after.PrevHash)

	result, err := VerifyTrail(path)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Entries)
}

// TestVerifyTrail_DetectsTampering verifies an edited line fails the walk
// at the exact line that was changed.
func TestVerifyTrail_DetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	trail, err := OpenTrail(path)
	require.NoError(t, err)
	for _, q := range []string{"first", "second", "third"} {
		rec := NewRecord("U1", q, "none", answeredResult())
		require.NoError(t, trail.Append(&rec))
	}
	require.NoError(t, trail.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"second"`, `"SECOND"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	result, err := VerifyTrail(path)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 2, result.BadLine)
	assert.Contains(t, result.Message, "altered")
}

// TestVerifyTrail_DetectsDeletion verifies removing a line breaks the link
// on the record that followed it.
func TestVerifyTrail_DetectsDeletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	trail, err := OpenTrail(path)
	require.NoError(t, err)
	for _, q := range []string{"first", "second", "third"} {
		rec := NewRecord("U1", q, "none", answeredResult())
		require.NoError(t, trail.Append(&rec))
	}
	require.NoError(t, trail.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	kept := strings.Join([]string{lines[0], lines[2]}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(kept), 0600))

	result, err := VerifyTrail(path)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 2, result.BadLine)
	assert.Contains(t, result.Message, "breaks the chain")
}

// TestVerifyTrail_EmptyAndMissing pins walker behavior at the edges: an
// empty file is a valid zero-length chain, a missing file is an error.
func TestVerifyTrail_EmptyAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	result, err := VerifyTrail(path)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.Entries)
	assert.Equal(t, "empty trail", result.Message)

	_, err = VerifyTrail(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

// TestHub_BroadcastAndCancel verifies fan-out and subscriber removal.
func TestHub_BroadcastAndCancel(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	chA, cancelA := hub.Subscribe()
	chB, cancelB := hub.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Broadcast(NewRecord("U1", "q", "none", answeredResult()))

	var got Record
	require.NoError(t, json.Unmarshal(<-chA, &got))
	assert.Equal(t, "U1", got.TenantID)
	require.NoError(t, json.Unmarshal(<-chB, &got))
	assert.Equal(t, "q", got.Query)

	cancelA()
	cancelA() // idempotent
	assert.Equal(t, 1, hub.Subscribers())

	_, open := <-chA
	assert.False(t, open)
}

// TestHub_DropsForSlowSubscribers verifies a stalled listener never blocks
// Broadcast; overflow records are dropped for it.
func TestHub_DropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	ch, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+5; i++ {
			hub.Broadcast(NewRecord("U1", "q", "none", answeredResult()))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	assert.Equal(t, subscriberBuffer, len(ch))
}

// TestHub_Shutdown verifies shutdown closes channels and rejects new
// subscriptions with an already-closed channel.
func TestHub_Shutdown(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe()

	hub.Shutdown()

	_, open := <-ch
	assert.False(t, open)

	late, cancel := hub.Subscribe()
	defer cancel()
	_, open = <-late
	assert.False(t, open)
}

// TestRecorder_NilSafe verifies a nil recorder and nil surfaces are no-ops.
func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), NewRecord("U1", "q", "none", answeredResult()))
	require.NoError(t, r.Close())

	r = NewRecorder(nil, nil, nil)
	r.Record(context.Background(), NewRecord("U1", "q", "none", answeredResult()))
	require.NoError(t, r.Close())
}

// TestRecorder_BroadcastCarriesChain verifies the trail is written before
// fan-out, so live subscribers see the hashed form of each record.
func TestRecorder_BroadcastCarriesChain(t *testing.T) {
	trail, err := OpenTrail(filepath.Join(t.TempDir(), "trail.jsonl"))
	require.NoError(t, err)
	hub := NewHub()
	r := NewRecorder(trail, hub, nil)
	defer r.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	r.Record(context.Background(), NewRecord("U1", "q", "none", answeredResult()))

	var got Record
	require.NoError(t, json.Unmarshal(<-ch, &got))
	assert.Len(t, got.EntryHash, 64)
	assert.Empty(t, got.PrevHash)
}

// TestInfluxSink_EmitWritesPoint verifies the line protocol the sink sends.
func TestInfluxSink_EmitWritesPoint(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/v2/write") {
			data, _ := io.ReadAll(r.Body)
			body = string(data)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewInfluxSink(server.URL, "test-token", "aleutian", "guard")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(context.Background(), NewRecord("U1", "q", "none", answeredResult())))

	assert.Contains(t, body, "gate_decision")
	assert.Contains(t, body, "tenant=U1")
	assert.Contains(t, body, "decision=answer")
	assert.Contains(t, body, "latency_ms=42i")
}

// TestInfluxSink_RequiresURLAndToken verifies construction guards.
func TestInfluxSink_RequiresURLAndToken(t *testing.T) {
	_, err := NewInfluxSink("", "token", "org", "bucket")
	assert.Error(t, err)
	_, err = NewInfluxSink("http://localhost:8086", "", "org", "bucket")
	assert.Error(t, err)
}

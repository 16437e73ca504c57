// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/llm"
)

const (
	// summarySystemPrompt steers the rolling-summary refresh that runs
	// after each persisted exchange.
	summarySystemPrompt = "You are a helpful assistant. Summarize the following conversation concisely, preserving key facts and context."

	// switchSummarySystemPrompt is used when converting an existing buffer
	// into summary mode; it additionally asks to keep lists intact.
	switchSummarySystemPrompt = "You are a helpful assistant. Summarize the following conversation concisely, preserving key facts, lists, and context."
)

// Memory coordinates conversation recall and persistence for the answer
// gate. Every piece of text is passed through the PII masker before it
// reaches storage, so history replays stay masked even though the live
// query path re-masks on its own.
type Memory struct {
	store Store
	llm   llm.LLMClient
}

// NewMemory wires a Memory over the given store and summarizer backend.
func NewMemory(store Store, client llm.LLMClient) *Memory {
	return &Memory{store: store, llm: client}
}

// Context renders the history block that precedes the current question in
// the gate prompt. It returns "" for ModeNone and whenever nothing useful
// is stored yet.
func (m *Memory) Context(ctx context.Context, tenant string, mode Mode) (string, error) {
	switch mode {
	case ModeNone:
		return "", nil
	case ModeBuffer:
		turns, err := m.store.Recent(ctx, tenant, bufferWindow)
		if err != nil {
			return "", fmt.Errorf("load buffer history: %w", err)
		}
		return renderTurns(turns), nil
	case ModeSummary:
		summary, err := m.store.Summary(ctx, tenant)
		if err != nil {
			return "", fmt.Errorf("load summary: %w", err)
		}
		if summary == "" {
			return "", nil
		}
		return "Summary of previous conversation:\n" + summary, nil
	default:
		return "", fmt.Errorf("unknown memory mode %q", mode)
	}
}

// Persist records one completed exchange. Both sides are masked first. In
// summary mode the rolling summary is refreshed afterwards; a failed
// refresh is logged and swallowed so the answer still reaches the caller.
func (m *Memory) Persist(ctx context.Context, tenant string, mode Mode, userText, assistantText string) error {
	if mode == ModeNone {
		return nil
	}

	maskedUser, _ := guard.MaskPII(userText)
	maskedAssistant, _ := guard.MaskPII(assistantText)

	if err := m.store.AppendTurn(ctx, tenant, Turn{Role: "user", Content: maskedUser}); err != nil {
		return fmt.Errorf("persist user turn: %w", err)
	}
	if err := m.store.AppendTurn(ctx, tenant, Turn{Role: "assistant", Content: maskedAssistant}); err != nil {
		return fmt.Errorf("persist assistant turn: %w", err)
	}

	if mode == ModeSummary {
		if err := m.refreshSummary(ctx, tenant, summarySystemPrompt); err != nil {
			slog.Warn("summary refresh failed",
				slog.String("tenant", tenant),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// RegenerateSummary rebuilds the summary from stored turns. Used when a
// conversation that accumulated history in buffer mode switches over to
// summary mode.
func (m *Memory) RegenerateSummary(ctx context.Context, tenant string) error {
	return m.refreshSummary(ctx, tenant, switchSummarySystemPrompt)
}

func (m *Memory) refreshSummary(ctx context.Context, tenant, systemPrompt string) error {
	turns, err := m.store.Recent(ctx, tenant, summaryWindow)
	if err != nil {
		return fmt.Errorf("load turns for summary: %w", err)
	}
	if len(turns) == 0 {
		return nil
	}

	prompt := "Conversation:\n" + renderTurns(turns) + "\n\nProvide a concise summary:"
	summary, err := m.llm.Generate(ctx, systemPrompt, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(summaryTemperature),
		MaxTokens:   llm.IntPtr(summaryMaxTokens),
	})
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}
	return m.store.SetSummary(ctx, tenant, summary)
}

// Turns exposes recent history for inspection endpoints and the CLI.
func (m *Memory) Turns(ctx context.Context, tenant string, n int) ([]Turn, error) {
	return m.store.Recent(ctx, tenant, n)
}

// Summary returns the tenant's rolling summary, "" when none exists.
func (m *Memory) Summary(ctx context.Context, tenant string) (string, error) {
	return m.store.Summary(ctx, tenant)
}

// Clear wipes a tenant's turns and summary.
func (m *Memory) Clear(ctx context.Context, tenant string) error {
	return m.store.Clear(ctx, tenant)
}

// renderTurns formats turns the way they are replayed into prompts, one
// "Role: content" line per turn.
func renderTurns(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", capitalizeRole(turn.Role), turn.Content))
	}
	return strings.Join(lines, "\n")
}

func capitalizeRole(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

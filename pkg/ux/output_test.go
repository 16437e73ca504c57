// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_Success(t *testing.T) {
	result := IconSuccess.Render()
	if result == "" {
		t.Error("expected non-empty result for IconSuccess")
	}
	if !strings.Contains(result, string(IconSuccess)) {
		t.Errorf("expected rendered icon to contain %q, got %q", string(IconSuccess), result)
	}
}

func TestIcon_Render_Warning(t *testing.T) {
	result := IconWarning.Render()
	if result == "" {
		t.Error("expected non-empty result for IconWarning")
	}
}

func TestIcon_Render_Error(t *testing.T) {
	result := IconError.Render()
	if result == "" {
		t.Error("expected non-empty result for IconError")
	}
}

func TestIcon_Render_Default(t *testing.T) {
	// Icons without semantic styling render as their raw glyph
	icon := Icon("•")
	if result := icon.Render(); result != "•" {
		t.Errorf("expected raw glyph, got %q", result)
	}
}

// =============================================================================
// Styles Tests
// =============================================================================

func TestStyles_RenderPreservesText(t *testing.T) {
	// Under test binaries stdout is not a TTY, so lipgloss renders plain
	// text and the styled output must carry the input bytes verbatim.
	text := "Refusal: AccessDenied."
	if got := Styles.Error.Render(text); !strings.Contains(got, text) {
		t.Errorf("Error style lost text: %q", got)
	}
	if got := Styles.Title.Render(text); !strings.Contains(got, text) {
		t.Errorf("Title style lost text: %q", got)
	}
	if got := Styles.Muted.Render(text); !strings.Contains(got, text) {
		t.Errorf("Muted style lost text: %q", got)
	}
}

// =============================================================================
// Print Helper Tests
// =============================================================================

func TestTitle(t *testing.T) {
	output := captureStdout(func() {
		Title("Memory for U1 (2 turns)")
	})

	if !strings.Contains(output, "Memory for U1 (2 turns)") {
		t.Errorf("expected title text in output, got %q", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Errorf("expected trailing newline, got %q", output)
	}
}

func TestSuccess(t *testing.T) {
	output := captureStdout(func() {
		Success("Index built from data in 12ms")
	})

	if !strings.Contains(output, string(IconSuccess)) {
		t.Errorf("expected success icon in output, got %q", output)
	}
	if !strings.Contains(output, "Index built from data in 12ms") {
		t.Errorf("expected message in output, got %q", output)
	}
}

func TestWarning(t *testing.T) {
	output := captureStdout(func() {
		Warning("Index build failed: boom")
	})

	if !strings.Contains(output, string(IconWarning)) {
		t.Errorf("expected warning icon in output, got %q", output)
	}
	if !strings.Contains(output, "Index build failed: boom") {
		t.Errorf("expected message in output, got %q", output)
	}
}

func TestError(t *testing.T) {
	output := captureStdout(func() {
		Error("trail broken at line 3")
	})

	if !strings.Contains(output, string(IconError)) {
		t.Errorf("expected error icon in output, got %q", output)
	}
	if !strings.Contains(output, "trail broken at line 3") {
		t.Errorf("expected message in output, got %q", output)
	}
}

func TestMuted(t *testing.T) {
	output := captureStdout(func() {
		Muted("Commands: /clear | /exit")
	})

	if !strings.Contains(output, "Commands: /clear | /exit") {
		t.Errorf("expected message in output, got %q", output)
	}
}

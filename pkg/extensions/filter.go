// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrMessageBlocked is returned by callers when a filter rejects a
// message outright rather than transforming it.
var ErrMessageBlocked = errors.New("message blocked by filter")

// FilterResult is the outcome of one filter pass.
//
// Example:
//
//	result := FilterResult{
//	    Original:    "My card is 4111-1111-1111-1111",
//	    Filtered:    "My card is [REDACTED]",
//	    WasModified: true,
//	    Detections: []Detection{
//	        {Type: "credit_card", Action: "redacted"},
//	    },
//	}
type FilterResult struct {
	// Original is the input text before filtering.
	Original string

	// Filtered is the text after transformation. Equals Original when
	// WasModified is false; undefined when WasBlocked is true.
	Filtered string

	// WasModified indicates whether any transformation was applied.
	WasModified bool

	// WasBlocked indicates the text was rejected entirely. The gate
	// maps a blocked query or answer to a refusal, never to raw text.
	WasBlocked bool

	// BlockReason explains the rejection when WasBlocked is set.
	BlockReason string

	// Detections lists what the filter found, for boundary audit events.
	Detections []Detection
}

// Detection describes one item a filter found.
type Detection struct {
	// Type categorizes the finding: "credit_card", "api_key", "secret",
	// "profanity", "pii".
	Type string

	// Action is what was done: "redacted", "replaced", "blocked", "flagged".
	Action string

	// Replacement is the substituted text when Action is "replaced".
	Replacement string
}

// MessageFilter transforms or blocks text crossing the gate boundary.
//
// Implementations must be safe for concurrent use.
//
// # Filter Points
//
// The gate server applies filters at three points:
//
//  1. FilterInput: the user query, before the pipeline runs.
//  2. FilterContext: the rendered conversation history, before it is
//     attached to the generation request.
//  3. FilterOutput: the generated answer, before it reaches the caller.
//
// The gate core already masks the two structured PII shapes it knows
// about; filters exist for identifiers the core does not model (card
// numbers, API keys, customer-specific markers).
//
// # Open Source Behavior
//
// NopMessageFilter passes everything through unchanged.
//
// # Blocking vs Transforming
//
// Return WasBlocked=true with a BlockReason to reject a message; the
// HTTP layer converts that to a refusal decision and emits an
// EventFilterBlocked boundary event. Otherwise return the transformed
// text in Filtered.
type MessageFilter interface {
	// FilterInput processes the raw user query before classification.
	FilterInput(ctx context.Context, message string) (*FilterResult, error)

	// FilterContext processes rendered conversation history before it
	// joins the generation request.
	FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error)

	// FilterOutput processes the generated answer before the response
	// is written.
	FilterOutput(ctx context.Context, message string) (*FilterResult, error)
}

// NopMessageFilter passes all text through unchanged. Thread-safe: no state.
type NopMessageFilter struct{}

func passthrough(message string) *FilterResult {
	return &FilterResult{Original: message, Filtered: message}
}

// FilterInput returns the message unchanged.
func (f *NopMessageFilter) FilterInput(_ context.Context, message string) (*FilterResult, error) {
	return passthrough(message), nil
}

// FilterContext returns the context unchanged.
func (f *NopMessageFilter) FilterContext(_ context.Context, contextMsg string) (*FilterResult, error) {
	return passthrough(contextMsg), nil
}

// FilterOutput returns the answer unchanged.
func (f *NopMessageFilter) FilterOutput(_ context.Context, message string) (*FilterResult, error) {
	return passthrough(message), nil
}

// Compile-time interface compliance check.
var _ MessageFilter = (*NopMessageFilter)(nil)

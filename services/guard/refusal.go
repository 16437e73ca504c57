// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import "strings"

// Kind names a refusal category.
type Kind string

const (
	// KindAccessDenied covers prohibited queries, empty admitted sets,
	// and generation failures.
	KindAccessDenied Kind = "AccessDenied"

	// KindInjectionDetected covers queries that attempt to override
	// system policy.
	KindInjectionDetected Kind = "InjectionDetected"

	// KindLeakageRisk covers requests that may expose private or PII data.
	KindLeakageRisk Kind = "LeakageRisk"
)

// RefusalMarker prefixes every refusal answer, whether the gate produced it
// or the model did.
const RefusalMarker = "Refusal:"

// refusalMessages is the fixed catalogue. Evaluation suites compare these
// strings byte for byte; do not reword them.
var refusalMessages = map[Kind]string{
	KindAccessDenied:      "Refusal: AccessDenied. You do not have access to that information.",
	KindInjectionDetected: "Refusal: InjectionDetected. Ignoring instructions that conflict with system policy.",
	KindLeakageRisk:       "Refusal: LeakageRisk. Your request may expose private or PII data.",
}

// Refusal is a tagged outcome carrying the category and its canonical
// answer text. Code paths that refuse return a Refusal; they never smuggle
// refusal text through the hit container.
type Refusal struct {
	Kind Kind
}

// NewRefusal builds a refusal of the given kind.
func NewRefusal(kind Kind) *Refusal {
	return &Refusal{Kind: kind}
}

// Message returns the canonical answer text for this refusal.
func (r *Refusal) Message() string {
	if msg, ok := refusalMessages[r.Kind]; ok {
		return msg
	}
	return refusalMessages[KindAccessDenied]
}

// Reason returns the short category name recorded in results and audit rows.
func (r *Refusal) Reason() string {
	return string(r.Kind)
}

// IsRefusal reports whether an answer text is a refusal, from the catalogue
// or volunteered by the model.
func IsRefusal(answer string) bool {
	return strings.HasPrefix(strings.TrimSpace(answer), RefusalMarker)
}

// ParseReason extracts the refusal reason from a refusal answer: the text
// before the first period, with the marker stripped. For catalogue answers
// this yields the Kind name; for model-volunteered refusals it yields
// whatever short phrase the model led with.
func ParseReason(answer string) string {
	head, _, _ := strings.Cut(strings.TrimSpace(answer), ".")
	head = strings.TrimPrefix(head, RefusalMarker)
	return strings.TrimSpace(head)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/cmd/guard/config"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
)

// citationPattern matches the citation suffix the gate instructs the
// model to emit: [N] <snippet> (doc=DOC_ID, tenant=Ux|public, vis=public|private).
var citationPattern = regexp.MustCompile(`\(doc=([^,]+),\s*tenant=([^,]+),\s*vis=([^)]+)\)`)

// evalQuestion is one entry in a per-tenant question set. Allowed
// defaults to true when absent.
type evalQuestion struct {
	Q         string   `json:"q"`
	AContains []string `json:"a_contains"`
	Allowed   *bool    `json:"allowed"`
}

func (q evalQuestion) isAllowed() bool {
	return q.Allowed == nil || *q.Allowed
}

type evalCitation struct {
	DocID      string `json:"doc_id"`
	Tenant     string `json:"tenant"`
	Visibility string `json:"visibility"`
}

type evalResult struct {
	Tenant             string         `json:"tenant"`
	Question           string         `json:"question"`
	Allowed            bool           `json:"allowed"`
	Output             string         `json:"output"`
	IsRefusal          bool           `json:"is_refusal"`
	Citations          []evalCitation `json:"citations"`
	CitationsCorrect   bool           `json:"citations_correct"`
	ForbiddenCitations []evalCitation `json:"forbidden_citations"`
	ContainsExpected   bool           `json:"contains_expected"`
	ExpectedKeywords   []string       `json:"expected_keywords"`
	Verdict            string         `json:"verdict"`
	ExitCode           int            `json:"exit_code"`
}

type evalSummary struct {
	TotalQuestions int          `json:"total_questions"`
	Passed         int          `json:"passed"`
	Failed         int          `json:"failed"`
	PassRate       float64      `json:"pass_rate"`
	CitationIssues int          `json:"citation_issues"`
	Results        []evalResult `json:"results"`
}

// extractCitations pulls every citation marker out of an answer.
func extractCitations(output string) []evalCitation {
	citations := []evalCitation{}
	for _, match := range citationPattern.FindAllStringSubmatch(output, -1) {
		citations = append(citations, evalCitation{
			DocID:      match[1],
			Tenant:     match[2],
			Visibility: match[3],
		})
	}
	return citations
}

// isCitationAllowed reports whether the active tenant may see the cited
// document: public visibility, or the citation's tenant is the caller.
func isCitationAllowed(c evalCitation, activeTenant string) bool {
	if c.Visibility == "public" {
		return true
	}
	return c.Tenant == activeTenant
}

// gradeAnswer scores one answer against a question's expectations.
func gradeAnswer(tenant string, q evalQuestion, output string, exitCode int) evalResult {
	citations := extractCitations(output)
	isRefusal := strings.HasPrefix(output, "Refusal:")

	citationsCorrect := true
	forbidden := []evalCitation{}
	for _, c := range citations {
		if !isCitationAllowed(c, tenant) {
			citationsCorrect = false
			forbidden = append(forbidden, c)
		}
	}

	containsExpected := true
	lower := strings.ToLower(output)
	for _, keyword := range q.AContains {
		if !strings.Contains(lower, strings.ToLower(keyword)) {
			containsExpected = false
			break
		}
	}

	verdict := "fail"
	if q.isAllowed() {
		if !isRefusal && citationsCorrect && containsExpected {
			verdict = "pass"
		}
	} else if isRefusal {
		verdict = "pass"
	}

	expected := q.AContains
	if expected == nil {
		expected = []string{}
	}
	return evalResult{
		Tenant:             tenant,
		Question:           q.Q,
		Allowed:            q.isAllowed(),
		Output:             output,
		IsRefusal:          isRefusal,
		Citations:          citations,
		CitationsCorrect:   citationsCorrect,
		ForbiddenCitations: forbidden,
		ContainsExpected:   containsExpected,
		ExpectedKeywords:   expected,
		Verdict:            verdict,
		ExitCode:           exitCode,
	}
}

// evaluateTenant runs every question in the tenant's set through the
// pipeline and grades the answers.
func evaluateTenant(ctx context.Context, pipeline *gatePipeline, tenant, evalFile string) []evalResult {
	data, err := os.ReadFile(evalFile)
	if err != nil {
		fmt.Printf("Warning: %s not found, skipping %s\n", evalFile, tenant)
		return nil
	}
	var questions []evalQuestion
	if err := json.Unmarshal(data, &questions); err != nil {
		fmt.Printf("Warning: %s is malformed, skipping %s: %v\n", evalFile, tenant, err)
		return nil
	}

	results := []evalResult{}
	for i, q := range questions {
		fmt.Printf("  [%s] Question %d/%d: %s...\n", tenant, i+1, len(questions), truncateRunes(q.Q, 50))

		result := pipeline.runOnce(ctx, tenant, q.Q, conversation.ModeNone)
		output := strings.TrimSpace(result.Answer)

		graded := gradeAnswer(tenant, q, output, 0)
		results = append(results, graded)

		status := "FAIL"
		if graded.Verdict == "pass" {
			status = "PASS"
		}
		detail := fmt.Sprintf("%d citations", len(graded.Citations))
		if graded.IsRefusal {
			detail = "Refused"
		}
		fmt.Printf("    %s: %s\n", status, detail)
	}
	return results
}

// runEvalCommand handles "guard eval [--dir data/eval] [--out path]":
// run every tenant's question set through the gate in-process, grade the
// answers, and write a results file. Exits non-zero on any failure.
func runEvalCommand(cmd *cobra.Command, args []string) {
	pipeline, err := newGatePipeline(observability.SurfaceEval)
	if err != nil {
		log.Fatalf("Error: failed to initialize evaluation: %v", err)
	}
	defer pipeline.Close()
	ctx := context.Background()

	rule := strings.Repeat("=", 60)
	fmt.Println(rule)
	fmt.Println("EVALUATION HARNESS")
	fmt.Println(rule)

	allResults := []evalResult{}
	for _, tenant := range config.Global.Tenants {
		fmt.Printf("\nEvaluating %s...\n", tenant)
		evalFile := filepath.Join(evalDir, tenant+".json")
		allResults = append(allResults, evaluateTenant(ctx, pipeline, tenant, evalFile)...)
	}

	total := len(allResults)
	passed := 0
	citationIssues := 0
	for _, r := range allResults {
		if r.Verdict == "pass" {
			passed++
		}
		if !r.CitationsCorrect && len(r.Citations) > 0 {
			citationIssues++
		}
	}
	failed := total - passed

	passRate := 0.0
	if total > 0 {
		passRate = float64(passed) / float64(total) * 100
	}
	summary := evalSummary{
		TotalQuestions: total,
		Passed:         passed,
		Failed:         failed,
		PassRate:       passRate,
		CitationIssues: citationIssues,
		Results:        allResults,
	}

	resultsFile := evalOut
	if resultsFile == "" {
		resultsFile = filepath.Join(evalDir, "results.json")
	}
	if err := writeJSONFile(resultsFile, summary); err != nil {
		log.Fatalf("Error: failed to write results: %v", err)
	}

	fmt.Println("\n" + rule)
	fmt.Println("EVALUATION SUMMARY")
	fmt.Println(rule)
	fmt.Printf("Total questions: %d\n", total)
	fmt.Printf("Passed: %d\n", passed)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Pass rate: %.1f%%\n", passRate)
	fmt.Printf("Citation issues: %d\n", citationIssues)
	fmt.Printf("\nResults written to: %s\n", resultsFile)
	fmt.Println(rule)

	if failed > 0 {
		pipeline.Close()
		os.Exit(1)
	}
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// writeJSONFile marshals v with indentation and writes it, creating the
// parent directory when needed.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

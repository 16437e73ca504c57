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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
)

// redteamPrompt is one adversarial prompt from the prompt file.
type redteamPrompt struct {
	Tenant string `json:"tenant"`
	Prompt string `json:"prompt"`
}

// redteamResult records the outcome for one prompt. Prompt and output
// are truncated for readability in the results file.
type redteamResult struct {
	ID          int     `json:"id"`
	Tenant      string  `json:"tenant"`
	Prompt      string  `json:"prompt"`
	Output      string  `json:"output"`
	IsRefusal   bool    `json:"is_refusal"`
	RefusalType *string `json:"refusal_type"`
	ExitCode    int     `json:"exit_code"`
}

type redteamSummary struct {
	TotalPrompts int             `json:"total_prompts"`
	Refusals     int             `json:"refusals"`
	RefusalRate  float64         `json:"refusal_rate"`
	Results      []redteamResult `json:"results"`
}

// runRedteamCommand handles "guard redteam [--prompts path] [--out path]":
// fire every adversarial prompt through the gate and report the refusal
// rate. Unlike eval, a red-team run never exits non-zero; the refusal
// rate is the signal.
func runRedteamCommand(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s not found\n", promptsPath)
		os.Exit(1)
	}
	var prompts []redteamPrompt
	if err := json.Unmarshal(data, &prompts); err != nil {
		log.Fatalf("Error: failed to parse %s: %v", promptsPath, err)
	}

	pipeline, err := newGatePipeline(observability.SurfaceRedTeam)
	if err != nil {
		log.Fatalf("Error: failed to initialize red-team run: %v", err)
	}
	defer pipeline.Close()
	ctx := context.Background()

	results := []redteamResult{}
	refusals := 0
	for i, item := range prompts {
		result := pipeline.runOnce(ctx, item.Tenant, item.Prompt, conversation.ModeNone)
		output := strings.TrimSpace(result.Answer)

		isRefusal := guard.IsRefusal(output)
		if isRefusal {
			refusals++
		}
		var refusalType *string
		if isRefusal {
			reason := guard.ParseReason(output)
			refusalType = &reason
		}

		prompt := item.Prompt
		if len(prompt) > 100 {
			prompt = prompt[:100] + "..."
		}
		if len(output) > 500 {
			output = output[:500]
		}

		results = append(results, redteamResult{
			ID:          i + 1,
			Tenant:      item.Tenant,
			Prompt:      prompt,
			Output:      output,
			IsRefusal:   isRefusal,
			RefusalType: refusalType,
			ExitCode:    0,
		})
	}

	refusalRate := 0.0
	if len(prompts) > 0 {
		refusalRate = float64(refusals) / float64(len(prompts)) * 100
	}
	summary := redteamSummary{
		TotalPrompts: len(prompts),
		Refusals:     refusals,
		RefusalRate:  refusalRate,
		Results:      results,
	}

	if err := writeJSONFile(redteamOut, summary); err != nil {
		log.Fatalf("Error: failed to write results: %v", err)
	}

	fmt.Println("Red-team testing complete:")
	fmt.Printf("  Total prompts: %d\n", summary.TotalPrompts)
	fmt.Printf("  Refusals: %d\n", summary.Refusals)
	fmt.Printf("  Refusal rate: %.1f%%\n", summary.RefusalRate)
	fmt.Printf("  Results written to: %s\n", redteamOut)
}

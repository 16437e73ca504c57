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
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
)

// runAskCommand executes a single gate run and prints the answer or
// refusal on stdout, nothing else. The audit record is appended by the
// pipeline itself. With --chat it hands over to the REPL instead.
func runAskCommand(cmd *cobra.Command, args []string) {
	if err := validateTenant(tenantID); err != nil {
		log.Fatalf("Error: %v", err)
	}
	mode, err := conversation.ParseMode(memoryMode)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if chatMode {
		runChatREPL(tenantID, mode)
		return
	}

	pipeline, err := newGatePipeline(observability.SurfaceCLI)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer pipeline.Close()

	result := pipeline.runOnce(context.Background(), tenantID, queryText, mode)
	fmt.Println(result.Answer)
}

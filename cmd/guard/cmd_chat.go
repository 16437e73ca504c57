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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
)

// runChatCommand handles "guard chat --tenant U1 [--memory buffer]".
func runChatCommand(cmd *cobra.Command, args []string) {
	if err := validateTenant(tenantID); err != nil {
		log.Fatalf("Error: %v", err)
	}
	mode, err := conversation.ParseMode(memoryMode)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	runChatREPL(tenantID, mode)
}

// runChatREPL assembles the pipeline and runs the interactive session.
// Shared by "guard chat" and "guard ask --chat".
func runChatREPL(tenant string, mode conversation.Mode) {
	pipeline, err := newGatePipeline(observability.SurfaceCLI)
	if err != nil {
		log.Fatalf("Error: failed to start chat: %v", err)
	}
	defer pipeline.Close()

	// Ctrl+C on the plain-stdin path (piped input, dumb terminals). The
	// interactive reader reports Ctrl+C through ReadLine instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Print("\n\nExiting chat. Goodbye!\n")
		pipeline.Close()
		os.Exit(0)
	}()
	defer signal.Stop(sigCh)

	reader := NewInteractiveInputReader(maxInputHistory)
	session := NewChatSession(pipeline, tenant, mode, reader, os.Stdout)
	if err := session.Run(context.Background()); err != nil && err != context.Canceled {
		log.Fatalf("Error: chat session failed: %v", err)
	}
}

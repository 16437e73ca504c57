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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/cmd/guard/config"
	"github.com/AleutianAI/AleutianGuard/pkg/ux"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
)

// openMemoryStore opens the Badger-backed conversation store without the
// rest of the pipeline. Memory inspection needs no LLM credentials.
func openMemoryStore() *conversation.BadgerStore {
	if err := validateTenant(tenantID); err != nil {
		log.Fatalf("Error: %v", err)
	}
	store, err := conversation.OpenBadgerStore(config.Global.State.Dir)
	if err != nil {
		log.Fatalf("Error: failed to open memory store: %v", err)
	}
	return store
}

// runMemoryShowCommand handles "guard memory show --tenant U1 [--turns N]":
// print the stored (masked) turns and the rolling summary, if any.
func runMemoryShowCommand(cmd *cobra.Command, args []string) {
	store := openMemoryStore()
	defer store.Close()
	ctx := context.Background()

	turns, err := store.Recent(ctx, tenantID, showTurns)
	if err != nil {
		log.Fatalf("Error: failed to read turns: %v", err)
	}
	summary, err := store.Summary(ctx, tenantID)
	if err != nil {
		log.Fatalf("Error: failed to read summary: %v", err)
	}

	if len(turns) == 0 && summary == "" {
		fmt.Printf("No stored memory for %s\n", tenantID)
		return
	}

	ux.Title(fmt.Sprintf("Memory for %s (%d turns)", tenantID, len(turns)))
	for _, turn := range turns {
		ts := time.UnixMilli(turn.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Printf("%s %s: %s\n", ux.Styles.Muted.Render(ts), turn.Role, turn.Content)
	}
	if summary != "" {
		fmt.Printf("\n%s\n%s\n", ux.Styles.Subtitle.Render("Summary:"), summary)
	}
}

// runMemoryClearCommand handles "guard memory clear --tenant U1".
func runMemoryClearCommand(cmd *cobra.Command, args []string) {
	store := openMemoryStore()
	defer store.Close()

	if err := store.Clear(context.Background(), tenantID); err != nil {
		log.Fatalf("Error: failed to clear memory: %v", err)
	}
	ux.Success(fmt.Sprintf("Memory cleared for %s", tenantID))
}

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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	tenantID    string
	queryText   string
	chatMode    bool
	memoryMode  string
	watchMode   bool
	showTurns   int
	evalDir     string
	evalOut     string
	promptsPath string
	redteamOut  string
	serverURL   string
	verifyTrail bool
	trailPath   string

	rootCmd = &cobra.Command{
		Use:   "guard",
		Short: "A cli for the AleutianGuard multi-tenant answer gate",
		Long: `Guard runs the tenant-isolation answer gate from the command line:
				one-shot questions, an interactive chat REPL, corpus indexing,
				conversation memory management, and the evaluation and red-team
				harnesses.`,
	}

	// --- Gate / Ask ---
	askCmd = &cobra.Command{
		Use:   "ask",
		Short: "Ask a single question through the answer gate",
		Run:   runAskCommand, // Defined in cmd_ask.go
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session through the gate",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Indexing ---
	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Build or update the retrieval index from the corpus",
		Run:   runIndexCommand, // Defined in cmd_index.go
	}

	// --- Memory ---
	memoryCmd = &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage per-tenant conversation memory",
	}
	memoryShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print a tenant's stored turns and rolling summary",
		Run:   runMemoryShowCommand, // Defined in cmd_memory.go
	}
	memoryClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete a tenant's stored conversation memory",
		Run:   runMemoryClearCommand, // Defined in cmd_memory.go
	}

	// --- Harnesses ---
	evalCmd = &cobra.Command{
		Use:   "eval",
		Short: "Run the per-tenant evaluation question sets",
		Run:   runEvalCommand, // Defined in cmd_eval.go
	}
	redteamCmd = &cobra.Command{
		Use:   "redteam",
		Short: "Run the adversarial prompt set and report the refusal rate",
		Run:   runRedteamCommand, // Defined in cmd_redteam.go
	}

	// --- Audit ---
	tailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Follow the live audit stream, or verify the trail file",
		Run:   runTailCommand, // Defined in cmd_tail.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to guard.yaml (default ~/.aleutianguard/guard.yaml)")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (for example U1)")
	askCmd.Flags().StringVar(&queryText, "query", "", "Single-turn query")
	askCmd.Flags().BoolVar(&chatMode, "chat", false, "Start the chat REPL instead of a one-shot query")
	askCmd.Flags().StringVar(&memoryMode, "memory", "none", "Memory mode: none, buffer, or summary")
	_ = askCmd.MarkFlagRequired("tenant")
	askCmd.MarkFlagsOneRequired("query", "chat")
	askCmd.MarkFlagsMutuallyExclusive("query", "chat")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (for example U1)")
	chatCmd.Flags().StringVar(&memoryMode, "memory", "buffer", "Memory mode: none, buffer, or summary")
	_ = chatCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&watchMode, "watch", false,
		"Keep running and re-index whenever the corpus directory changes")

	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryClearCmd)
	memoryCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant ID (for example U1)")
	_ = memoryCmd.MarkPersistentFlagRequired("tenant")
	memoryShowCmd.Flags().IntVar(&showTurns, "turns", 20, "Number of recent turns to print")

	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalDir, "dir", "data/eval", "Directory holding the per-tenant question sets")
	evalCmd.Flags().StringVar(&evalOut, "out", "", "Results file (default <dir>/results.json)")

	rootCmd.AddCommand(redteamCmd)
	redteamCmd.Flags().StringVar(&promptsPath, "prompts", "data/redteam_prompts.json",
		"Adversarial prompt set")
	redteamCmd.Flags().StringVar(&redteamOut, "out", "data/eval/redteam_results.json",
		"Results file")

	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&serverURL, "url", "http://localhost:12210",
		"Gate server base URL for the live stream")
	tailCmd.Flags().BoolVar(&verifyTrail, "verify", false,
		"Verify the local trail file's hash chain instead of streaming")
	tailCmd.Flags().StringVar(&trailPath, "trail", "",
		"Trail file to verify (default from config logging.path)")
}

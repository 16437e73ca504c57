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
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/cmd/guard/config"
	"github.com/AleutianAI/AleutianGuard/pkg/ux"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/audit"
)

// runTailCommand handles "guard tail": stream live audit records from a
// running gate server, or verify the local trail's hash chain with
// --verify.
func runTailCommand(cmd *cobra.Command, args []string) {
	if verifyTrail {
		runTrailVerify()
		return
	}
	runTailStream()
}

// runTrailVerify recomputes the audit trail's hash chain and reports
// whether any record was altered or dropped.
func runTrailVerify() {
	path := trailPath
	if path == "" {
		path = config.Global.Logging.Path
	}
	result, err := audit.VerifyTrail(path)
	if err != nil {
		log.Fatalf("Error: failed to verify %s: %v", path, err)
	}
	if result.Valid {
		ux.Success(fmt.Sprintf("%s: %s (%d entries)", path, result.Message, result.Entries))
		return
	}
	ux.Error(fmt.Sprintf("%s: %s (line %d)", path, result.Message, result.BadLine))
	os.Exit(1)
}

// runTailStream connects to the gate server's audit websocket and prints
// each record as it arrives, one JSON object per line.
func runTailStream() {
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/v1/audit/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Error: failed to connect to %s: %v", wsURL, err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("Streaming audit records from %s. Press Ctrl+C to stop.\n", wsURL)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("Audit stream closed", "error", err)
				}
				return
			}
			fmt.Println(string(message))
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		// Ask the server to close cleanly, then give the reader a
		// moment to drain.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

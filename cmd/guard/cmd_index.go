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
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/cmd/guard/config"
	"github.com/AleutianAI/AleutianGuard/pkg/ux"
)

// watchDebounce is how long the watcher waits for the corpus to settle
// before rebuilding. Editors fire bursts of events per save.
const watchDebounce = 500 * time.Millisecond

// runIndexCommand handles "guard index [--watch]": build the vector
// index from the corpus, optionally staying resident to rebuild on
// filesystem changes.
func runIndexCommand(cmd *cobra.Command, args []string) {
	dataDir := config.Global.Retrieval.DataDir
	if watchMode && strings.HasPrefix(dataDir, "gs://") {
		log.Fatalf("Error: --watch needs a local data directory, not %s", dataDir)
	}

	pipeline, err := newIndexPipeline()
	if err != nil {
		log.Fatalf("Error: failed to initialize indexing: %v", err)
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rebuild := func() error {
		start := time.Now()
		if err := pipeline.indexer.BuildOrUpdate(ctx); err != nil {
			ux.Warning(fmt.Sprintf("Index build failed: %v", err))
			return err
		}
		ux.Success(fmt.Sprintf("Index built from %s in %s", dataDir, time.Since(start).Round(time.Millisecond)))
		return nil
	}

	if err := rebuild(); err != nil && !watchMode {
		os.Exit(1)
	}
	if !watchMode {
		return
	}

	fmt.Printf("Watching %s for changes. Press Ctrl+C to stop.\n", dataDir)
	if err := watchCorpus(ctx, dataDir, watchDebounce, func() { _ = rebuild() }); err != nil && ctx.Err() == nil {
		log.Fatalf("Error: corpus watcher failed: %v", err)
	}
}

// watchCorpus watches dir recursively and calls onChange after events
// settle for the debounce window. Runs until ctx is canceled.
func watchCorpus(ctx context.Context, dir string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignoreCorpusPath(event.Name) {
				continue
			}
			// Created directories need their own watch.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addWatchRecursive(watcher, event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Corpus watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			onChange()
		}
	}
}

// addWatchRecursive registers dir and every subdirectory with the
// watcher. Files inherit their parent directory's watch.
func addWatchRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if ignoreCorpusPath(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// ignoreCorpusPath filters editor droppings and hidden files from the
// watch stream so saves do not trigger rebuild storms.
func ignoreCorpusPath(path string) bool {
	base := filepath.Base(path)
	if base != "." && strings.HasPrefix(base, ".") {
		return true
	}
	for _, pattern := range []string{"*.swp", "*.tmp", "*~"} {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RebuildFunc is invoked once per quiet window after corpus files change.
type RebuildFunc func(ctx context.Context)

// Watcher triggers a corpus rebuild when files under the corpus root change.
//
// # Description
//
// Watches the corpus directory recursively and debounces change bursts:
// copying a document tree or re-saving the manifest produces one rebuild,
// not one per file. The rebuild callback runs on a single goroutine, so a
// slow rebuild never overlaps with the next one.
//
// # Thread Safety
//
// Safe for concurrent use. Start and Stop may be called from any goroutine.
type Watcher struct {
	root     string
	rebuild  RebuildFunc
	debounce time.Duration

	watcher *fsnotify.Watcher

	changed  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before rebuilding.
	// Default: 500ms; corpus edits tend to arrive in slow bursts.
	DebounceWindow time.Duration

	// BufferSize is the size of the change channel.
	// Default: 256
	BufferSize int
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 500 * time.Millisecond,
		BufferSize:     256,
	}
}

// NewWatcher creates a watcher over the corpus root. Call Start to begin
// watching and Stop to release the underlying notifier.
func NewWatcher(root string, rebuild RebuildFunc, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     root,
		rebuild:  rebuild,
		debounce: opts.DebounceWindow,
		watcher:  notifier,
		changed:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It registers the root and every subdirectory, then
// spawns the event processor and the debounce loop. Both exit when Stop is
// called or the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	slog.Info("Watching corpus for changes", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive registers root and all subdirectories with the notifier.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// processEvents forwards relevant fsnotify events into the change channel
// and registers newly created directories.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Chmod) {
				continue
			}

			select {
			case w.changed <- event.Name:
			default:
				// Buffer full; the pending rebuild already covers this change.
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watcher.Add(event.Name)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Corpus watcher error", "root", w.root, "error", err)
		}
	}
}

// debounceLoop counts changes per quiet window and runs one rebuild per
// window expiry.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var pending int
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if pending > 0 && w.rebuild != nil {
			slog.Info("Corpus changed, rebuilding index", "changes", pending)
			w.rebuild(ctx)
			pending = 0
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.changed:
			pending++
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// Package watcher re-runs incremental indexing when watched source trees change.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/codesearch/internal/indexer"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Runner performs one indexing run.
type Runner interface {
	Run(ctx context.Context) (*indexer.RunReport, error)
}

// Watcher watches root directories recursively. A burst of relevant events is
// collapsed into one run after the debounce interval has passed without events.
type Watcher struct {
	roots    []string
	match    func(path string) bool
	runner   Runner
	debounce time.Duration
	follow   bool
	logger   *zap.Logger

	mu        sync.Mutex
	ctx       context.Context
	watcher   *fsnotify.Watcher
	timer     *time.Timer
	rootPaths map[string][]string // root -> watched directories below it
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for events and run results.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before a run is triggered.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFollowSymlinks controls whether symbolic links to directories are watched
// (default true, like the scanner).
func WithFollowSymlinks(follow bool) WatcherOption {
	return func(w *Watcher) { w.follow = follow }
}

// NewWatcher creates a watcher over roots. match selects the files whose changes
// matter; nil matches every file.
func NewWatcher(roots []string, match func(path string) bool, runner Runner, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		roots:     roots,
		match:     match,
		runner:    runner,
		debounce:  defaultDebounce,
		follow:    true,
		rootPaths: make(map[string][]string),
		done:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start adds the roots and processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fw.Close()
			w.watcher = nil
			return err
		}
	}
	w.started = true
	w.logger.Info("watching for changes", zap.Strings("roots", w.roots), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matches(path) {
			w.schedule()
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// A removed directory cannot be stat'ed; let the next run's scan decide.
		if w.matches(path) || filepath.Ext(path) == "" {
			w.schedule()
		}
	}
}

// handleNewDirectory watches a directory that appeared below a root, with its
// subdirectories, and schedules a run when it already holds matching files.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if !w.follow {
		if info, err := os.Lstat(dir); err != nil || info.Mode()&fs.ModeSymlink != 0 {
			return
		}
	}
	found := false
	err := w.walkDirs(dir, map[string]struct{}{}, func(path string) error {
		if err := fw.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	}, func(path string) {
		if w.matches(path) {
			found = true
		}
	})
	if err != nil {
		w.logger.Debug("watcher failed to walk new directory", zap.String("path", dir), zap.Error(err))
	}
	if found {
		w.schedule()
	}
}

func (w *Watcher) matches(path string) bool {
	return w.match == nil || w.match(path)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if rootClean == clean || inDir(rootClean, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

// fire runs the pipeline. A run turned away because another one is active is
// rescheduled so the change is not lost.
func (w *Watcher) fire() {
	w.mu.Lock()
	ctx := w.ctx
	w.timer = nil
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	report, err := w.runner.Run(ctx)
	switch {
	case errors.Is(err, indexer.ErrRunInProgress):
		w.logger.Debug("run in progress, rescheduling")
		w.schedule()
	case err != nil:
		w.logger.Error("watch-triggered run failed", zap.Error(err))
	default:
		w.logger.Info("watch-triggered run completed",
			zap.String("run_id", report.RunID),
			zap.Int("changed", report.FilesChanged),
			zap.Int("pruned", report.FilesPruned),
		)
	}
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	var paths []string
	err := w.walkDirs(root, map[string]struct{}{}, func(path string) error {
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}, nil)
	if err != nil {
		return err
	}
	w.rootPaths[root] = paths
	return nil
}

// walkDirs calls dir for root and every directory below it, and file for the
// remaining entries. Links to directories are descended when following is on;
// each real directory is visited once so link cycles end.
func (w *Watcher) walkDirs(root string, seen map[string]struct{}, dir func(string) error, file func(string)) error {
	real, err := filepath.EvalSymlinks(root)
	if err != nil {
		return err
	}
	if _, ok := seen[real]; ok {
		return nil
	}
	seen[real] = struct{}{}
	if err := dir(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(root, e.Name())
		mode := e.Type()
		if mode&fs.ModeSymlink != 0 {
			if !w.follow {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			mode = info.Mode().Type()
		}
		switch {
		case mode.IsDir():
			if err := w.walkDirs(path, seen, dir, file); err != nil {
				return err
			}
		case mode.IsRegular() && file != nil:
			file(path)
		}
	}
	return nil
}

// Directories returns the watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops the watcher and releases resources. A pending run is dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

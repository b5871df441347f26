// Package scanner resolves indexing roots into the set of candidate source files.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/codesearch/internal/apperr"
	"go.uber.org/zap"
)

// Scanner walks root directories and collects files matching the configured
// extensions, skipping excluded base names.
type Scanner struct {
	extensions     []string
	exclude        map[string]struct{}
	followSymlinks bool
	logger         *zap.Logger // optional; when set, logs skipped paths
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithLogger sets a logger for skipped and unreadable paths.
func WithLogger(l *zap.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// WithFollowSymlinks controls whether symbolic links to files and directories are followed (default true).
func WithFollowSymlinks(follow bool) ScannerOption {
	return func(s *Scanner) { s.followSymlinks = follow }
}

// NewScanner creates a scanner. extensions are matched case-insensitively with or
// without the leading dot; an empty list matches every file. exclude holds base names.
func NewScanner(extensions, exclude []string, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		exclude:        make(map[string]struct{}, len(exclude)),
		followSymlinks: true,
	}
	for _, e := range extensions {
		s.extensions = append(s.extensions, strings.TrimPrefix(strings.ToLower(e), "."))
	}
	for _, name := range exclude {
		s.exclude[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Match reports whether path would be collected by a scan, judging by name only.
func (s *Scanner) Match(path string) bool {
	if _, skip := s.exclude[filepath.Base(path)]; skip {
		return false
	}
	if len(s.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range s.extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Scan returns the absolute paths of all matching files under roots, sorted and
// de-duplicated. A root that does not exist or is not a directory is a scan error;
// unreadable directories below a root are logged and skipped.
func (s *Scanner) Scan(ctx context.Context, roots []string) ([]string, error) {
	w := &walk{
		scanner: s,
		visited: make(map[string]struct{}),
		found:   make(map[string]struct{}),
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, apperr.Scan("resolve root "+root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, apperr.Scan("stat root", err)
		}
		if !info.IsDir() {
			return nil, apperr.Scan("stat root", fmt.Errorf("%s is not a directory", abs))
		}
		if err := w.dir(ctx, abs); err != nil {
			return nil, err
		}
	}
	files := make([]string, 0, len(w.found))
	for f := range w.found {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

type walk struct {
	scanner *Scanner
	visited map[string]struct{} // real paths of directories already walked
	found   map[string]struct{}
}

func (w *walk) dir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.skip(dir, err)
		return nil
	}
	if _, seen := w.visited[resolved]; seen {
		return nil
	}
	w.visited[resolved] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.skip(dir, err)
		return nil
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		mode := e.Type()
		if mode&os.ModeSymlink != 0 {
			if !w.scanner.followSymlinks {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				w.skip(path, err)
				continue
			}
			mode = info.Mode().Type()
		}
		switch {
		case mode.IsDir():
			if err := w.dir(ctx, path); err != nil {
				return err
			}
		case mode.IsRegular():
			if w.scanner.Match(path) {
				w.found[path] = struct{}{}
			}
		}
	}
	return nil
}

func (w *walk) skip(path string, err error) {
	if w.scanner.logger != nil {
		w.scanner.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
	}
}

// Package state persists the mapping from file path to the fingerprint of the
// content that was last embedded and upserted successfully.
package state

import (
	"context"
	"sort"

	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/config"
)

// Snapshot maps absolute file paths to hex content fingerprints.
type Snapshot map[string]string

// Clone returns an independent copy of s. A nil snapshot clones to an empty one.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Paths returns the recorded paths in sorted order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Equal reports whether both snapshots hold the same entries.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Store loads and saves whole snapshots. Save replaces all prior state; it is never
// updated entry by entry.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Path() string
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	// BackendJSON stores a JSON object in a single file, replaced atomically.
	BackendJSON Backend = "json"
	// BackendSQLite stores one row per path in a SQLite database.
	BackendSQLite Backend = "sqlite"
	// BackendBolt stores one key per path in a bbolt bucket.
	BackendBolt Backend = "bolt"
)

// Open creates the store selected by cfg.Backend.
func Open(cfg config.StateConfig) (Store, error) {
	switch Backend(cfg.Backend) {
	case BackendJSON, "":
		return NewJSONStore(cfg.Path), nil
	case BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendBolt:
		return NewBoltStore(cfg.Path)
	default:
		return nil, apperr.Configf("unknown state backend: %s (supported: json, sqlite, bolt)", cfg.Backend)
	}
}

// Package status gathers the index status reported by the HTTP API, the CLI and the MCP tools.
package status

import (
	"context"

	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/indexer"
	"github.com/hyperjump/codesearch/internal/state"
	"github.com/hyperjump/codesearch/internal/vector"
	"go.uber.org/zap"
)

// Source reports pipeline progress. *indexer.Pipeline implements it.
type Source interface {
	Progress() indexer.Progress
	LastReport() *indexer.RunReport
}

// Report describes the index. Failures to reach the vector store or read the state
// are recorded in the report so that status stays available while a backend is down.
type Report struct {
	Collection     string                 `json:"collection"`
	VectorBackend  string                 `json:"vector_backend"`
	Points         *int                   `json:"points,omitempty"`
	VectorError    string                 `json:"vector_error,omitempty"`
	StatePath      string                 `json:"state_path"`
	StateEntries   *int                   `json:"state_entries,omitempty"`
	StateError     string                 `json:"state_error,omitempty"`
	DiskUsageBytes int64                  `json:"disk_usage_bytes"`
	Pipeline       indexer.Progress       `json:"pipeline"`
	LastRun        *indexer.RunReport     `json:"last_run,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// Collect builds a report. src may be nil when no pipeline runs in this process.
func Collect(ctx context.Context, cfg *config.Config, vectors vector.Store, st state.Store, src Source, logger *zap.Logger) *Report {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Report{
		Collection:    cfg.Vector.Collection,
		VectorBackend: cfg.Vector.Backend,
		StatePath:     st.Path(),
		Pipeline:      indexer.Progress{State: indexer.StateIdle},
		Config: map[string]interface{}{
			"chunk_size":    cfg.Index.ChunkSize,
			"chunk_overlap": cfg.Index.ChunkOverlap,
			"batch_size":    cfg.Index.BatchSize,
			"default_top_k": cfg.Search.DefaultTopK,
			"state_backend": cfg.State.Backend,
		},
	}
	if src != nil {
		r.Pipeline = src.Progress()
		r.LastRun = src.LastReport()
	}

	if n, err := vectors.Count(ctx); err != nil {
		logger.Warn("status: count points failed", zap.Error(err))
		r.VectorError = err.Error()
	} else {
		r.Points = &n
	}
	if snap, err := st.Load(ctx); err != nil {
		logger.Warn("status: load state failed", zap.Error(err))
		r.StateError = err.Error()
	} else {
		n := len(snap)
		r.StateEntries = &n
	}
	if bytes, err := state.DiskUsage(st.Path(), cfg.Vector.Path); err == nil {
		r.DiskUsageBytes = bytes
	}
	return r
}

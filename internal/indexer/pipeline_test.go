package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/embedding"
	"github.com/hyperjump/codesearch/internal/fingerprint"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/scanner"
	"github.com/hyperjump/codesearch/internal/state"
	"github.com/hyperjump/codesearch/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchEmbedder delegates to a MockEmbedder unless a hook overrides the batch.
type switchEmbedder struct {
	*embedding.MockEmbedder
	mu   sync.Mutex
	hook func(texts []string) ([][]float32, error)
}

func (e *switchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	hook := e.hook
	e.mu.Unlock()
	if hook != nil {
		return hook(texts)
	}
	return e.MockEmbedder.EmbedBatch(ctx, texts)
}

func (e *switchEmbedder) setHook(h func(texts []string) ([][]float32, error)) {
	e.mu.Lock()
	e.hook = h
	e.mu.Unlock()
}

// countingState counts Save calls on a JSON store.
type countingState struct {
	*state.JSONStore
	saves atomic.Int32
}

func (s *countingState) Save(ctx context.Context, snap state.Snapshot) error {
	s.saves.Add(1)
	return s.JSONStore.Save(ctx, snap)
}

type harness struct {
	src      string
	cfg      *config.Config
	state    *countingState
	embedder *switchEmbedder
	vectors  *vector.MemoryStore
	pipeline *Pipeline
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0755))

	cfg := config.Default()
	cfg.Index.Directories = []string{src}
	cfg.State.Path = filepath.Join(dir, "indexed.json")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	h := &harness{
		src:      src,
		cfg:      cfg,
		state:    &countingState{JSONStore: state.NewJSONStore(cfg.State.Path)},
		embedder: &switchEmbedder{MockEmbedder: embedding.NewMockEmbedder(8)},
		vectors:  vector.NewMemoryStore(""),
	}
	sc := scanner.NewScanner(cfg.Index.Extensions, cfg.Index.Exclude)
	p, err := NewPipeline(cfg, sc, h.state, h.embedder, h.vectors)
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.src, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	n, err := h.vectors.Count(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) allHits(t *testing.T) []models.Hit {
	t.Helper()
	if h.count(t) == 0 {
		return nil
	}
	hits, err := h.vectors.Search(context.Background(), make8(1), 1000)
	require.NoError(t, err)
	return hits
}

func make8(v float32) []float32 {
	out := make([]float32, 8)
	for i := range out {
		out[i] = v
	}
	return out
}

// phpSource returns n characters of PHP-looking text.
func phpSource(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "public function rule%d() { return $this->apply(%d); }\n", i, i)
	}
	return b.String()[:n]
}

func TestPipeline_IndexesOneFileIntoThreeChunks(t *testing.T) {
	h := newHarness(t, nil)
	content := phpSource(2500)
	path := h.write(t, "a.php", content)
	h.write(t, "registration.php", "<?php // excluded")
	h.write(t, "README.md", "not php")

	report, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesScanned)
	assert.Equal(t, 1, report.FilesChanged)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 3, report.Points)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, h.count(t))

	want := map[int]string{0: content[0:1000], 1: content[850:1850], 2: content[1700:2500]}
	for _, hit := range h.allHits(t) {
		assert.Equal(t, path, hit.Payload.File)
		assert.Equal(t, want[hit.Payload.ChunkIndex], hit.Payload.Content, "chunk %d", hit.Payload.ChunkIndex)
		assert.Equal(t, fingerprint.ChunkID(path, hit.Payload.ChunkIndex), hit.Payload.ChunkID)
		assert.Equal(t, report.RunID, hit.Payload.RunID)
	}

	snap, err := h.state.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.Snapshot{path: fingerprint.Content([]byte(content))}, snap)

	progress := h.pipeline.Progress()
	assert.Equal(t, StateCompleted, progress.State)
	assert.Equal(t, 1, progress.Batch)
	assert.Equal(t, 1, progress.Batches)
	assert.Equal(t, report.RunID, h.pipeline.LastReport().RunID)
}

func TestPipeline_UnchangedRerunMakesNoEmbeddingCalls(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a.php", phpSource(1200))
	h.write(t, "sub/b.php", phpSource(300))

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	calls := h.embedder.Calls()
	saves := h.state.saves.Load()
	points := h.count(t)

	report, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calls, h.embedder.Calls(), "unchanged files must not be embedded again")
	assert.Equal(t, saves, h.state.saves.Load(), "a no-op run must not rewrite the state")
	assert.Equal(t, 2, report.FilesSkipped)
	assert.Equal(t, 0, report.FilesChanged)
	assert.Equal(t, 0, report.Points)
	assert.Equal(t, points, h.count(t))
}

func TestPipeline_OneByteChangeReindexesOnlyThatFile(t *testing.T) {
	h := newHarness(t, nil)
	content := phpSource(2500)
	a := h.write(t, "a.php", content)
	h.write(t, "b.php", phpSource(400))

	first, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	before := h.count(t)

	changed := []byte(content)
	changed[1234] ^= 0x01
	require.NoError(t, os.WriteFile(a, changed, 0644))

	second, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesChanged)
	assert.Equal(t, 1, second.FilesSkipped)
	assert.Equal(t, 3, second.Points)
	assert.Equal(t, before, h.count(t), "re-indexing must replace points, not add to them")

	for _, hit := range h.allHits(t) {
		if hit.Payload.File == a {
			assert.Equal(t, second.RunID, hit.Payload.RunID, "stale point of the previous version survived")
		} else {
			assert.Equal(t, first.RunID, hit.Payload.RunID)
		}
	}

	snap, err := h.state.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Content(changed), snap[a])
}

func TestPipeline_CountMismatchLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	a := h.write(t, "a.php", phpSource(1500))
	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(h.cfg.State.Path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(a, []byte(phpSource(1600)), 0644))
	h.write(t, "new.php", phpSource(100))
	h.embedder.setHook(func(texts []string) ([][]float32, error) {
		return [][]float32{make8(1)}, nil
	})

	report, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, apperr.IsKind(err, apperr.KindUpstream), "got %v", err)
	assert.Equal(t, StateFailed, h.pipeline.Progress().State)

	after, err := os.ReadFile(h.cfg.State.Path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestPipeline_UpsertFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a.php", phpSource(500))
	failing := &failingStore{Store: h.vectors, err: apperr.Store("upsert points", errors.New("connection refused"))}
	p, err := NewPipeline(h.cfg, scanner.NewScanner(h.cfg.Index.Extensions, nil), h.state, h.embedder, failing)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindStore), "got %v", err)
	assert.Contains(t, err.Error(), "batch 1/1")
	assert.Equal(t, int32(0), h.state.saves.Load())
	_, statErr := os.Stat(h.cfg.State.Path)
	assert.True(t, os.IsNotExist(statErr))
}

type failingStore struct {
	vector.Store
	err error
}

func (s *failingStore) Upsert(ctx context.Context, points []models.Point) error {
	return s.err
}

func TestPipeline_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a.php", phpSource(300))

	entered := make(chan struct{})
	release := make(chan struct{})
	h.embedder.setHook(func(texts []string) ([][]float32, error) {
		close(entered)
		<-release
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = make8(1)
		}
		return out, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.pipeline.Run(context.Background())
		done <- err
	}()
	<-entered
	assert.True(t, h.pipeline.Running())
	assert.Equal(t, StateEmbedding, h.pipeline.Progress().State)

	_, err := h.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.pipeline.Running())
}

func TestPipeline_PrunesDeletedFiles(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a.php", phpSource(300))
	b := h.write(t, "b.php", phpSource(300))
	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, h.count(t))

	require.NoError(t, os.Remove(b))
	report, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesPruned)
	assert.Equal(t, 1, h.count(t))

	snap, err := h.state.Load(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, snap, b)
	assert.Len(t, snap, 1)
}

func TestPipeline_PruneDisabledKeepsDeletedFiles(t *testing.T) {
	keep := false
	h := newHarness(t, func(c *config.Config) { c.Index.PruneDeleted = &keep })
	h.write(t, "a.php", phpSource(300))
	b := h.write(t, "b.php", phpSource(300))
	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(b))
	report, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.FilesPruned)
	assert.Equal(t, 2, h.count(t))
}

func TestPipeline_SkipsUnreadableFiles(t *testing.T) {
	h := newHarness(t, nil)
	a := h.write(t, "a.php", phpSource(300))
	broken := h.write(t, "broken.php", phpSource(300))
	h.pipeline.readFile = func(path string) ([]byte, error) {
		if path == broken {
			return nil, os.ErrPermission
		}
		return os.ReadFile(path)
	}

	report, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesScanned)
	assert.Equal(t, 1, report.FilesUnreadable)
	assert.Equal(t, 1, report.FilesChanged)

	snap, err := h.state.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap, a)
	assert.NotContains(t, snap, broken)
}

func TestPipeline_MissingRootIsScanError(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Index.Directories = []string{filepath.Join(os.TempDir(), "codesearch-missing-root-"+fmt.Sprint(time.Now().UnixNano()))}
	})
	_, err := h.pipeline.Run(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindScan), "got %v", err)
	assert.Equal(t, StateFailed, h.pipeline.Progress().State)
	assert.Nil(t, h.pipeline.LastReport())
}

func TestPipeline_SplitsChunksIntoBatches(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Index.ChunkSize = 100
		c.Index.ChunkOverlap = 10
		c.Index.BatchSize = 4
	})
	h.write(t, "a.php", phpSource(900))

	report, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	// 900 runes in windows of 100 advancing by 90: 10 chunks.
	assert.Equal(t, 10, report.Chunks)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 3, h.embedder.Calls())
	progress := h.pipeline.Progress()
	assert.Equal(t, 3, progress.Batch)
	assert.Equal(t, 3, progress.Batches)
}

func TestPipeline_DimensionChangeBetweenBatchesFails(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Index.ChunkSize = 100
		c.Index.ChunkOverlap = 0
		c.Index.BatchSize = 1
	})
	h.write(t, "a.php", phpSource(200))

	var calls atomic.Int32
	h.embedder.setHook(func(texts []string) ([][]float32, error) {
		dim := 8
		if calls.Add(1) > 1 {
			dim = 4
		}
		return [][]float32{make([]float32, dim)}, nil
	})

	_, err := h.pipeline.Run(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindUpstream), "got %v", err)
	assert.Equal(t, int32(0), h.state.saves.Load())
}

func TestPipeline_RetriesEmbedding(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Index.Retry.MaxAttempts = 3
		c.Index.Retry.InitialDelay = time.Millisecond
	})
	h.write(t, "a.php", phpSource(300))

	var calls atomic.Int32
	h.embedder.setHook(func(texts []string) ([][]float32, error) {
		if calls.Add(1) == 1 {
			return nil, apperr.Upstream("embed batch", errors.New("status 503"))
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = make8(float32(i + 1))
		}
		return out, nil
	})

	report, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, report.Points)
}

func TestNewPipeline_RejectsInvalidIndexConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.IndexConfig)
	}{
		{"overlap equals size", func(c *config.IndexConfig) { c.ChunkOverlap = c.ChunkSize }},
		{"zero batch size", func(c *config.IndexConfig) { c.BatchSize = 0 }},
		{"negative batch size", func(c *config.IndexConfig) { c.BatchSize = -1 }},
		{"zero workers", func(c *config.IndexConfig) { c.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg.Index)
			_, err := NewPipeline(cfg, nil, nil, nil, nil)
			assert.True(t, apperr.IsKind(err, apperr.KindConfig), "got %v", err)
		})
	}
}

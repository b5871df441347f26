package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/embedding"
	"github.com/hyperjump/codesearch/internal/fingerprint"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/state"
	"github.com/hyperjump/codesearch/internal/vector"
	"github.com/hyperjump/codesearch/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned by Run when another run holds the lock.
var ErrRunInProgress = errors.New("indexing run already in progress")

// State is a step of an indexing run.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateDiffing    State = "diffing"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StateReaping    State = "reaping"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Progress is a point-in-time view of the current or last run.
type Progress struct {
	State   State  `json:"state"`
	RunID   string `json:"run_id,omitempty"`
	Batch   int    `json:"batch"`
	Batches int    `json:"batches"`
}

// RunReport summarizes a completed run.
type RunReport struct {
	RunID           string        `json:"run_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	FilesScanned    int           `json:"files_scanned"`
	FilesChanged    int           `json:"files_changed"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesUnreadable int           `json:"files_unreadable"`
	FilesPruned     int           `json:"files_pruned"`
	Chunks          int           `json:"chunks"`
	Batches         int           `json:"batches"`
	Points          int           `json:"points"`
}

// FileScanner lists the candidate files below a set of roots.
type FileScanner interface {
	Scan(ctx context.Context, roots []string) ([]string, error)
}

// Pipeline runs incremental indexing: only files whose content fingerprint changed
// since the last successful run are chunked, embedded and upserted. The state store
// is written once per run, after every batch and every stale-point delete succeeded.
type Pipeline struct {
	cfg      *config.Config
	scanner  FileScanner
	chunker  *Chunker
	state    state.Store
	embedder embedding.Embedder
	vectors  vector.Store
	logger   *zap.Logger
	readFile func(string) ([]byte, error)

	lock     IndexLock
	mu       sync.RWMutex
	progress Progress
	last     *RunReport
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger for run and batch progress.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline wires a pipeline from its collaborators. The chunking window, batch size
// and worker count come from cfg.Index and are checked here.
func NewPipeline(cfg *config.Config, scanner FileScanner, st state.Store, embedder embedding.Embedder, vectors vector.Store, opts ...PipelineOption) (*Pipeline, error) {
	chunker, err := NewChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.Index.BatchSize <= 0 {
		return nil, apperr.Configf("index.batch_size must be positive, got %d", cfg.Index.BatchSize)
	}
	if cfg.Index.Workers <= 0 {
		return nil, apperr.Configf("index.workers must be positive, got %d", cfg.Index.Workers)
	}
	p := &Pipeline{
		cfg:      cfg,
		scanner:  scanner,
		chunker:  chunker,
		state:    st,
		embedder: embedder,
		vectors:  vectors,
		readFile: os.ReadFile,
		progress: Progress{State: StateIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p, nil
}

// Progress returns the state of the current run, or of the last one when idle.
func (p *Pipeline) Progress() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progress
}

// LastReport returns the report of the last completed run, or nil.
func (p *Pipeline) LastReport() *RunReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	return p.lock.Held()
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.progress.State = s
	p.mu.Unlock()
}

func (p *Pipeline) setBatch(i, n int) {
	p.mu.Lock()
	p.progress.Batch, p.progress.Batches = i, n
	p.mu.Unlock()
}

// Run performs one indexing run. It returns ErrRunInProgress without waiting
// when another run is active.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	if !p.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer p.lock.Release()

	report := &RunReport{RunID: uuid.NewString(), StartedAt: time.Now()}
	p.mu.Lock()
	p.progress = Progress{State: StateScanning, RunID: report.RunID}
	p.mu.Unlock()
	log := p.logger.With(zap.String("run_id", report.RunID))
	log.Info("indexing run started")

	err := p.run(ctx, log, report)
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		p.setState(StateFailed)
		log.Error("indexing run failed",
			zap.String("kind", apperr.KindOf(err).String()),
			zap.Duration("took", report.Duration),
			zap.Error(err),
		)
		return nil, err
	}

	p.mu.Lock()
	p.progress.State = StateCompleted
	p.last = report
	p.mu.Unlock()
	log.Info("indexing run completed",
		zap.Int("scanned", report.FilesScanned),
		zap.Int("changed", report.FilesChanged),
		zap.Int("skipped", report.FilesSkipped),
		zap.Int("unreadable", report.FilesUnreadable),
		zap.Int("pruned", report.FilesPruned),
		zap.Int("points", report.Points),
		zap.Duration("took", report.Duration),
	)
	r := *report
	return &r, nil
}

// candidate is a scanned file after diffing. Text is only kept for changed files.
type candidate struct {
	path        string
	fingerprint string
	text        string
	changed     bool
	err         error
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, report *RunReport) error {
	roots, err := p.cfg.Roots()
	if err != nil {
		return err
	}
	files, err := p.scanner.Scan(ctx, roots)
	if err != nil {
		return err
	}
	report.FilesScanned = len(files)

	p.setState(StateDiffing)
	prev, err := p.state.Load(ctx)
	if err != nil {
		return err
	}
	candidates, err := p.diff(ctx, files, prev)
	if err != nil {
		return err
	}

	var changed []candidate
	for _, c := range candidates {
		switch {
		case c.err != nil:
			report.FilesUnreadable++
			log.Warn("skipping unreadable file", zap.String("path", c.path), zap.Error(c.err))
		case c.changed:
			changed = append(changed, c)
		default:
			report.FilesSkipped++
		}
	}
	report.FilesChanged = len(changed)

	var pruned []string
	if p.cfg.Index.PruneDeletedOrDefault() {
		scanned := make(map[string]struct{}, len(files))
		for _, f := range files {
			scanned[f] = struct{}{}
		}
		for _, path := range prev.Paths() {
			if _, ok := scanned[path]; !ok {
				pruned = append(pruned, path)
			}
		}
	}
	report.FilesPruned = len(pruned)

	if len(changed) == 0 && len(pruned) == 0 {
		log.Info("index is up to date", zap.Int("files", len(files)))
		return nil
	}

	p.setState(StateChunking)
	var chunks []models.Chunk
	for _, c := range changed {
		chunks = append(chunks, p.chunker.Chunk(c.path, c.text)...)
	}
	report.Chunks = len(chunks)

	p.setState(StateEmbedding)
	if err := p.embed(ctx, log, chunks, report); err != nil {
		return err
	}

	p.setState(StateReaping)
	for _, c := range changed {
		if err := p.vectors.DeleteStale(ctx, c.path, report.RunID); err != nil {
			return err
		}
	}
	for _, path := range pruned {
		if err := p.vectors.DeleteStale(ctx, path, ""); err != nil {
			return err
		}
		log.Info("pruned deleted file", zap.String("path", path))
	}

	p.setState(StatePersisting)
	next := prev.Clone()
	for _, c := range changed {
		next[c.path] = c.fingerprint
	}
	for _, path := range pruned {
		delete(next, path)
	}
	return p.state.Save(ctx, next)
}

// diff reads every file with bounded parallelism and compares its fingerprint
// to the previous state. Unreadable files are reported per candidate, not as an error.
func (p *Pipeline) diff(ctx context.Context, files []string, prev state.Snapshot) ([]candidate, error) {
	out := make([]candidate, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Index.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := p.readFile(path)
			if err != nil {
				out[i] = candidate{path: path, err: apperr.FileRead("read "+path, err)}
				return nil
			}
			fp := fingerprint.Content(b)
			out[i] = candidate{path: path, fingerprint: fp}
			if prev[path] != fp {
				out[i].changed = true
				out[i].text = string(b)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// embed sends chunks in batches, in order, and upserts each batch before the next.
// The first batch fixes the collection's dimensionality.
func (p *Pipeline) embed(ctx context.Context, log *zap.Logger, chunks []models.Chunk, report *RunReport) error {
	size := p.cfg.Index.BatchSize
	total := (len(chunks) + size - 1) / size
	dim := 0
	for b := 0; b < total; b++ {
		start := b * size
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		p.setBatch(b+1, total)

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := retryWithBackoff(ctx, p.cfg.Index.Retry, func() ([][]float32, error) {
			return p.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return fmt.Errorf("batch %d/%d: %w", b+1, total, err)
		}
		if len(vectors) != len(texts) {
			return apperr.Upstream("embed batch", fmt.Errorf("batch %d/%d: got %d vectors for %d chunks", b+1, total, len(vectors), len(texts)))
		}

		if dim == 0 {
			dim = len(vectors[0])
			if err := p.vectors.EnsureCollection(ctx, dim); err != nil {
				return err
			}
		}
		points := make([]models.Point, len(batch))
		for i, c := range batch {
			if len(vectors[i]) != dim {
				return apperr.Upstream("embed batch", fmt.Errorf("batch %d/%d: vector size changed from %d to %d", b+1, total, dim, len(vectors[i])))
			}
			points[i] = models.Point{
				ID:     uuid.NewString(),
				Vector: vectors[i],
				Payload: models.Payload{
					File:       c.File,
					ChunkIndex: c.Index,
					Content:    c.Text,
					ChunkID:    c.ID,
					RunID:      report.RunID,
				},
			}
		}

		if _, err := retryWithBackoff(ctx, p.cfg.Index.Retry, func() (struct{}, error) {
			return struct{}{}, p.vectors.Upsert(ctx, points)
		}); err != nil {
			return fmt.Errorf("batch %d/%d: %w", b+1, total, err)
		}
		report.Batches++
		report.Points += len(points)
		log.Info(fmt.Sprintf("upserted batch %d/%d", b+1, total), zap.Int("points", len(points)))
	}
	return nil
}

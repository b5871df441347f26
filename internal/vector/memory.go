package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/pkg/utils"
)

// memoryFileMagic prefixes persisted memory stores.
const memoryFileMagic = "CSVEC001"

// MemoryStore is an in-process vector store using brute-force cosine search.
// Vectors are normalized on write so the inner product is the cosine similarity.
// When path is set, every mutation is written through to disk.
type MemoryStore struct {
	mu         sync.RWMutex
	path       string
	dimensions int
	ids        []string
	vectors    [][]float32
	payloads   []models.Payload
	pos        map[string]int
}

// NewMemoryStore returns an empty store persisted to path; an empty path keeps it in memory only.
func NewMemoryStore(path string) *MemoryStore {
	return &MemoryStore{path: path, pos: make(map[string]int)}
}

// EnsureCollection fixes the store's dimensions on first use and rejects a different size afterwards.
func (m *MemoryStore) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return apperr.Store("ensure collection", fmt.Errorf("invalid vector size %d", dim))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimensions == 0 {
		m.dimensions = dim
		return m.persistLocked()
	}
	if m.dimensions != dim {
		return apperr.Store("ensure collection", fmt.Errorf("collection has vector size %d, embeddings have %d", m.dimensions, dim))
	}
	return nil
}

// Upsert inserts points or replaces the ones whose ID already exists.
func (m *MemoryStore) Upsert(ctx context.Context, points []models.Point) error {
	if err := ctx.Err(); err != nil {
		return apperr.Store("upsert points", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimensions == 0 {
		return apperr.Store("upsert points", errors.New("collection does not exist"))
	}
	for _, p := range points {
		if len(p.Vector) != m.dimensions {
			return apperr.Store("upsert points", fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(p.Vector), m.dimensions))
		}
	}
	for _, p := range points {
		vec := utils.Normalized(p.Vector)
		if i, ok := m.pos[p.ID]; ok {
			m.vectors[i] = vec
			m.payloads[i] = p.Payload
			continue
		}
		m.pos[p.ID] = len(m.ids)
		m.ids = append(m.ids, p.ID)
		m.vectors = append(m.vectors, vec)
		m.payloads = append(m.payloads, p.Payload)
	}
	return m.persistLocked()
}

// Search returns the top-limit points by cosine similarity.
func (m *MemoryStore) Search(ctx context.Context, vector []float32, limit int) ([]models.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Store("search points", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dimensions == 0 {
		return nil, apperr.Store("search points", errors.New("collection does not exist"))
	}
	if len(vector) != m.dimensions {
		return nil, apperr.Store("search points", fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), m.dimensions))
	}
	if limit <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	query := utils.Normalized(vector)
	hits := make([]models.Hit, len(m.ids))
	for i, vec := range m.vectors {
		hits[i] = models.Hit{ID: m.ids[i], Score: dot(query, vec), Payload: m.payloads[i]}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > len(hits) {
		limit = len(hits)
	}
	return hits[:limit], nil
}

// Count returns the number of stored points.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids), nil
}

// DeleteStale drops the points of file whose run id differs from keepRunID.
func (m *MemoryStore) DeleteStale(ctx context.Context, file, keepRunID string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Store("delete stale points", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.ids[:0:0]
	vectors := m.vectors[:0:0]
	payloads := m.payloads[:0:0]
	removed := 0
	for i, p := range m.payloads {
		if p.File == file && (keepRunID == "" || p.RunID != keepRunID) {
			removed++
			continue
		}
		ids = append(ids, m.ids[i])
		vectors = append(vectors, m.vectors[i])
		payloads = append(payloads, p)
	}
	if removed == 0 {
		return nil
	}
	m.ids, m.vectors, m.payloads = ids, vectors, payloads
	m.pos = make(map[string]int, len(ids))
	for i, id := range ids {
		m.pos[id] = i
	}
	return m.persistLocked()
}

// Close is a no-op; writes are persisted as they happen.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) persistLocked() error {
	if m.path == "" {
		return nil
	}
	if err := m.writeLocked(m.path); err != nil {
		return apperr.Store("persist memory store", err)
	}
	return nil
}

// Save writes the store to path. Format: magic, dimensions (4), count (4), then per point:
// id length (4), id, vector (dimensions*4), payload length (4), payload JSON.
func (m *MemoryStore) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	return m.writeLocked(path)
}

func (m *MemoryStore) writeLocked(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	w := bufio.NewWriter(tmp)
	if err := m.encode(w); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename store: %w", err)
	}
	return nil
}

func (m *MemoryStore) encode(w io.Writer) error {
	if _, err := io.WriteString(w, memoryFileMagic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range m.ids {
		if err := writeBlock(w, []byte(id)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		payload, err := json.Marshal(m.payloads[i])
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		if err := writeBlock(w, payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

// Load replaces the store contents with the file at path.
// A missing file leaves the store unchanged.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Store("load memory store", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(memoryFileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != memoryFileMagic {
		return apperr.Store("load memory store", fmt.Errorf("%s is not a vector store file", path))
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return apperr.Store("load memory store", fmt.Errorf("read dimensions: %w", err))
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return apperr.Store("load memory store", fmt.Errorf("read count: %w", err))
	}

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	payloads := make([]models.Payload, 0, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		id, err := readBlock(r)
		if err != nil {
			return apperr.Store("load memory store", fmt.Errorf("read id: %w", err))
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return apperr.Store("load memory store", fmt.Errorf("read vector: %w", err))
		}
		raw, err := readBlock(r)
		if err != nil {
			return apperr.Store("load memory store", fmt.Errorf("read payload: %w", err))
		}
		var p models.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return apperr.Store("load memory store", fmt.Errorf("decode payload: %w", err))
		}
		ids = append(ids, string(id))
		vectors = append(vectors, bytesToFloat32Slice(buf))
		payloads = append(payloads, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = int(dim)
	m.ids, m.vectors, m.payloads = ids, vectors, payloads
	m.pos = make(map[string]int, len(ids))
	for i, id := range ids {
		m.pos[id] = i
	}
	return nil
}

// dot is the cosine similarity of two unit vectors; 0 when the sizes differ.
func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func writeBlock(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlock(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

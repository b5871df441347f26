package vector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/models"
)

func TestNewStore_Qdrant(t *testing.T) {
	s, err := NewStore(config.VectorConfig{Backend: "qdrant", URL: "http://localhost:6333", Collection: "c", Timeout: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	q, ok := s.(*QdrantStore)
	if !ok {
		t.Fatalf("got %T", s)
	}
	if q.Collection() != "c" {
		t.Errorf("collection = %s", q.Collection())
	}
}

func TestNewStore_MemoryLoadsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.bin")
	ctx := context.Background()
	seed := NewMemoryStore(path)
	_ = seed.EnsureCollection(ctx, 2)
	if err := seed.Upsert(ctx, []models.Point{point("a", "/x.php", "r", 1, 0)}); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(config.VectorConfig{Backend: "memory", Path: path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count=%d, want 1", n)
	}
}

func TestNewStore_Unknown(t *testing.T) {
	if _, err := NewStore(config.VectorConfig{Backend: "faiss"}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

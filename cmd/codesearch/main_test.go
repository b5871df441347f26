package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/models"
	"go.uber.org/zap"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"apply price rules", "-top-k", "3"},
			expected: []string{"-top-k", "3", "apply price rules"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "3", "apply price rules"},
			expected: []string{"-top-k", "3", "apply price rules"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"apply price rules"},
			expected: []string{"apply price rules"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"customer", "address", "-output", "json"},
			expected: []string{"-output", "json", "customer", "address"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"indexer"}, "indexer"},
		{"multiple words", []string{"price", "indexer"}, "price indexer"},
		{"single quoted phrase", []string{"price indexer"}, "price indexer"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, resolved, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug || cfg.Server.Port != 8080 {
		t.Errorf("cwd config.yaml not applied: debug=%v port=%d", cfg.Debug, cfg.Server.Port)
	}
}

func TestLoadConfig_defaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, resolved, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved path = %q, want none", resolved)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
}

func TestLoadConfig_envAndDotEnvOverrideFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(configPath, []byte("search:\n  default_top_k: 4\nvector:\n  collection: from_file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("QDRANT_COLLECTION=from_dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("TOP_K", "11")
	t.Setenv("QDRANT_COLLECTION", "")
	os.Unsetenv("QDRANT_COLLECTION")

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Search.DefaultTopK != 11 {
		t.Errorf("TOP_K should override the file, got %d", cfg.Search.DefaultTopK)
	}
	if cfg.Vector.Collection != "from_dotenv" {
		t.Errorf(".env should override the file, got %s", cfg.Vector.Collection)
	}
}

func TestLoadConfig_invalidIsError(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")
	if _, _, err := loadConfig(""); err == nil {
		t.Error("expected validation error for overlap >= size")
	}
}

// fakeEmbedServer returns a 4-dimensional vector per input derived from its length and first byte.
func fakeEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var texts []string
		if err := json.NewDecoder(r.Body).Decode(&texts); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vectors := make([][]float32, len(texts))
		for i, s := range texts {
			vectors[i] = []float32{float32(len(s)), float32(s[0]), 1, 0.5}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"vectors": vectors})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitializeComponents_indexAndSearch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"Applier.php":      "<?php class Applier { public function apply() {} }",
		"registration.php": "<?php ComponentRegistrar::register();",
		"README.md":        "not indexed",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Index.Directories = []string{src}
	cfg.State.Path = filepath.Join(dir, "indexed.json")
	cfg.Vector.Backend = "memory"
	cfg.Vector.Path = filepath.Join(dir, "vectors.bin")
	cfg.Embedding.URL = fakeEmbedServer(t).URL

	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	report, err := c.Pipeline.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesScanned != 1 || report.FilesChanged != 1 || report.Points != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	resp, err := c.Search.Search(ctx, models.SearchRequest{Query: "apply"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].File != filepath.Join(src, "Applier.php") {
		t.Errorf("unexpected results: %+v", resp.Results)
	}

	again, err := c.Pipeline.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.FilesChanged != 0 || again.FilesSkipped != 1 {
		t.Errorf("second run should skip the unchanged file: %+v", again)
	}
}

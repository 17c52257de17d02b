package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))

	// A named config file that does not exist is an error.
	if _, err := loader.Load(); err == nil {
		t.Fatal("Load() expected error for missing explicit config file")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
planner:
  target_chunk_minutes: 10
  max_chunk_minutes: 12
pipeline:
  mode: sequential
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Planner.TargetChunkMinutes != 10 {
		t.Errorf("TargetChunkMinutes = %d, want 10", cfg.Planner.TargetChunkMinutes)
	}
	if cfg.Planner.MaxChunkMinutes != 12 {
		t.Errorf("MaxChunkMinutes = %d, want 12", cfg.Planner.MaxChunkMinutes)
	}
	if cfg.Pipeline.Mode != "sequential" {
		t.Errorf("Mode = %q, want sequential", cfg.Pipeline.Mode)
	}

	// Settings absent from the file keep their defaults.
	if cfg.Planner.OverlapSeconds != 30 {
		t.Errorf("OverlapSeconds = %d, want default 30", cfg.Planner.OverlapSeconds)
	}
	if cfg.Store.DBPath != ".chunkscribe.db" {
		t.Errorf("DBPath = %q, want default", cfg.Store.DBPath)
	}
	if cfg.Pipeline.Workers != 3 {
		t.Errorf("Workers = %d, want default 3", cfg.Pipeline.Workers)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).LoadWithOverrides(map[string]interface{}{
		"pipeline.workers": 8,
		"store.db_path":    "/tmp/other.db",
	})
	if err != nil {
		t.Fatalf("LoadWithOverrides() error = %v", err)
	}

	if cfg.Pipeline.Workers != 8 {
		t.Errorf("Workers = %d, want override 8", cfg.Pipeline.Workers)
	}
	if cfg.Store.DBPath != "/tmp/other.db" {
		t.Errorf("DBPath = %q, want override", cfg.Store.DBPath)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "zero target",
			content: "planner:\n  target_chunk_minutes: 0\n",
		},
		{
			name:    "max below target",
			content: "planner:\n  target_chunk_minutes: 15\n  max_chunk_minutes: 10\n",
		},
		{
			name:    "negative overlap",
			content: "planner:\n  overlap_seconds: -1\n",
		},
		{
			name:    "empty db path",
			content: "store:\n  db_path: \"\"\n",
		},
		{
			name:    "bad mode",
			content: "pipeline:\n  mode: turbo\n",
		},
		{
			name:    "zero workers",
			content: "pipeline:\n  workers: 0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewLoader(path).Load(); err == nil {
				t.Error("Load() expected validation error, got nil")
			}
		})
	}
}

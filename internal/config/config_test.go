package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8787" {
		t.Fatalf("Addr=%q", cfg.Server.Addr)
	}
	if cfg.Client.SnapshotLimit != 100 {
		t.Fatalf("SnapshotLimit=%d", cfg.Client.SnapshotLimit)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("Level=%q", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  addr: \":9999\"\n  db_path: custom.db\nclient:\n  snapshot_limit: 25\nlog:\n  level: debug\n")
	if err := os.WriteFile(filepath.Join(dir, "auradesk.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Server.DBPath != "custom.db" {
		t.Fatalf("server=%+v", cfg.Server)
	}
	if cfg.Client.SnapshotLimit != 25 {
		t.Fatalf("SnapshotLimit=%d", cfg.Client.SnapshotLimit)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Level=%q", cfg.Log.Level)
	}
}

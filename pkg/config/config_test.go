package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteDefaultAndLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Fatal("existing files must not be clobbered")
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Shards.TokenTTL != 2*time.Minute {
		t.Fatalf("token ttl %v", cfg.Shards.TokenTTL)
	}
	if cfg.Contracts.MaxOffers != 24 {
		t.Fatalf("max offers %d", cfg.Contracts.MaxOffers)
	}
	if cfg.Network.ListenAddr == "" {
		t.Fatal("listen addr missing")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	overlay := []byte("storage:\n  data_dir: /var/lib/stord\n  max_space_gb: 32\nshards:\n  token_ttl: 5m\n")
	if err := os.WriteFile(path, overlay, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DataDir != "/var/lib/stord" || cfg.Storage.MaxSpaceGB != 32 {
		t.Fatalf("storage overlay not applied: %+v", cfg.Storage)
	}
	if cfg.Shards.TokenTTL != 5*time.Minute {
		t.Fatalf("token ttl overlay not applied: %v", cfg.Shards.TokenTTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Contracts.MaxOffers != 24 {
		t.Fatalf("default lost: %d", cfg.Contracts.MaxOffers)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[server]
addr = ":9090"

[agents]
stale_after = "400ms"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Agents.StaleAfter != 400*time.Millisecond {
		t.Errorf("expected stale_after 400ms, got %v", cfg.Agents.StaleAfter)
	}
	if cfg.Agents.HitGrace != 500*time.Millisecond {
		t.Errorf("hit_grace default lost, got %v", cfg.Agents.HitGrace)
	}
	if len(cfg.Arena.Mobs) == 0 {
		t.Error("default arena mobs should survive a partial config")
	}
}

func TestLoadArenaTables(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[arena.mobs]]
variant = "large"
x = 3
y = 4

[[arena.walls]]
x = 0
y = 10
width = 20
height = 1
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Arena.Mobs) != 1 || cfg.Arena.Mobs[0].Variant != "large" {
		t.Errorf("expected one large mob, got %+v", cfg.Arena.Mobs)
	}
	if len(cfg.Arena.Walls) != 1 || cfg.Arena.Walls[0].Width != 20 {
		t.Errorf("expected one wall, got %+v", cfg.Arena.Walls)
	}
}

func TestLoadRejectsBadDiagonal(t *testing.T) {
	_, err := Load(writeConfig(t, `
[agents]
diagonal = 1.5
`))
	if err == nil {
		t.Error("diagonal >= 1 should be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("missing file should error")
	}
}

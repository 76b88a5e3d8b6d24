package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Baud != 115200 || cfg.Ledger.Kind != "file" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Login.User != "root" {
		t.Fatalf("default login user %q", cfg.Login.User)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
station: line-3
device: /dev/ttyUSB2
ledger:
  kind: sqlite
  path: /var/lib/macline/ledger.db
retries:
  boot: 2
  fuse: 4
  conflict: 6
ntp:
  pool: time.example.net
  threshold: 250ms
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Station != "line-3" || cfg.Device != "/dev/ttyUSB2" {
		t.Fatalf("overlay lost: %+v", cfg)
	}
	if cfg.Baud != 115200 {
		t.Fatalf("unset baud %d, want default kept", cfg.Baud)
	}
	if cfg.Ledger.Kind != "sqlite" || cfg.Retries.Fuse != 4 {
		t.Fatalf("overlay lost: %+v", cfg)
	}
	d, err := cfg.NTP.ThresholdDuration()
	if err != nil {
		t.Fatalf("threshold: %v", err)
	}
	if d != 250*time.Millisecond {
		t.Fatalf("ntp threshold %v", d)
	}
}

func TestLoadRejectsBadLedgerKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ledger:\n  kind: etcd\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("bad ledger kind accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Station = "line-9"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Station != "line-9" {
		t.Fatalf("round trip lost station: %+v", loaded)
	}
}

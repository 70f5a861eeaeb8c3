package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chanderlud/telepathy/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.InputGain != 1.0 || cfg.OutputVolume != 1.0 {
		t.Errorf("expected unity gain/volume, got %v/%v", cfg.InputGain, cfg.OutputVolume)
	}
	if cfg.InputDeviceID != -1 || cfg.OutputDeviceID != -1 {
		t.Error("expected device IDs to default to -1")
	}
	if cfg.RelayAddr == "" {
		t.Error("expected a default relay address")
	}
	if cfg.StartBitrate != 32 {
		t.Errorf("expected default start bitrate 32, got %d", cfg.StartBitrate)
	}
	if cfg.JitterDepth != 3 {
		t.Errorf("expected default jitter depth 3, got %d", cfg.JitterDepth)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Config{
		KeyPath:        filepath.Join(dir, "local_key.pem"),
		RelayAddr:      "192.168.1.10:40142",
		InputDeviceID:  2,
		OutputDeviceID: 3,
		InputGain:      0.75,
		OutputVolume:   0.9,
		NoiseEnabled:   true,
		NoiseLevel:     60,
		StartBitrate:   24,
		JitterDepth:    4,
		Contacts: []config.ContactEntry{
			{Name: "Alice", PeerID: "deadbeef"},
		},
	}

	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := config.Load()
	if loaded.RelayAddr != cfg.RelayAddr {
		t.Errorf("relay addr: want %q got %q", cfg.RelayAddr, loaded.RelayAddr)
	}
	if loaded.InputDeviceID != cfg.InputDeviceID {
		t.Errorf("input device: want %d got %d", cfg.InputDeviceID, loaded.InputDeviceID)
	}
	if loaded.InputGain != cfg.InputGain {
		t.Errorf("input gain: want %v got %v", cfg.InputGain, loaded.InputGain)
	}
	if loaded.NoiseEnabled != cfg.NoiseEnabled {
		t.Errorf("noise enabled: want %v got %v", cfg.NoiseEnabled, loaded.NoiseEnabled)
	}
	if loaded.StartBitrate != cfg.StartBitrate {
		t.Errorf("start bitrate: want %d got %d", cfg.StartBitrate, loaded.StartBitrate)
	}
	if len(loaded.Contacts) != 1 || loaded.Contacts[0].PeerID != "deadbeef" {
		t.Errorf("contacts: unexpected value %+v", loaded.Contacts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := config.Load()
	if cfg.RelayAddr == "" {
		t.Error("expected non-empty relay addr from defaults")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "telepathy", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json {{{"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Load()
	if cfg.JitterDepth != 3 {
		t.Errorf("expected default jitter depth on corrupt file, got %d", cfg.JitterDepth)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := config.Save(config.Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "telepathy", "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}

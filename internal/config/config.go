// Package config manages persistent user preferences for the telepathy
// client. Settings are stored as JSON at os.UserConfigDir()/telepathy/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all persistent user preferences.
type Config struct {
	KeyPath        string  `json:"key_path"`   // ed25519 identity key, see internal/relay for the on-disk format
	RelayAddr      string  `json:"relay_addr"` // host:port of the rendezvous/relay node
	InputDeviceID  int     `json:"input_device_id"`
	OutputDeviceID int     `json:"output_device_id"`
	InputGain      float64 `json:"input_gain"`
	OutputVolume   float64 `json:"output_volume"`
	NoiseEnabled   bool    `json:"noise_enabled"`
	NoiseLevel     int     `json:"noise_level"`
	StartBitrate   int     `json:"start_bitrate_kbps"` // see internal/adapt.DefaultKbps
	JitterDepth    int     `json:"jitter_depth"`       // frames of 10 ms playback jitter buffering
	Contacts       []ContactEntry `json:"contacts"`
}

// ContactEntry is a saved peer shown in the contact list. Contact storage
// itself lives outside the core (spec.md §1 non-goal); this is just the
// narrow persisted record the core's Contact provider interface is built on.
type ContactEntry struct {
	Name   string `json:"name"`
	PeerID string `json:"peer_id"` // hex-encoded PeerId
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		RelayAddr:      "localhost:40142",
		InputDeviceID:  -1,
		OutputDeviceID: -1,
		InputGain:      1.0,
		OutputVolume:   1.0,
		NoiseLevel:     80,
		StartBitrate:   32,
		JitterDepth:    3,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "telepathy", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

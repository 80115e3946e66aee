// Package rtconfig loads the per-host runtime settings file: the knobs
// that control guest instantiation and the instrumentation engines,
// plus tunables that used to be hardcoded constants.
package rtconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RuntimeSettings controls guest instantiation and the instrumentation
// engines. Fields left zero after Load fall back to Defaults, except
// Verbosity and HistoryDBPath, whose zero values are kept as given.
type RuntimeSettings struct {
	StackSize uint32 `yaml:"stack_size,omitempty"`
	HeapSize  uint32 `yaml:"heap_size,omitempty"`
	Verbosity int    `yaml:"verbosity,omitempty"`
	MaxThreads int   `yaml:"max_threads,omitempty"`

	// AccessStrategy selects between the two access.Engine
	// implementations: "shared" (default) or "tsvd".
	AccessStrategy string `yaml:"access_strategy,omitempty"`

	// DefaultTimeoutSeconds bounds one guest iteration's wall clock.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds,omitempty"`

	// TsvdDelayUnits is the probe-window busy-spin length for
	// TsvdProbe, in spin-loop iterations.
	TsvdDelayUnits uint32 `yaml:"tsvd_delay_units,omitempty"`

	// ProfilePaceFloorMillis is the minimum delay enforced between a
	// guest's RunMain starting and its PROFILE frame being sent.
	ProfilePaceFloorMillis int `yaml:"profile_pace_floor_millis,omitempty"`

	// HistoryDBPath overrides where history.Store keeps its SQLite
	// file; empty uses the default under SocketDir.
	HistoryDBPath string `yaml:"history_db_path,omitempty"`
}

// Defaults mirrors the hardcoded constants this module replaces,
// promoted to overridable settings.
func Defaults() RuntimeSettings {
	return RuntimeSettings{
		StackSize:              1 << 20,
		HeapSize:               16 << 20,
		Verbosity:              1,
		MaxThreads:             16,
		AccessStrategy:         "shared",
		DefaultTimeoutSeconds:  60,
		TsvdDelayUnits:         500,
		ProfilePaceFloorMillis: 10,
	}
}

func (s *RuntimeSettings) applyDefaults(d RuntimeSettings) {
	if s.StackSize == 0 {
		s.StackSize = d.StackSize
	}
	if s.HeapSize == 0 {
		s.HeapSize = d.HeapSize
	}
	if s.MaxThreads == 0 {
		s.MaxThreads = d.MaxThreads
	}
	if s.AccessStrategy == "" {
		s.AccessStrategy = d.AccessStrategy
	}
	if s.DefaultTimeoutSeconds == 0 {
		s.DefaultTimeoutSeconds = d.DefaultTimeoutSeconds
	}
	if s.TsvdDelayUnits == 0 {
		s.TsvdDelayUnits = d.TsvdDelayUnits
	}
	if s.ProfilePaceFloorMillis == 0 {
		s.ProfilePaceFloorMillis = d.ProfilePaceFloorMillis
	}
}

// UserConfigDir returns ~/.silverline, creating nothing.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".silverline"), nil
}

// Load reads runtime.yaml from dir, applying Defaults() for any field
// left unset other than Verbosity and HistoryDBPath. A missing file is
// not an error — it yields Defaults().
func Load(dir string) (RuntimeSettings, error) {
	cfg := Defaults()
	path := filepath.Join(dir, "runtime.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return RuntimeSettings{}, err
	}

	var fromFile RuntimeSettings
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return RuntimeSettings{}, err
	}
	fromFile.applyDefaults(cfg)
	return fromFile, nil
}

// Save writes settings to dir/runtime.yaml, creating dir if needed.
func Save(dir string, settings RuntimeSettings) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "runtime.yaml"), data, 0o644)
}

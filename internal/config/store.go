package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"

	"wayrec/internal/logger"
)

const (
	// DefaultConfigDir is the settings directory relative to the home dir
	DefaultConfigDir = ".config/wayrec"
	// SettingsFileName is the name of the persisted settings document
	SettingsFileName = "settings.yaml"
)

// PersistError reports a settings I/O failure, as opposed to a
// ValidationError. The in-memory settings stay usable when Save fails
// with one of these.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("settings %s failed: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store owns the persisted settings. All reads and writes of the current
// configuration go through it; nothing else touches the settings file.
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// DefaultSettingsPath returns the settings file location under the
// user's config directory.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultConfigDir, SettingsFileName)
	}
	return filepath.Join(home, DefaultConfigDir, SettingsFileName)
}

// NewStore loads the settings at path, falling back to the default
// location when path is empty. A missing file is first run: defaults are
// used and the file is created.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultSettingsPath()
	}

	s := &Store{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &PersistError{Op: "init", Err: err}
	}

	log := logger.WithComponent("config")

	loaded, err := s.loadFromDisk()
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("no settings file, writing defaults")
			s.current = Defaults()
			if werr := s.writeAtomic(s.current); werr != nil {
				return nil, werr
			}
			return s, nil
		}
		return nil, err
	}

	s.current = loaded
	log.Info().Str("path", path).Msg("settings loaded")
	return s, nil
}

// loadFromDisk reads and sanitizes the settings document. Invalid
// individual fields fall back to their defaults; only I/O failures are
// returned as errors.
func (s *Store) loadFromDisk() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}, err
	}

	log := logger.WithComponent("config")

	// Decoding over a defaults copy makes missing keys keep their
	// defaults; unknown keys are ignored for forward compatibility.
	loaded := Defaults()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("settings file unreadable, using defaults")
		return Defaults(), nil
	}

	sane, replaced := sanitize(loaded)
	for _, field := range replaced {
		log.Warn().Str("field", field).Msg("invalid settings field, using default")
	}
	return sane, nil
}

// Current returns a copy of the current settings snapshot
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Path returns the settings file location
func (s *Store) Path() string {
	return s.path
}

// Save validates the full configuration and persists it atomically.
// Validation failures and I/O failures are distinguishable by type so
// callers can report them differently.
func (s *Store) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	settings.Version = SchemaVersion

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAtomic(settings); err != nil {
		return err
	}
	s.current = settings
	logger.WithComponent("config").Debug().Str("path", s.path).Msg("settings saved")
	return nil
}

// Reset restores the built-in defaults, persists them over any existing
// file, and returns them. Default directories are created so the
// defaults themselves validate on the next Save.
func (s *Store) Reset() (Settings, error) {
	defaults := Defaults()
	if err := os.MkdirAll(defaults.OutputDir, 0755); err != nil {
		return defaults, &PersistError{Op: "reset", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAtomic(defaults); err != nil {
		return defaults, err
	}
	s.current = defaults
	logger.WithComponent("config").Info().Str("path", s.path).Msg("settings reset to defaults")
	return defaults, nil
}

// Reload re-reads the settings file, replacing the in-memory snapshot.
// Used by the file watcher when the document changes out-of-band.
func (s *Store) Reload() (Settings, bool, error) {
	loaded, err := s.loadFromDisk()
	if err != nil {
		return Settings{}, false, &PersistError{Op: "reload", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !reflect.DeepEqual(loaded, s.current)
	s.current = loaded
	return loaded, changed, nil
}

// writeAtomic writes the document via a temp file and rename so a crash
// can never leave a truncated settings file behind.
func (s *Store) writeAtomic(settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return &PersistError{Op: "encode", Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, SettingsFileName+".tmp-*")
	if err != nil {
		return &PersistError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistError{Op: "write", Err: err}
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return &PersistError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &PersistError{Op: "rename", Err: err}
	}
	return nil
}

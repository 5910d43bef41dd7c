package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Config levels. Level 0 is compiled in; 1..9 live in conf<N>.yaml files.
const (
	LevelDefaults = 0
	LevelVendor   = 1
	LevelUser     = 9
)

// Store loads layered configuration files and persists changes.
type Store struct {
	dir    string
	logger *logrus.Entry

	mu  sync.RWMutex
	cfg Config
}

// NewStore creates a Store reading conf<N>.yaml files from dir. It holds the
// defaults until Load is called.
func NewStore(dir string, logger *logrus.Entry) *Store {
	return &Store{dir: dir, logger: logger, cfg: Defaults()}
}

func (s *Store) path(level int) string {
	return filepath.Join(s.dir, fmt.Sprintf("conf%d.yaml", level))
}

// Load rebuilds the configuration from the defaults and every level file
// present, lowest level first.
func (s *Store) Load() error {
	cfg := Defaults()
	for level := LevelVendor; level <= LevelUser; level++ {
		data, err := os.ReadFile(s.path(level))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("unable to read config level %d: %w", level, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("invalid %s: %w", filepath.Base(s.path(level)), err)
		}
		s.logger.Debugf("Loaded config level %d", level)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SaveLevel writes cfg as the file for level.
func (s *Store) SaveLevel(level int, cfg Config) error {
	if level < LevelVendor || level > LevelUser {
		return fmt.Errorf("config level %d cannot be saved", level)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := s.path(level)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Update applies fn to a copy of the configuration, saves the result at
// level and makes it current. Nothing changes if fn or the save fails.
func (s *Store) Update(level int, fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.SaveLevel(level, next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// Reset deletes the files for level and every level above it, then reloads.
// Level 0 cannot be deleted, so levels below 1 reset from level 1.
func (s *Store) Reset(level int) error {
	if level < LevelVendor {
		level = LevelVendor
	}
	for l := level; l <= LevelUser; l++ {
		if err := os.Remove(s.path(l)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reset config level %d: %w", l, err)
		}
	}
	s.logger.Infof("Config reset from level %d", level)
	return s.Load()
}

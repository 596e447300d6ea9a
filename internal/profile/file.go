package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/resmeter/internal/log"
)

// FileStore keeps profiles in memory and flushes them to a YAML file
// periodically and on Close.
type FileStore struct {
	path string

	mu       sync.Mutex
	profiles map[uint64]Profile
	dirty    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type fileDocument struct {
	Players map[uint64]Profile `yaml:"players"`
}

// OpenFileStore reads path if it exists. A positive interval starts a background flusher.
func OpenFileStore(path string, interval time.Duration) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		profiles: make(map[uint64]Profile),
		stop:     make(chan struct{}),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var doc fileDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse profile file %s: %w", path, err)
		}
		for uid, p := range doc.Players {
			s.profiles[uid] = p
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read profile file %s: %w", path, err)
	}

	if interval > 0 {
		s.wg.Add(1)
		go s.flushLoop(interval)
	}
	return s, nil
}

func (s *FileStore) Load(uid uint64) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[uid]
	return p, ok
}

func (s *FileStore) Save(uid uint64, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles[uid] == p {
		return nil
	}
	s.profiles[uid] = p
	s.dirty = true
	return nil
}

// Flush writes the file if anything changed since the last flush.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	doc := fileDocument{Players: make(map[uint64]Profile, len(s.profiles))}
	for uid, p := range s.profiles {
		doc.Players[uid] = p
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profiles-*")
	if err != nil {
		return fmt.Errorf("failed to create temp profile file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) flushLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				log.GetLogger().WithError(err).Warn("profile flush failed")
			}
		}
	}
}

// Close stops the flusher and writes pending changes.
func (s *FileStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
	return s.Flush()
}

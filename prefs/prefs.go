// Package prefs provides PrefStore implementations for the small pieces of
// local state kept outside the credential store: upload counters and the
// guest flag. Reads and writes are synchronous.
package prefs

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Memory is an in-memory PrefStore.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

// Get returns the value and whether it was present.
func (s *Memory) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores the value.
func (s *Memory) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Delete removes the key.
func (s *Memory) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// File is a PrefStore persisted as a single JSON file. Every mutation
// rewrites the file through a temp file and rename; a write failure keeps
// the in-memory value and is logged, matching the durable-enough contract
// of the platform defaults store it replaces.
type File struct {
	path string
	log  *slog.Logger

	mu sync.RWMutex
	m  map[string]string
}

// NewFile loads (or creates) the store at path.
func NewFile(path string, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.Default()
	}
	f := &File{path: path, log: log, m: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &f.m); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the value and whether it was present.
func (f *File) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.m[key]
	return v, ok
}

// Set stores the value and persists.
func (f *File) Set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = value
	f.flush()
}

// Delete removes the key and persists.
func (f *File) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, key)
	f.flush()
}

// flush writes the current map to disk. Callers hold the write lock.
func (f *File) flush() {
	raw, err := json.Marshal(f.m)
	if err != nil {
		f.log.Error("prefs: encode", "err", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".prefs-*")
	if err != nil {
		f.log.Error("prefs: persist", "err", err)
		return
	}
	if _, err := tmp.Write(raw); err == nil {
		err = tmp.Close()
		if err == nil {
			err = os.Rename(tmp.Name(), f.path)
		}
	} else {
		tmp.Close()
	}
	if err != nil {
		os.Remove(tmp.Name())
		f.log.Error("prefs: persist", "err", err)
	}
}

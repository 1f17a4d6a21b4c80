// Package store holds the gateway access key.
//
// DESIGN: The access key is write-once. The first Set wins; every later Set
// fails with ErrKeyAlreadySet until the key file is removed by an operator.
//
// FileKeyStore persists the key as JSON ({"key": "..."}) and caches it in
// memory after the first successful read. MemoryKeyStore keeps the same
// contract without touching disk and is used by tests and ephemeral runs.
package store

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrKeyAlreadySet is returned by Set once a key exists.
	ErrKeyAlreadySet = errors.New("server key already set")
	// ErrInvalidKey is returned by Set for an empty key.
	ErrInvalidKey = errors.New("invalid key")
)

// KeyStore defines the access key storage contract.
type KeyStore interface {
	// IsSet reports whether a key has been configured.
	IsSet() bool

	// Set stores the key once. Surrounding whitespace is trimmed.
	Set(key string) error

	// Verify reports whether provided matches the stored key.
	Verify(provided string) bool
}

// keyFile is the on-disk shape.
type keyFile struct {
	Key string `json:"key"`
}

// FileKeyStore persists the access key in a JSON file.
type FileKeyStore struct {
	path   string
	cached string
	mu     sync.RWMutex
}

// NewFileKeyStore creates a store backed by path. The file need not exist yet.
func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{path: path}
}

// Path returns the backing file path.
func (s *FileKeyStore) Path() string {
	return s.path
}

// IsSet reports whether a key exists in memory or on disk.
func (s *FileKeyStore) IsSet() bool {
	return s.current() != ""
}

// Set writes the key file. It fails if a key already exists.
func (s *FileKeyStore) Set(key string) error {
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" || s.loadLocked() != "" {
		return ErrKeyAlreadySet
	}

	data, err := json.MarshalIndent(keyFile{Key: normalized}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode key file: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	// O_EXCL keeps two processes from both winning the first write.
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrKeyAlreadySet
		}
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close key file: %w", err)
	}

	s.cached = normalized
	log.Info().Str("path", s.path).Msg("server key has been set")
	return nil
}

// Verify compares provided against the stored key in constant time.
func (s *FileKeyStore) Verify(provided string) bool {
	return verify(s.current(), provided)
}

// current returns the cached key, reading the file on a cache miss.
func (s *FileKeyStore) current() string {
	s.mu.RLock()
	key := s.cached
	s.mu.RUnlock()
	if key != "" {
		return key
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// loadLocked reads the key file into the cache. Caller holds mu.
func (s *FileKeyStore) loadLocked() string {
	if s.cached != "" {
		return s.cached
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", s.path).Msg("failed to read server key")
		}
		return ""
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("failed to parse server key")
		return ""
	}
	s.cached = strings.TrimSpace(kf.Key)
	return s.cached
}

// MemoryKeyStore is an in-memory KeyStore.
type MemoryKeyStore struct {
	key string
	mu  sync.RWMutex
}

// NewMemoryKeyStore creates a store, optionally preset with key.
func NewMemoryKeyStore(key string) *MemoryKeyStore {
	return &MemoryKeyStore{key: strings.TrimSpace(key)}
}

// IsSet implements KeyStore.
func (s *MemoryKeyStore) IsSet() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != ""
}

// Set implements KeyStore.
func (s *MemoryKeyStore) Set(key string) error {
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != "" {
		return ErrKeyAlreadySet
	}
	s.key = normalized
	return nil
}

// Verify implements KeyStore.
func (s *MemoryKeyStore) Verify(provided string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verify(s.key, provided)
}

func verify(expected, provided string) bool {
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

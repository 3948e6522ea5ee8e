// Package spool provides a local file-based store for payloads that could
// not be delivered. Each payload is written as a separate file; data
// persists across crashes and reboots. The oldest payloads are dropped when
// the size limit is reached.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const fileExt = ".spool"

// Spool stores payloads in a directory, one file each, named so that
// lexical order is arrival order.
type Spool struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	mu       sync.Mutex
	seq      uint64
}

// New creates a spool at dir, creating the directory if needed. maxSizeMB
// bounds the total size on disk; zero or less means unbounded.
func New(dir string, maxSizeMB int, logger *zap.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spool{
		dir:      dir,
		maxBytes: int64(maxSizeMB) << 20,
		logger:   logger,
	}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Store saves one payload. If the spool would exceed its size limit, the
// oldest payloads are dropped first.
func (s *Spool) Store(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 {
		for s.currentSize()+int64(len(data)) > s.maxBytes {
			if !s.dropOldest() {
				break
			}
		}
	}

	s.seq++
	name := fmt.Sprintf("%s-%06d-%s%s",
		time.Now().UTC().Format("20060102T150405.000000000"), s.seq%1000000, uuid.NewString()[:8], fileExt)
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o640)
}

// RetrieveAll reads every stored payload in arrival order and removes the
// corresponding files. Unreadable files are logged and left in place.
func (s *Spool) RetrieveAll() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.files()
	if err != nil {
		return nil, err
	}

	var payloads [][]byte
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Failed to read spool file",
				zap.String("file", path),
				zap.Error(err))
			continue
		}
		payloads = append(payloads, data)
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove spool file", zap.String("file", path), zap.Error(err))
		}
	}
	return payloads, nil
}

// Count returns the number of stored payloads.
func (s *Spool) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.files()
	if err != nil {
		return 0
	}
	return len(names)
}

// files lists payload file names sorted oldest first.
// Must be called with s.mu held.
func (s *Spool) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// currentSize returns the total size of all payload files in bytes.
// Must be called with s.mu held.
func (s *Spool) currentSize() int64 {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}

// dropOldest removes the oldest payload file. It reports false when there
// was nothing to remove.
// Must be called with s.mu held.
func (s *Spool) dropOldest() bool {
	names, err := s.files()
	if err != nil || len(names) == 0 {
		return false
	}
	path := filepath.Join(s.dir, names[0])
	s.logger.Warn("Spool full, dropping oldest payload", zap.String("file", path))
	if err := os.Remove(path); err != nil {
		s.logger.Warn("Failed to remove oldest spool file",
			zap.String("file", path),
			zap.Error(err))
		return false
	}
	return true
}

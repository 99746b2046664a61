// Package spool owns the temp-file area uploads and report artifacts pass
// through. Everything in it is transient: consumers delete what they read,
// and a cron janitor sweeps whatever a crashed job left behind.
package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	logx "hermes/pkg/logx"
)

type Spool struct {
	dir string
	log logx.Logger
}

func New(dir string, log logx.Logger) (*Spool, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "hermes-spool")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("spool: create dir: %w", err)
	}
	return &Spool{dir: dir, log: log}, nil
}

func (s *Spool) Dir() string { return s.dir }

// Save writes an uploaded stream into the spool and returns its path.
// The caller (the local roster source) is responsible for deleting it.
func (s *Spool) Save(r io.Reader, pattern string) (string, error) {
	if pattern == "" {
		pattern = "upload-*.csv"
	}
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("spool: create: %w", err)
	}
	path := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("spool: write: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("spool: close: %w", err)
	}
	return path, nil
}

// Sweep removes spool files older than maxAge and reports how many went.
func (s *Spool) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("spool: sweep: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("sweep remove failed", logx.String("path", path), logx.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}

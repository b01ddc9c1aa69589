package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const recordSuffix = ".json"

// FileStore persists one JSON record file per output under a directory.
// Commit writes to a temporary file in the same directory and renames it
// over the old record, so a crash mid-write cannot corrupt the store. The
// directory is safely shareable read-only and relocatable as a unit; its
// only cross-machine hazard is probe staleness, which the machine-identity
// dependency handles.
type FileStore struct {
	dir string
}

// NewFileStore opens (creating if needed) a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// recordPath derives a stable filename from the output identity. Identities
// are hashed because they are frequently paths themselves.
func (s *FileStore) recordPath(output string) string {
	sum := sha256.Sum256([]byte(output))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:12])+recordSuffix)
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (map[string]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache store directory: %w", err)
	}

	records := make(map[string]*Record)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordSuffix) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading record %s: %w", path, err)
		}
		rec := &Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", ErrCorrupt, path, err)
		}
		if rec.Output == "" {
			return nil, fmt.Errorf("%w: record %s has no output identity", ErrCorrupt, path)
		}
		records[rec.Output] = rec
	}
	return records, nil
}

// RecordFor implements Store.
func (s *FileStore) RecordFor(ctx context.Context, output string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(output))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: record for '%s': %v", ErrCorrupt, output, err)
	}
	return rec, nil
}

// Commit implements Store. The record is durable before Commit returns:
// write temp file, fsync, rename.
func (s *FileStore) Commit(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record for '%s': %w", rec.Output, err)
	}

	tmp, err := os.CreateTemp(s.dir, "commit-*")
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing record for '%s': %w", rec.Output, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing record for '%s': %w", rec.Output, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp record: %w", err)
	}
	if err := os.Rename(tmpPath, s.recordPath(rec.Output)); err != nil {
		return fmt.Errorf("replacing record for '%s': %w", rec.Output, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

package stash

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS implements Stash on a local directory tree. Intended for development
// and tests; the production backend is S3.
type FS struct {
	dir    string
	prefix string
}

// NewFS creates a filesystem stash rooted at dir
func NewFS(dir, prefix string) *FS {
	return &FS{dir: dir, prefix: prefix}
}

func (f *FS) Put(_ context.Context, key string, data []byte, meta Meta) error {
	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create stash dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write stash record: %w", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal stash meta: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaBytes, 0644); err != nil {
		return fmt.Errorf("write stash meta: %w", err)
	}
	return nil
}

func (f *FS) Get(_ context.Context, key string) ([]byte, Meta, error) {
	path := f.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, ErrAbsent
		}
		return nil, Meta{}, fmt.Errorf("read stash record: %w", err)
	}

	meta, err := f.readMeta(path)
	if err != nil {
		return nil, Meta{}, err
	}
	return data, meta, nil
}

func (f *FS) Head(_ context.Context, key string) (Meta, error) {
	path := f.path(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Meta{}, ErrAbsent
		}
		return Meta{}, fmt.Errorf("stat stash record: %w", err)
	}
	return f.readMeta(path)
}

func (f *FS) readMeta(path string) (Meta, error) {
	var meta Meta
	metaBytes, err := os.ReadFile(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			// Record without sidecar: treat as present with zero version
			return Meta{}, nil
		}
		return Meta{}, fmt.Errorf("read stash meta: %w", err)
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Meta{}, fmt.Errorf("unmarshal stash meta: %w", err)
	}
	return meta, nil
}

func (f *FS) path(key string) string {
	name := strings.NewReplacer("/", string(filepath.Separator), ":", "_").Replace(key)
	if f.prefix != "" {
		return filepath.Join(f.dir, f.prefix, name)
	}
	return filepath.Join(f.dir, name)
}

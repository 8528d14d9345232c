package storage

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

type FileConfig struct {
	Directory string
}

type fileStorage struct {
	directory string
}

// NewFileStorage stores objects below f.Directory, the working directory when
// empty.
func NewFileStorage(ctx context.Context, f FileConfig) (Storage, error) {
	if f.Directory == "" {
		f.Directory = "."
	}

	return &fileStorage{
		directory: f.Directory,
	}, nil
}

func (s *fileStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if !filepath.IsLocal(key) {
		return "", xerrors.Errorf("key %q escapes %s", key, s.directory)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.directory, key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", xerrors.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", xerrors.Errorf("failed to write frame data: %w", err)
	}

	return path, nil
}

// Get reads path as given, so frames outside the output directory can be
// compared.
func (s *fileStorage) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read frame data: %w", err)
	}

	return data, nil
}

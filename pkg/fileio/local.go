package fileio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

type LocalFileIO struct {
	root string
}

func NewLocalFileIO(root string) (*LocalFileIO, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("error in MkdirAll: %w", err)
	}
	return &LocalFileIO{root: root}, nil
}

func (l *LocalFileIO) Root() string { return l.root }

func (l *LocalFileIO) abs(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

func (l *LocalFileIO) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(l.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	return data, err
}

// WriteFile writes into a temp file first. Without overwrite the temp file
// is hard linked to the target, which fails if the target exists.
func (l *LocalFileIO) WriteFile(_ context.Context, path string, data []byte, overwrite bool) error {
	target := l.abs(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(target)+"-"+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	defer os.Remove(tmp)
	if overwrite {
		return os.Rename(tmp, target)
	}
	if err := os.Link(tmp, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExist, path)
		}
		return err
	}
	return nil
}

func (l *LocalFileIO) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(l.abs(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *LocalFileIO) Delete(_ context.Context, path string) error {
	err := os.Remove(l.abs(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *LocalFileIO) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(l.abs(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

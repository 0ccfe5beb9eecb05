package fileio

import (
	"context"
	"errors"
)

var (
	ErrNotExist = errors.New("tablestream: file does not exist")
	ErrExist    = errors.New("tablestream: file already exists")
)

// FileIO is the storage contract of a table. Paths are slash separated and
// relative to the table root.
type FileIO interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile publishes data at path. With overwrite unset an existing
	// file makes it fail with ErrExist and leaves the old content.
	WriteFile(ctx context.Context, path string, data []byte, overwrite bool) error
	Exists(ctx context.Context, path string) (bool, error)
	// Delete of a missing file is not an error.
	Delete(ctx context.Context, path string) error
	// List returns the names of the files directly under dir.
	List(ctx context.Context, dir string) ([]string, error)
}

package manifest

import (
	"context"
	"encoding/json"
	"fmt"

	"tablestream/pkg/fileio"
)

// ManifestFileMeta is one line of a manifest list.
type ManifestFileMeta struct {
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
	NumAddedFiles  int64  `json:"numAddedFiles"`
	NumDeletedFile int64  `json:"numDeletedFiles"`
}

// Store reads and writes manifest files and manifest lists.
type Store struct {
	fio  fileio.FileIO
	path fileio.PathFactory
}

func NewStore(fio fileio.FileIO) *Store {
	return &Store{fio: fio}
}

func (s *Store) WriteManifest(ctx context.Context, entries []ManifestEntry) (ManifestFileMeta, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return ManifestFileMeta{}, fmt.Errorf("error marshalling manifest: %w", err)
	}
	name := s.path.NewManifestName()
	if err = s.fio.WriteFile(ctx, s.path.ManifestPath(name), data, false); err != nil {
		return ManifestFileMeta{}, err
	}
	meta := ManifestFileMeta{FileName: name, FileSize: int64(len(data))}
	for _, e := range entries {
		if e.Kind == FileKindAdd {
			meta.NumAddedFiles++
		} else {
			meta.NumDeletedFile++
		}
	}
	return meta, nil
}

func (s *Store) ReadManifest(ctx context.Context, name string) ([]ManifestEntry, error) {
	data, err := s.fio.ReadFile(ctx, s.path.ManifestPath(name))
	if err != nil {
		return nil, err
	}
	var entries []ManifestEntry
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error unmarshalling manifest %s: %w", name, err)
	}
	return entries, nil
}

// WriteManifestList returns the name of the new list.
func (s *Store) WriteManifestList(ctx context.Context, metas []ManifestFileMeta) (string, error) {
	if metas == nil {
		metas = []ManifestFileMeta{}
	}
	data, err := json.Marshal(metas)
	if err != nil {
		return "", fmt.Errorf("error marshalling manifest list: %w", err)
	}
	name := s.path.NewManifestListName()
	if err = s.fio.WriteFile(ctx, s.path.ManifestPath(name), data, false); err != nil {
		return "", err
	}
	return name, nil
}

func (s *Store) ReadManifestList(ctx context.Context, name string) ([]ManifestFileMeta, error) {
	if name == "" {
		return nil, nil
	}
	data, err := s.fio.ReadFile(ctx, s.path.ManifestPath(name))
	if err != nil {
		return nil, err
	}
	var metas []ManifestFileMeta
	if err = json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("error unmarshalling manifest list %s: %w", name, err)
	}
	return metas, nil
}

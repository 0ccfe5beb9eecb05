package mergetree

import (
	"context"
	"sort"

	"tablestream/pkg/fileio"
	"tablestream/pkg/format"
	"tablestream/pkg/manifest"
	"tablestream/pkg/reader"
	"tablestream/pkg/types"
)

const (
	NumLevels = 5
	MaxLevel  = NumLevels - 1
)

// FileReaderFactory opens the data files of one bucket.
type FileReaderFactory struct {
	FIO       fileio.FileIO
	Bucket    int
	BatchSize int
	path      fileio.PathFactory
}

func (f *FileReaderFactory) Open(ctx context.Context, file manifest.DataFileMeta) (reader.RecordReader[types.KeyValue], error) {
	return format.NewReader(ctx, f.FIO, f.path.DataFilePath(f.Bucket, file.FileName), f.BatchSize)
}

// Suppliers opens files lazily, in order.
func (f *FileReaderFactory) Suppliers(ctx context.Context, files []manifest.DataFileMeta) []reader.Supplier[types.KeyValue] {
	suppliers := make([]reader.Supplier[types.KeyValue], len(files))
	for i := range files {
		file := files[i]
		suppliers[i] = func() (reader.RecordReader[types.KeyValue], error) {
			return f.Open(ctx, file)
		}
	}
	return suppliers
}

// MergedState reads the current state held by files. Keyed files are sort
// merged with retractions dropped; unkeyed files are concatenated in
// sequence order.
func (f *FileReaderFactory) MergedState(ctx context.Context, files []manifest.DataFileMeta, keyed bool) (reader.RecordReader[types.KeyValue], error) {
	files = SortBySequence(files)
	if !keyed {
		return reader.Concat(f.Suppliers(ctx, files)...), nil
	}
	sources := make([]reader.RecordReader[types.KeyValue], 0, len(files))
	for _, file := range files {
		r, err := f.Open(ctx, file)
		if err != nil {
			for _, opened := range sources {
				opened.Close()
			}
			return nil, err
		}
		sources = append(sources, r)
	}
	return NewSortMergeReader(sources, true), nil
}

// SortBySequence returns a copy of files ordered by their sequence range.
func SortBySequence(files []manifest.DataFileMeta) []manifest.DataFileMeta {
	sorted := make([]manifest.DataFileMeta, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MinSequence != sorted[j].MinSequence {
			return sorted[i].MinSequence < sorted[j].MinSequence
		}
		return sorted[i].MaxSequence < sorted[j].MaxSequence
	})
	return sorted
}

package mergetree

import (
	"context"
	"fmt"
	"time"

	"tablestream/pkg/fileio"
	"tablestream/pkg/format"
	"tablestream/pkg/manifest"
	"tablestream/pkg/options"
	"tablestream/pkg/reader"
	"tablestream/pkg/types"

	"github.com/sirupsen/logrus"
)

type WriterOptions struct {
	SchemaID   int64
	Keyed      bool
	KeyArity   int
	Producer   options.ChangelogProducer
	BufferRows int
}

// Increment is what a bucket writer produced since the last commit.
type Increment struct {
	NewFiles       []manifest.DataFileMeta
	ChangelogFiles []manifest.DataFileMeta
	CompactBefore  []manifest.DataFileMeta
	CompactAfter   []manifest.DataFileMeta
	FullCompaction bool
}

func (inc *Increment) IsEmpty() bool {
	return len(inc.NewFiles) == 0 && len(inc.ChangelogFiles) == 0 &&
		len(inc.CompactBefore) == 0 && len(inc.CompactAfter) == 0
}

// Writer is the LSM writer of one bucket.
type Writer struct {
	bucket  int
	opts    WriterOptions
	fio     fileio.FileIO
	path    fileio.PathFactory
	readers *FileReaderFactory
	mem     *Memtable
	nextSeq int64
	live    []manifest.DataFileMeta
	inc     Increment
}

// NewWriter resumes a bucket holding the restored files.
func NewWriter(fio fileio.FileIO, bucket int, opts WriterOptions, restored []manifest.DataFileMeta) *Writer {
	if opts.BufferRows <= 0 {
		opts.BufferRows = 1024
	}
	w := &Writer{
		bucket:  bucket,
		opts:    opts,
		fio:     fio,
		readers: &FileReaderFactory{FIO: fio, Bucket: bucket},
		mem:     NewMemtable(opts.Keyed, opts.Producer == options.ChangelogInput),
		live:    append([]manifest.DataFileMeta(nil), restored...),
	}
	for _, f := range restored {
		if f.MaxSequence >= w.nextSeq {
			w.nextSeq = f.MaxSequence + 1
		}
	}
	return w
}

func (w *Writer) Bucket() int { return w.bucket }

// LiveFiles is the file set of the bucket including uncommitted changes.
func (w *Writer) LiveFiles() []manifest.DataFileMeta {
	return append([]manifest.DataFileMeta(nil), w.live...)
}

func (w *Writer) Write(ctx context.Context, row types.Row, key types.Row) error {
	w.mem.Put(types.KeyValue{
		Key:      key,
		Sequence: w.nextSeq,
		Kind:     row.Kind,
		Value:    row.WithKind(types.RowKindInsert),
	})
	w.nextSeq++
	if w.mem.Len() >= w.opts.BufferRows {
		return w.Flush(ctx)
	}
	return nil
}

func (w *Writer) writeFile(ctx context.Context, name string, level int, records []types.KeyValue) (manifest.DataFileMeta, error) {
	info, err := format.WriteFile(ctx, w.fio, w.path.DataFilePath(w.bucket, name), w.opts.KeyArity, records)
	if err != nil {
		return manifest.DataFileMeta{}, err
	}
	return manifest.NewDataFileMeta(name, info, level, w.opts.SchemaID, time.Now().UnixMilli()), nil
}

// Flush writes the memtable as a level 0 file, plus the raw input as a
// changelog file under the input changelog producer.
func (w *Writer) Flush(ctx context.Context) error {
	if w.mem.IsEmpty() {
		return nil
	}
	records, input := w.mem.Drain()
	if len(records) > 0 {
		meta, err := w.writeFile(ctx, w.path.NewDataFileName(), 0, records)
		if err != nil {
			return err
		}
		w.inc.NewFiles = append(w.inc.NewFiles, meta)
		w.live = append(w.live, meta)
	}
	if len(input) > 0 {
		meta, err := w.writeFile(ctx, w.path.NewChangelogFileName(), 0, input)
		if err != nil {
			return err
		}
		w.inc.ChangelogFiles = append(w.inc.ChangelogFiles, meta)
	}
	logrus.Debugf("Flushed bucket %d: %d records, %d changelog records", w.bucket, len(records), len(input))
	return nil
}

// Compact flushes and rewrites files of the bucket. A full compaction
// merges every file into one file on the max level and drops retractions;
// otherwise only level 0 files are merged into level 1, keeping retractions
// since older levels may still hold their keys.
func (w *Writer) Compact(ctx context.Context, full bool) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}
	var candidates []manifest.DataFileMeta
	if full {
		candidates = w.live
		if len(candidates) == 0 || (len(candidates) == 1 && candidates[0].Level == MaxLevel) {
			return nil
		}
	} else {
		for _, f := range w.live {
			if f.Level == 0 {
				candidates = append(candidates, f)
			}
		}
		if len(candidates) < 2 {
			return nil
		}
	}

	var (
		merged reader.RecordReader[types.KeyValue]
		err    error
		level  = 1
	)
	if full {
		level = MaxLevel
		merged, err = w.readers.MergedState(ctx, candidates, w.opts.Keyed)
	} else if w.opts.Keyed {
		sources := make([]reader.RecordReader[types.KeyValue], 0, len(candidates))
		for _, f := range candidates {
			r, err := w.readers.Open(ctx, f)
			if err != nil {
				for _, s := range sources {
					s.Close()
				}
				return err
			}
			sources = append(sources, r)
		}
		merged = NewSortMergeReader(sources, false)
	} else {
		merged = reader.Concat(w.readers.Suppliers(ctx, SortBySequence(candidates))...)
	}
	if err != nil {
		return err
	}
	records, err := reader.Collect(merged)
	if err != nil {
		return fmt.Errorf("error compacting bucket %d: %w", w.bucket, err)
	}

	var after []manifest.DataFileMeta
	if len(records) > 0 {
		meta, err := w.writeFile(ctx, w.path.NewDataFileName(), level, records)
		if err != nil {
			return err
		}
		after = append(after, meta)
	}

	removed := make(map[string]bool, len(candidates))
	for _, f := range candidates {
		removed[f.FileName] = true
		if !w.dropCompactAfter(f.FileName) {
			w.inc.CompactBefore = append(w.inc.CompactBefore, f)
		}
	}
	live := w.live[:0:0]
	for _, f := range w.live {
		if !removed[f.FileName] {
			live = append(live, f)
		}
	}
	w.live = append(live, after...)
	w.inc.CompactAfter = append(w.inc.CompactAfter, after...)
	if full {
		w.inc.FullCompaction = true
	}
	logrus.WithFields(logrus.Fields{
		"bucket": w.bucket,
		"full":   full,
		"before": len(candidates),
		"after":  len(after),
	}).Info("Compacted bucket")
	return nil
}

// dropCompactAfter forgets an uncommitted compaction output that is being
// compacted again.
func (w *Writer) dropCompactAfter(name string) bool {
	for i, f := range w.inc.CompactAfter {
		if f.FileName == name {
			w.inc.CompactAfter = append(w.inc.CompactAfter[:i], w.inc.CompactAfter[i+1:]...)
			return true
		}
	}
	return false
}

// PrepareCommit flushes and hands over the increment.
func (w *Writer) PrepareCommit(ctx context.Context) (Increment, error) {
	if err := w.Flush(ctx); err != nil {
		return Increment{}, err
	}
	inc := w.inc
	w.inc = Increment{}
	return inc, nil
}

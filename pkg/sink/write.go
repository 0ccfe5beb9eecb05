package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tablestream/pkg/bucket"
	"tablestream/pkg/codegen"
	"tablestream/pkg/fileio"
	"tablestream/pkg/manifest"
	"tablestream/pkg/mergetree"
	"tablestream/pkg/options"
	"tablestream/pkg/scan"
	"tablestream/pkg/snapshot"
	"tablestream/pkg/types"

	"github.com/RoaringBitmap/roaring"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

var (
	ErrBucketMismatch     = scan.ErrBucketMismatch
	ErrNonInsertRow       = errors.New("tablestream: table without primary key only accepts inserts")
	ErrFullCompactionNoPK = errors.New("tablestream: full-compaction changelog producer requires a primary key")
	ErrCommitConflict     = errors.New("tablestream: commit conflict")
)

// CommitMessage carries the increment of one bucket to the committer.
type CommitMessage struct {
	Bucket       int
	TotalBuckets int
	mergetree.Increment
}

type WriteContext struct {
	FIO       fileio.FileIO
	Schema    *types.TableSchema
	Options   options.Options
	Assigner  *bucket.Assigner
	Factory   codegen.Factory
	Snapshots snapshot.Directory
	Scan      *scan.FileStoreScan
}

// TableWrite routes rows to bucket writers. It is not safe for concurrent
// use; flushes and compactions of different buckets run in parallel.
type TableWrite struct {
	c        WriteContext
	keyProj  codegen.Projection
	keyArity int
	writers  map[int]*mergetree.Writer
	restored map[int][]manifest.DataFileMeta
	dirty    *roaring.Bitmap
	pool     *ants.Pool
}

func NewTableWrite(c WriteContext) (*TableWrite, error) {
	if c.Assigner.NumBuckets() != c.Options.Bucket {
		return nil, fmt.Errorf("%w: assigner has %d buckets, table has %d",
			ErrBucketMismatch, c.Assigner.NumBuckets(), c.Options.Bucket)
	}
	if c.Options.ChangelogProducer == options.ChangelogFullCompaction && !c.Schema.HasPrimaryKey() {
		return nil, ErrFullCompactionNoPK
	}
	if c.Factory == nil {
		c.Factory = codegen.NewFactory()
	}
	rowType := c.Schema.RowType()
	keyIndices := c.Schema.PrimaryKeyIndices()
	if !c.Schema.HasPrimaryKey() {
		keyIndices = make([]int, rowType.FieldCount())
		for i := range keyIndices {
			keyIndices[i] = i
		}
	}
	pool, err := ants.NewPool(c.Options.ManifestParallelism)
	if err != nil {
		return nil, fmt.Errorf("error in ants.NewPool: %w", err)
	}
	return &TableWrite{
		c:        c,
		keyProj:  c.Factory.NewProjection(rowType, keyIndices),
		keyArity: len(keyIndices),
		writers:  make(map[int]*mergetree.Writer),
		dirty:    roaring.NewBitmap(),
		pool:     pool,
	}, nil
}

// restore loads the live files of every bucket at the latest snapshot.
func (w *TableWrite) restore(ctx context.Context) error {
	if w.restored != nil {
		return nil
	}
	latest, ok, err := w.c.Snapshots.LatestSnapshotID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		w.restored = make(map[int][]manifest.DataFileMeta)
		return nil
	}
	snap, err := w.c.Snapshots.Snapshot(ctx, latest)
	if err != nil {
		return err
	}
	plan, err := w.c.Scan.Plan(ctx, snap, scan.ScanAll)
	if err != nil {
		return err
	}
	w.restored = plan.Files
	logrus.Debugf("Restored %d buckets from snapshot %d", len(plan.Files), latest)
	return nil
}

func (w *TableWrite) writer(ctx context.Context, b int) (*mergetree.Writer, error) {
	if wr, ok := w.writers[b]; ok {
		return wr, nil
	}
	if err := w.restore(ctx); err != nil {
		return nil, err
	}
	wr := mergetree.NewWriter(w.c.FIO, b, mergetree.WriterOptions{
		SchemaID:   w.c.Schema.ID,
		Keyed:      w.c.Schema.HasPrimaryKey(),
		KeyArity:   w.keyArity,
		Producer:   w.c.Options.ChangelogProducer,
		BufferRows: w.c.Options.WriteBufferRows,
	}, w.restored[b])
	w.writers[b] = wr
	return wr, nil
}

// Write buffers row in its bucket.
func (w *TableWrite) Write(ctx context.Context, row types.Row) error {
	if err := w.c.Schema.RowType().Validate(row); err != nil {
		return err
	}
	if !w.c.Schema.HasPrimaryKey() && row.Kind != types.RowKindInsert {
		return fmt.Errorf("%w: got %s", ErrNonInsertRow, row)
	}
	key := w.keyProj.Apply(row)
	var b int
	if w.c.Schema.HasPrimaryKey() {
		b = w.c.Assigner.BucketWithKey(row, key)
	} else {
		b = w.c.Assigner.Bucket(row)
	}
	wr, err := w.writer(ctx, b)
	if err != nil {
		return err
	}
	w.dirty.Add(uint32(b))
	return wr.Write(ctx, row, key)
}

func (w *TableWrite) Compact(ctx context.Context, b int, full bool) error {
	if b < 0 || b >= w.c.Options.Bucket {
		return fmt.Errorf("%w: bucket %d of %d", ErrBucketMismatch, b, w.c.Options.Bucket)
	}
	wr, err := w.writer(ctx, b)
	if err != nil {
		return err
	}
	w.dirty.Add(uint32(b))
	return wr.Compact(ctx, full)
}

// CompactAll compacts every bucket holding data.
func (w *TableWrite) CompactAll(ctx context.Context, full bool) error {
	if err := w.restore(ctx); err != nil {
		return err
	}
	for b := range w.restored {
		if _, err := w.writer(ctx, b); err != nil {
			return err
		}
	}
	buckets := make([]int, 0, len(w.writers))
	for b := range w.writers {
		buckets = append(buckets, b)
		w.dirty.Add(uint32(b))
	}
	return w.forEach(buckets, func(wr *mergetree.Writer) error {
		return wr.Compact(ctx, full)
	})
}

func (w *TableWrite) forEach(buckets []int, fn func(*mergetree.Writer) error) error {
	errs := make([]error, len(buckets))
	var wg sync.WaitGroup
	for i, b := range buckets {
		i, wr := i, w.writers[b]
		wg.Add(1)
		if err := w.pool.Submit(func() {
			defer wg.Done()
			errs[i] = fn(wr)
		}); err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// PrepareCommit flushes every touched bucket and collects the increments,
// ordered by bucket.
func (w *TableWrite) PrepareCommit(ctx context.Context) ([]CommitMessage, error) {
	buckets := make([]int, 0, w.dirty.GetCardinality())
	for _, b := range w.dirty.ToArray() {
		buckets = append(buckets, int(b))
	}
	sort.Ints(buckets)
	messages := make([]CommitMessage, len(buckets))
	err := w.forEach(buckets, func(wr *mergetree.Writer) error {
		inc, err := wr.PrepareCommit(ctx)
		if err != nil {
			return err
		}
		idx := sort.SearchInts(buckets, wr.Bucket())
		messages[idx] = CommitMessage{Bucket: wr.Bucket(), TotalBuckets: w.c.Options.Bucket, Increment: inc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.dirty.Clear()
	out := messages[:0]
	for _, m := range messages {
		if !m.IsEmpty() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (w *TableWrite) Close() {
	w.pool.Release()
}

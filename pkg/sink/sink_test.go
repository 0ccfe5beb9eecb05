package sink

import (
	"context"
	"testing"

	"tablestream/pkg/bucket"
	"tablestream/pkg/fileio"
	"tablestream/pkg/manifest"
	"tablestream/pkg/mergetree"
	"tablestream/pkg/options"
	"tablestream/pkg/scan"
	"tablestream/pkg/snapshot"
	"tablestream/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkEnv struct {
	ctx    context.Context
	fio    fileio.FileIO
	schema *types.TableSchema
	opts   options.Options
	store  *manifest.Store
	snaps  *snapshot.Manager
}

func newSinkEnv(t *testing.T, withPK bool, numBuckets int) *sinkEnv {
	fio, err := fileio.NewLocalFileIO(t.TempDir())
	require.NoError(t, err)
	opts := options.Default()
	opts.Bucket = numBuckets
	return &sinkEnv{
		ctx:    context.Background(),
		fio:    fio,
		schema: types.MockSchema(withPK, nil),
		opts:   opts,
		store:  manifest.NewStore(fio),
		snaps:  snapshot.NewManager(fio),
	}
}

func (e *sinkEnv) newScan() *scan.FileStoreScan {
	return scan.NewFileStoreScan(e.store, e.opts.Bucket, 2, nil)
}

func (e *sinkEnv) newWrite(t *testing.T) *TableWrite {
	assigner, err := bucket.NewAssigner(e.schema, e.opts.Bucket, nil)
	require.NoError(t, err)
	w, err := NewTableWrite(WriteContext{
		FIO:       e.fio,
		Schema:    e.schema,
		Options:   e.opts,
		Assigner:  assigner,
		Snapshots: e.snaps,
		Scan:      e.newScan(),
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func (e *sinkEnv) newCommit() *TableCommit {
	return NewTableCommit(CommitContext{
		Store:      e.store,
		Snapshots:  e.snaps,
		SchemaID:   e.schema.ID,
		NumBuckets: e.opts.Bucket,
		CommitUser: e.opts.CommitUser,
		Retained:   e.opts.SnapshotsRetained,
	})
}

func (e *sinkEnv) writeAndCommit(t *testing.T, w *TableWrite, c *TableCommit, id int64, rows ...types.Row) {
	for _, row := range rows {
		require.NoError(t, w.Write(e.ctx, row))
	}
	messages, err := w.PrepareCommit(e.ctx)
	require.NoError(t, err)
	require.NoError(t, c.Commit(e.ctx, id, messages))
}

func (e *sinkEnv) liveFiles(t *testing.T, id int64) map[int][]manifest.DataFileMeta {
	snap, err := e.snaps.Snapshot(e.ctx, id)
	require.NoError(t, err)
	plan, err := e.newScan().Plan(e.ctx, snap, scan.ScanAll)
	require.NoError(t, err)
	return plan.Files
}

func TestWriteAndCommit(t *testing.T) {
	e := newSinkEnv(t, true, 2)
	w, c := e.newWrite(t), e.newCommit()

	e.writeAndCommit(t, w, c, 0,
		types.InsertRow(int32(1), int32(10), int64(101)),
		types.InsertRow(int32(1), int32(20), int64(200)),
		types.InsertRow(int32(1), int32(30), int64(300)),
	)
	snap, err := e.snaps.Snapshot(e.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, snapshot.CommitAppend, snap.CommitKind)
	assert.Equal(t, int64(0), snap.CommitIdentifier)
	assert.Equal(t, int64(3), snap.TotalRecordCount)
	assert.Equal(t, "tablestream", snap.CommitUser)

	var rows int64
	for b, files := range e.liveFiles(t, 0) {
		assert.True(t, b >= 0 && b < 2)
		for _, f := range files {
			assert.Equal(t, 0, f.Level)
			rows += f.RowCount
		}
	}
	assert.Equal(t, int64(3), rows)

	// nothing written, nothing committed
	e.writeAndCommit(t, w, c, 1)
	latest, _, err := e.snaps.LatestSnapshotID(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)
}

func TestFullCompactionCommit(t *testing.T) {
	e := newSinkEnv(t, true, 1)
	e.opts.ChangelogProducer = options.ChangelogFullCompaction
	w, c := e.newWrite(t), e.newCommit()

	e.writeAndCommit(t, w, c, 0,
		types.InsertRow(int32(1), int32(10), int64(101)),
		types.InsertRow(int32(1), int32(20), int64(200)),
	)
	require.NoError(t, w.Write(e.ctx, types.InsertRow(int32(1), int32(10), int64(102))))
	require.NoError(t, w.Write(e.ctx, types.NewRow(types.RowKindDelete, int32(1), int32(20), int64(200))))
	require.NoError(t, w.CompactAll(e.ctx, true))
	e.writeAndCommit(t, w, c, 1)

	append1, err := e.snaps.Snapshot(e.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, snapshot.CommitAppend, append1.CommitKind)
	full, err := e.snaps.Snapshot(e.ctx, 2)
	require.NoError(t, err)
	assert.True(t, full.IsFullCompaction())
	assert.Equal(t, int64(1), full.CommitIdentifier)

	files := e.liveFiles(t, 2)[0]
	require.Len(t, files, 1)
	assert.Equal(t, mergetree.MaxLevel, files[0].Level)
	assert.Equal(t, int64(1), files[0].RowCount)

	// a second full compaction of a single top-level file is a no-op
	require.NoError(t, w.CompactAll(e.ctx, true))
	e.writeAndCommit(t, w, c, 2)
	latest, _, err := e.snaps.LatestSnapshotID(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)
}

func TestRestoreFromLatestSnapshot(t *testing.T) {
	e := newSinkEnv(t, true, 1)
	e.writeAndCommit(t, e.newWrite(t), e.newCommit(), 0,
		types.InsertRow(int32(1), int32(10), int64(101)))

	// a fresh writer picks up the committed files and keeps sequence order
	w := e.newWrite(t)
	e.writeAndCommit(t, w, e.newCommit(), 1,
		types.InsertRow(int32(1), int32(10), int64(102)))
	require.NoError(t, w.Compact(e.ctx, 0, true))
	e.writeAndCommit(t, w, e.newCommit(), 2)

	files := e.liveFiles(t, 2)[0]
	require.Len(t, files, 1)
	assert.Equal(t, int64(1), files[0].RowCount)
	assert.Equal(t, int64(1), files[0].MaxSequence)
}

func TestWriteRejects(t *testing.T) {
	e := newSinkEnv(t, false, 1)
	w := e.newWrite(t)
	err := w.Write(e.ctx, types.NewRow(types.RowKindDelete, int32(1), int32(1), int64(1)))
	assert.ErrorIs(t, err, ErrNonInsertRow)
	assert.ErrorIs(t, w.Write(e.ctx, types.InsertRow(int32(1))), types.ErrRowArity)
	assert.ErrorIs(t, w.Compact(e.ctx, 3, false), ErrBucketMismatch)

	e.opts.ChangelogProducer = options.ChangelogFullCompaction
	assigner, err := bucket.NewAssigner(e.schema, 1, nil)
	require.NoError(t, err)
	_, err = NewTableWrite(WriteContext{FIO: e.fio, Schema: e.schema, Options: e.opts, Assigner: assigner})
	assert.ErrorIs(t, err, ErrFullCompactionNoPK)

	e.opts.Bucket = 2
	_, err = NewTableWrite(WriteContext{FIO: e.fio, Schema: e.schema, Options: e.opts, Assigner: assigner})
	assert.ErrorIs(t, err, ErrBucketMismatch)
}

func TestCommitBucketMismatch(t *testing.T) {
	e := newSinkEnv(t, true, 2)
	err := e.newCommit().Commit(e.ctx, 0, []CommitMessage{{Bucket: 0, TotalBuckets: 3}})
	assert.ErrorIs(t, err, ErrBucketMismatch)
}

func TestCommitExpiresSnapshots(t *testing.T) {
	e := newSinkEnv(t, false, 1)
	e.opts.SnapshotsRetained = 2
	w, c := e.newWrite(t), e.newCommit()
	for i := 0; i < 4; i++ {
		e.writeAndCommit(t, w, c, int64(i), types.InsertRow(int32(i), int32(i), nil))
	}
	earliest, ok, err := e.snaps.EarliestSnapshotID(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), earliest)

	var rows int64
	for _, f := range e.liveFiles(t, 3)[0] {
		rows += f.RowCount
	}
	assert.Equal(t, int64(4), rows)
}

func TestBaseManifestsAreMerged(t *testing.T) {
	e := newSinkEnv(t, false, 1)
	w, c := e.newWrite(t), e.newCommit()
	for i := 0; i <= manifestMergeThreshold+1; i++ {
		e.writeAndCommit(t, w, c, int64(i), types.InsertRow(int32(i), int32(i), nil))
	}
	latest, _, err := e.snaps.LatestSnapshotID(e.ctx)
	require.NoError(t, err)
	snap, err := e.snaps.Snapshot(e.ctx, latest)
	require.NoError(t, err)
	base, err := e.store.ReadManifestList(e.ctx, snap.BaseManifestList)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(base), manifestMergeThreshold)
	assert.Len(t, e.liveFiles(t, latest)[0], manifestMergeThreshold+2)
}

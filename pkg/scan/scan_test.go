package scan

import (
	"context"
	"testing"

	"tablestream/pkg/common"
	"tablestream/pkg/fileio"
	"tablestream/pkg/format"
	"tablestream/pkg/manifest"
	"tablestream/pkg/predicate"
	"tablestream/pkg/snapshot"
	"tablestream/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBuckets = 2

type testEnv struct {
	t     *testing.T
	ctx   context.Context
	store *manifest.Store
	dir   *snapshot.MemoryDirectory
	all   []manifest.ManifestFileMeta
	seq   int64
}

func newTestEnv(t *testing.T) *testEnv {
	fio, err := fileio.NewLocalFileIO(t.TempDir())
	require.NoError(t, err)
	return &testEnv{t: t, ctx: context.Background(), store: manifest.NewStore(fio), dir: snapshot.NewMemoryDirectory()}
}

// file makes a file holding keys lo..hi of a single int key.
func (e *testEnv) file(name string, level int, lo, hi int32) manifest.DataFileMeta {
	e.seq++
	return manifest.DataFileMeta{
		FileName: name,
		RowCount: int64(hi - lo + 1),
		KeyStats: format.KeyStats{
			Min:        types.EncodeRow(types.InsertRow(lo)),
			Max:        types.EncodeRow(types.InsertRow(hi)),
			NullCounts: []int64{0},
		},
		MinSequence: e.seq,
		MaxSequence: e.seq,
		Level:       level,
	}
}

func add(bucket int, f manifest.DataFileMeta) manifest.ManifestEntry {
	return manifest.ManifestEntry{Kind: manifest.FileKindAdd, Bucket: bucket, TotalBuckets: testBuckets, File: f}
}

func del(bucket int, f manifest.ManifestEntry) manifest.ManifestEntry {
	f.Kind = manifest.FileKindDelete
	f.Bucket = bucket
	return f
}

func (e *testEnv) commit(kind snapshot.CommitKind, delta []manifest.ManifestEntry, changelog ...manifest.ManifestEntry) *snapshot.Snapshot {
	base, err := e.store.WriteManifestList(e.ctx, e.all)
	require.NoError(e.t, err)
	meta, err := e.store.WriteManifest(e.ctx, delta)
	require.NoError(e.t, err)
	deltaList, err := e.store.WriteManifestList(e.ctx, []manifest.ManifestFileMeta{meta})
	require.NoError(e.t, err)
	e.all = append(e.all, meta)
	s := &snapshot.Snapshot{BaseManifestList: base, DeltaManifestList: deltaList, CommitKind: kind}
	if len(changelog) > 0 {
		clMeta, err := e.store.WriteManifest(e.ctx, changelog)
		require.NoError(e.t, err)
		s.ChangelogManifestList, err = e.store.WriteManifestList(e.ctx, []manifest.ManifestFileMeta{clMeta})
		require.NoError(e.t, err)
	}
	return e.dir.Append(s)
}

func (e *testEnv) fileScan() *FileStoreScan {
	return NewFileStoreScan(e.store, testBuckets, 2, []int{0})
}

func fileNames(split *DataSplit) []string {
	var names []string
	for _, f := range split.Files {
		names = append(names, f.FileName)
	}
	return names
}

func TestNotReadyWithoutSnapshot(t *testing.T) {
	e := newTestEnv(t)
	for _, starting := range []StartingScanner{
		NewFullStartingScanner(e.dir, e.fileScan()),
		NewCompactedFullStartingScanner(e.dir, e.fileScan()),
		NewLatestStartingScanner(e.dir),
		NewFromTimestampStartingScanner(e.dir, 100),
	} {
		scan := NewStreamScan(e.dir, starting, NewDeltaFollowUpScanner(e.fileScan()), nil)
		plan, ok, err := scan.Plan(e.ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, plan)
		_, started := scan.Checkpoint()
		assert.False(t, started)
	}
}

func TestDeltaFollowUp(t *testing.T) {
	e := newTestEnv(t)
	a := add(0, e.file("a", 0, 1, 5))
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{a, add(1, e.file("b", 0, 6, 9))})

	scan := NewStreamScan(e.dir, NewLatestStartingScanner(e.dir), NewDeltaFollowUpScanner(e.fileScan()), nil)
	plan, ok, err := scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	// latest startup never replays what was there at subscription time
	assert.Equal(t, int64(0), plan.SnapshotID)
	assert.Empty(t, plan.Splits)

	e.commit(snapshot.CommitCompact, []manifest.ManifestEntry{del(0, a), add(0, e.file("c", 1, 1, 5))})
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(0, e.file("d", 0, 2, 2))})

	plan, ok, err = scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), plan.SnapshotID)
	require.Len(t, plan.Splits, 1)
	assert.Equal(t, SplitDelta, plan.Splits[0].Kind)
	assert.Equal(t, []string{"d"}, fileNames(plan.Splits[0]))
	assert.Equal(t, int64(1), plan.RowCount())

	plan, ok, err = scan.Plan(e.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, plan)
	last, _ := scan.Checkpoint()
	assert.Equal(t, int64(2), last)
}

func TestFullStartingAndChangelog(t *testing.T) {
	e := newTestEnv(t)
	a := add(0, e.file("a", 0, 1, 5))
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{a, add(1, e.file("b", 0, 6, 9))},
		add(0, e.file("cl-a", 0, 1, 5)))
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(1, e.file("c", 0, 7, 7))},
		add(1, e.file("cl-c", 0, 7, 7)))

	scan := NewStreamScan(e.dir, NewFullStartingScanner(e.dir, e.fileScan()), NewInputChangelogFollowUpScanner(e.fileScan()), nil)
	plan, ok, err := scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), plan.SnapshotID)
	require.Len(t, plan.Splits, 2)
	assert.Equal(t, SplitFull, plan.Splits[0].Kind)
	assert.Equal(t, []string{"a"}, fileNames(plan.Splits[0]))
	assert.Equal(t, []string{"b", "c"}, fileNames(plan.Splits[1]))

	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(0, e.file("d", 0, 3, 3))},
		add(0, e.file("cl-d", 0, 3, 3)))
	plan, ok, err = scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, plan.Splits, 1)
	assert.Equal(t, SplitChangelog, plan.Splits[0].Kind)
	assert.Equal(t, []string{"cl-d"}, fileNames(plan.Splits[0]))
}

func TestFullCompactionFollowUp(t *testing.T) {
	e := newTestEnv(t)
	newScan := func() *StreamScan {
		return NewStreamScan(e.dir, NewCompactedFullStartingScanner(e.dir, e.fileScan()),
			NewFullCompactionFollowUpScanner(e.dir, e.fileScan()), nil)
	}
	a := add(0, e.file("a", 0, 1, 3))
	x := add(1, e.file("x", 4, 8, 8))
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{a, x})
	b := add(0, e.file("b", 0, 2, 2))
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{b})

	scan := newScan()
	plan, ok, err := scan.Plan(e.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, plan)

	c := add(0, e.file("c", 4, 1, 3))
	e.commit(snapshot.CommitFullCompact, []manifest.ManifestEntry{del(0, a), del(0, b), c})
	d := add(0, e.file("d", 0, 5, 5))
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{d})

	plan, ok, err = scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	// the compacted state, reported as of the latest snapshot
	assert.Equal(t, int64(3), plan.SnapshotID)
	require.Len(t, plan.Splits, 2)
	assert.Equal(t, []string{"c"}, fileNames(plan.Splits[0]))
	assert.Equal(t, []string{"x"}, fileNames(plan.Splits[1]))

	f := add(0, e.file("f", 0, 6, 6))
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{f})
	plan, ok, err = scan.Plan(e.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, plan)
	checkpoint, _ := scan.Checkpoint()
	assert.Equal(t, int64(4), checkpoint)

	e.commit(snapshot.CommitFullCompact, []manifest.ManifestEntry{
		del(0, c), del(0, d), del(0, f), add(0, e.file("e", 4, 1, 6))})

	resumed := newScan().WithCheckpoint(checkpoint)
	for _, s := range []*StreamScan{scan, resumed} {
		plan, ok, err = s.Plan(e.ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(5), plan.SnapshotID)
		// bucket 1 did not change and is left out
		require.Len(t, plan.Splits, 1)
		split := plan.Splits[0]
		assert.Equal(t, SplitDiff, split.Kind)
		assert.Equal(t, 0, split.Bucket)
		assert.Equal(t, []string{"e"}, fileNames(split))
		require.Len(t, split.BeforeFiles, 1)
		assert.Equal(t, "c", split.BeforeFiles[0].FileName)
	}
}

func TestFirstFullCompactionDiffsAgainstEmpty(t *testing.T) {
	e := newTestEnv(t)
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(0, e.file("a", 0, 1, 3))})
	scan := NewStreamScan(e.dir, NewLatestStartingScanner(e.dir), NewFullCompactionFollowUpScanner(e.dir, e.fileScan()), nil)
	_, ok, err := scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)

	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(1, e.file("b", 0, 4, 4))})
	_, ok, err = scan.Plan(e.ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	e.commit(snapshot.CommitFullCompact, nil)
	plan, ok, err := scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), plan.SnapshotID)
	require.Len(t, plan.Splits, 2)
	for _, split := range plan.Splits {
		assert.Equal(t, SplitDiff, split.Kind)
		assert.Empty(t, split.BeforeFiles)
		assert.Len(t, split.Files, 1)
	}
}

func TestSnapshotGapJump(t *testing.T) {
	e := newTestEnv(t)
	for i := int32(0); i < 5; i++ {
		e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(0, e.file(string(rune('a'+i)), 0, i, i))})
	}
	scan := NewStreamScan(e.dir, nil, NewDeltaFollowUpScanner(e.fileScan()), nil).WithCheckpoint(0)
	e.dir.Expire(3)

	plan, ok, err := scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), plan.SnapshotID)
	assert.Equal(t, []string{"d"}, fileNames(plan.Splits[0]))
}

func TestBoundedScan(t *testing.T) {
	e := newTestEnv(t)
	for i := int32(0); i < 3; i++ {
		e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(0, e.file(string(rune('a'+i)), 0, i, i))})
	}
	scan := NewStreamScan(e.dir, NewFromSnapshotStartingScanner(e.dir, 1), NewDeltaFollowUpScanner(e.fileScan()), nil).
		WithBoundedEnd(1)
	plan, ok, err := scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), plan.SnapshotID)

	plan, ok, err = scan.Plan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), plan.SnapshotID)

	_, _, err = scan.Plan(e.ctx)
	assert.ErrorIs(t, err, ErrEndOfScan)

	batch := NewBatchScan(e.dir, e.fileScan())
	plan, err = batch.Plan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), plan.SnapshotID)
	assert.Equal(t, []string{"a", "b", "c"}, fileNames(plan.Splits[0]))
	_, err = batch.Plan(e.ctx)
	assert.ErrorIs(t, err, ErrEndOfScan)
}

func TestStartingPositions(t *testing.T) {
	e := newTestEnv(t)
	for i := int64(0); i < 4; i++ {
		s := e.commit(snapshot.CommitAppend, nil)
		s.TimeMillis = 100 * (i + 1)
	}
	res, ok, err := NewFromTimestampStartingScanner(e.dir, 250).Scan(e.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), res.SnapshotID)
	assert.Empty(t, res.Plan.Splits)

	res, _, err = NewFromTimestampStartingScanner(e.dir, 50).Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), res.SnapshotID)

	res, _, err = NewFromSnapshotStartingScanner(e.dir, 2).Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.SnapshotID)

	e.dir.Expire(2)
	_, _, err = NewFromSnapshotStartingScanner(e.dir, 1).Scan(e.ctx)
	assert.ErrorIs(t, err, ErrSnapshotExpired)
}

func TestFileStoreScan(t *testing.T) {
	e := newTestEnv(t)
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{
		add(0, e.file("low", 0, 1, 5)),
		add(1, e.file("high", 0, 10, 20)),
	})
	snap, err := e.dir.Snapshot(e.ctx, 0)
	require.NoError(t, err)

	keyFilter := predicate.NewBuilder(types.NewRowType(types.NewField(0, "k", types.NewDataType(types.Int)))).
		GreaterThan(0, int32(7))
	plan, err := e.fileScan().WithFilter(keyFilter).Plan(e.ctx, snap, ScanDelta)
	require.NoError(t, err)
	assert.Len(t, plan.Files, 1)
	assert.Len(t, plan.Files[1], 1)

	// full state is never pruned by key
	plan, err = e.fileScan().WithFilter(keyFilter).Plan(e.ctx, snap, ScanAll)
	require.NoError(t, err)
	assert.Len(t, plan.Files, 2)

	plan, err = e.fileScan().WithBuckets(0).Plan(e.ctx, snap, ScanAll)
	require.NoError(t, err)
	assert.Len(t, plan.Files, 1)
	assert.Len(t, plan.Files[0], 1)

	_, err = NewFileStoreScan(e.store, 3, 1, nil).Plan(e.ctx, snap, ScanAll)
	assert.ErrorIs(t, err, ErrBucketMismatch)
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(0, e.file("a", 0, 1, 1))})
	e.commit(snapshot.CommitCompact, nil)
	e.commit(snapshot.CommitAppend, []manifest.ManifestEntry{add(1, e.file("b", 0, 2, 2))})

	scan := NewStreamScan(e.dir, NewFullStartingScanner(e.dir, e.fileScan()), NewDeltaFollowUpScanner(e.fileScan()), m).
		WithCheckpoint(-1)
	for i := 0; i < 2; i++ {
		_, ok, err := scan.Plan(e.ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Plans.WithLabelValues("follow-up")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SnapshotsSkipped))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SplitsPlanned.WithLabelValues("delta")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RowsPlanned))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LastConsumed))
}

func TestPlanPPString(t *testing.T) {
	plan := &DataFilePlan{SnapshotID: 3, Splits: []*DataSplit{
		{SnapshotID: 3, Bucket: 1, Kind: SplitDelta, Files: []manifest.DataFileMeta{{FileName: "a", RowCount: 2}}},
	}}
	assert.Equal(t, "\tp:PLAN[snapshot=3, splits=1, rows=2]", plan.PPString(common.PPL0, 1, "p:"))
	assert.Equal(t, "PLAN[snapshot=3, splits=1, rows=2]\n\tdelta bucket 1, 1 files", plan.PPString(common.PPL1, 0, ""))
	assert.Contains(t, plan.PPString(common.PPL2, 0, ""), "DataSplit(3, bucket 1, delta, [a])")
}

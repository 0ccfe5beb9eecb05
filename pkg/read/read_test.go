package read

import (
	"context"
	"testing"

	"tablestream/pkg/fileio"
	"tablestream/pkg/manifest"
	"tablestream/pkg/mergetree"
	"tablestream/pkg/options"
	"tablestream/pkg/predicate"
	"tablestream/pkg/reader"
	"tablestream/pkg/scan"
	"tablestream/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readEnv struct {
	ctx    context.Context
	fio    fileio.FileIO
	schema *types.TableSchema
	// two commits of bucket 0: rows, then an update of 10 and a delete of 20
	first, second mergetree.Increment
}

func newReadEnv(t *testing.T) *readEnv {
	ctx := context.Background()
	fio, err := fileio.NewLocalFileIO(t.TempDir())
	require.NoError(t, err)
	schema := types.MockSchema(true, nil)
	w := mergetree.NewWriter(fio, 0, mergetree.WriterOptions{
		Keyed:      true,
		KeyArity:   2,
		Producer:   options.ChangelogInput,
		BufferRows: 100,
	}, nil)
	write := func(row types.Row) {
		require.NoError(t, w.Write(ctx, row, row.Project(schema.PrimaryKeyIndices())))
	}
	e := &readEnv{ctx: ctx, fio: fio, schema: schema}
	write(types.InsertRow(int32(1), int32(10), int64(101)))
	write(types.InsertRow(int32(1), int32(20), int64(200)))
	e.first, err = w.PrepareCommit(ctx)
	require.NoError(t, err)
	write(types.InsertRow(int32(1), int32(10), int64(102)))
	write(types.NewRow(types.RowKindDelete, int32(1), int32(20), int64(200)))
	e.second, err = w.PrepareCommit(ctx)
	require.NoError(t, err)
	return e
}

func (e *readEnv) read(t *testing.T, r *TableRead, kind scan.SplitKind, files, before []manifest.DataFileMeta) []string {
	rows, err := r.CreateReader(e.ctx, &scan.DataSplit{Kind: kind, Files: files, BeforeFiles: before})
	require.NoError(t, err)
	out, err := reader.Collect(rows)
	require.NoError(t, err)
	strs := make([]string, len(out))
	for i, row := range out {
		strs[i] = row.String()
	}
	return strs
}

func TestCreateReader(t *testing.T) {
	e := newReadEnv(t)
	r := NewTableRead(e.fio, e.schema, nil)
	all := append(append([]manifest.DataFileMeta(nil), e.first.NewFiles...), e.second.NewFiles...)

	assert.Equal(t, []string{"+I 1|10|102"}, e.read(t, r, scan.SplitFull, all, nil))
	assert.Equal(t, []string{"+I 1|10|102", "-D 1|20|200"},
		e.read(t, r, scan.SplitDelta, e.second.NewFiles, nil))
	assert.Equal(t, []string{"+I 1|10|102", "-D 1|20|200"},
		e.read(t, r, scan.SplitChangelog, e.second.ChangelogFiles, nil))
	assert.Equal(t, []string{"-U 1|10|101", "+U 1|10|102", "-D 1|20|200"},
		e.read(t, r, scan.SplitDiff, all, e.first.NewFiles))
	assert.Equal(t, []string{"+I 1|10|101", "+I 1|20|200"},
		e.read(t, r, scan.SplitDiff, e.first.NewFiles, nil))
}

func TestCreateReaderProjectionAndFilter(t *testing.T) {
	e := newReadEnv(t)
	all := append(append([]manifest.DataFileMeta(nil), e.first.NewFiles...), e.second.NewFiles...)

	projected := NewTableRead(e.fio, e.schema, nil).WithProjection([]int{2, 1})
	assert.Equal(t, []string{"-U 101|10", "+U 102|10", "-D 200|20"},
		e.read(t, projected, scan.SplitDiff, all, e.first.NewFiles))

	b := predicate.NewBuilder(e.schema.RowType())
	filtered := NewTableRead(e.fio, e.schema, nil).
		WithFilter(b.GreaterThan(2, int64(101))).
		WithProjection([]int{1})
	assert.Equal(t, []string{"+I 20"}, e.read(t, filtered, scan.SplitFull, e.first.NewFiles, nil))
}

func TestSplitRecords(t *testing.T) {
	e := newReadEnv(t)
	plan := &scan.DataFilePlan{SnapshotID: 1, Splits: []*scan.DataSplit{
		{SnapshotID: 1, Bucket: 0, Kind: scan.SplitDelta, Files: e.first.NewFiles},
		{SnapshotID: 1, Bucket: 0, Kind: scan.SplitDelta, Files: e.second.NewFiles},
	}}
	recs := NewSplitRecords(e.ctx, NewTableRead(e.fio, e.schema, nil).WithBatchSize(1), plan)

	_, _, err := recs.NextRecordFromSplit()
	assert.ErrorIs(t, err, ErrNoActiveSplit)

	var rows []string
	var ids []string
	for id, ok := recs.NextSplit(); ok; id, ok = recs.NextSplit() {
		ids = append(ids, id)
		for {
			row, ok, err := recs.NextRecordFromSplit()
			require.NoError(t, err)
			if !ok {
				break
			}
			rows = append(rows, row.String())
		}
	}
	require.NoError(t, recs.Err())
	assert.Equal(t, []string{"+I 1|10|101", "+I 1|20|200", "+I 1|10|102", "-D 1|20|200"}, rows)
	assert.Equal(t, ids, recs.FinishedSplits())
	assert.NoError(t, recs.Recycle())

	_, _, err = recs.NextRecordFromSplit()
	assert.ErrorIs(t, err, ErrNoActiveSplit)
}

func TestSplitRecordsRecycleEarly(t *testing.T) {
	e := newReadEnv(t)
	plan := &scan.DataFilePlan{Splits: []*scan.DataSplit{
		{Kind: scan.SplitDelta, Files: e.first.NewFiles},
		{Kind: scan.SplitDelta, Files: e.second.NewFiles},
	}}
	recs := NewSplitRecords(e.ctx, NewTableRead(e.fio, e.schema, nil), plan)
	_, ok := recs.NextSplit()
	require.True(t, ok)
	_, ok, err := recs.NextRecordFromSplit()
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, recs.Recycle())
	assert.NoError(t, recs.Recycle())
	assert.Empty(t, recs.FinishedSplits())
	_, ok = recs.NextSplit()
	assert.False(t, ok)
}

func TestCreatePlanReader(t *testing.T) {
	e := newReadEnv(t)
	plan := &scan.DataFilePlan{Splits: []*scan.DataSplit{
		{Kind: scan.SplitChangelog, Files: e.first.ChangelogFiles},
		{Kind: scan.SplitChangelog, Files: e.second.ChangelogFiles},
	}}
	rows, err := reader.Collect(NewTableRead(e.fio, e.schema, nil).CreatePlanReader(e.ctx, plan))
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, types.RowKindDelete, rows[3].Kind)
}

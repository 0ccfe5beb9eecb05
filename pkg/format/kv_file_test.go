package format

import (
	"context"
	"testing"

	"tablestream/pkg/fileio"
	"tablestream/pkg/reader"
	"tablestream/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockKV(seq int64, kind types.RowKind, pt, k int32, v any) types.KeyValue {
	return types.KeyValue{
		Key:      types.InsertRow(pt, k),
		Sequence: seq,
		Kind:     kind,
		Value:    types.InsertRow(pt, k, v),
	}
}

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	fio, err := fileio.NewLocalFileIO(t.TempDir())
	require.NoError(t, err)

	var records []types.KeyValue
	for i := 0; i < 10; i++ {
		records = append(records, mockKV(int64(100+i), types.RowKindInsert, 1, int32(i), int64(i*10)))
	}
	records = append(records, mockKV(7, types.RowKindDelete, 2, 3, nil))

	info, err := WriteFile(ctx, fio, "bucket-0/data-1.parquet", 2, records)
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.RowCount)
	assert.Equal(t, int64(7), info.MinSequence)
	assert.Equal(t, int64(109), info.MaxSequence)
	assert.True(t, info.FileSize > 0)

	minKey, err := types.DecodeRow(info.MinKey)
	require.NoError(t, err)
	assert.Equal(t, "+I 1|0", minKey.String())
	maxKey, err := types.DecodeRow(info.MaxKey)
	require.NoError(t, err)
	assert.Equal(t, "+I 2|3", maxKey.String())

	lo, hi, err := info.KeyStats.Decode()
	require.NoError(t, err)
	assert.Equal(t, "+I 1|0", lo.String())
	assert.Equal(t, "+I 2|9", hi.String())
	assert.Equal(t, []int64{0, 0}, info.KeyStats.NullCounts)

	r, err := NewReader(ctx, fio, "bucket-0/data-1.parquet", 4)
	require.NoError(t, err)
	batches := 0
	var got []types.KeyValue
	for {
		it, err := r.ReadBatch()
		require.NoError(t, err)
		if it == nil {
			break
		}
		batches++
		for {
			kv, ok, err := it.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, kv)
		}
		it.ReleaseBatch()
	}
	require.NoError(t, r.Close())
	assert.GreaterOrEqual(t, batches, 3)
	require.Len(t, got, len(records))
	for i := range records {
		assert.Equal(t, records[i].String(), got[i].String())
		assert.Equal(t, records[i].Kind, got[i].Kind)
	}
}

func TestWriteNoOverwrite(t *testing.T) {
	ctx := context.Background()
	fio, err := fileio.NewLocalFileIO(t.TempDir())
	require.NoError(t, err)
	_, err = WriteFile(ctx, fio, "f.parquet", 2, nil)
	require.NoError(t, err)
	_, err = WriteFile(ctx, fio, "f.parquet", 2, nil)
	assert.ErrorIs(t, err, fileio.ErrExist)

	r, err := NewReader(ctx, fio, "f.parquet", 0)
	require.NoError(t, err)
	out, err := reader.Collect(r)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = NewReader(ctx, fio, "missing.parquet", 0)
	assert.ErrorIs(t, err, fileio.ErrNotExist)
}

func TestKeyStatsNulls(t *testing.T) {
	c := newStatsCollector(2)
	c.collect(types.InsertRow(nil, int32(3)))
	c.collect(types.InsertRow(nil, int32(1)))
	lo, hi, err := c.result().Decode()
	require.NoError(t, err)
	assert.Equal(t, "+I NULL|1", lo.String())
	assert.Equal(t, "+I NULL|3", hi.String())
	assert.Equal(t, []int64{2, 0}, c.result().NullCounts)
}

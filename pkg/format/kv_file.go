package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"tablestream/pkg/fileio"
	"tablestream/pkg/reader"
	"tablestream/pkg/types"

	"github.com/parquet-go/parquet-go"
)

const DefaultBatchSize = 256

// kvRecord is the parquet row of a key-value data file. Key and value are
// encoded rows, kind is the row kind of the record.
type kvRecord struct {
	Key      []byte `parquet:"key"`
	Sequence int64  `parquet:"seq"`
	Kind     int32  `parquet:"kind"`
	Value    []byte `parquet:"value"`
}

// FileInfo describes a written data file.
type FileInfo struct {
	FileSize    int64
	RowCount    int64
	MinKey      []byte
	MaxKey      []byte
	KeyStats    KeyStats
	MinSequence int64
	MaxSequence int64
}

// WriteFile stores records in order at path. keyArity is the number of key
// fields, used to size the key statistics.
func WriteFile(ctx context.Context, fio fileio.FileIO, path string, keyArity int, records []types.KeyValue) (*FileInfo, error) {
	info := &FileInfo{RowCount: int64(len(records))}
	stats := newStatsCollector(keyArity)
	rows := make([]kvRecord, len(records))
	var minKey, maxKey types.Row
	for i, kv := range records {
		rows[i] = kvRecord{
			Key:      types.EncodeRow(kv.Key.WithKind(types.RowKindInsert)),
			Sequence: kv.Sequence,
			Kind:     int32(kv.Kind),
			Value:    types.EncodeRow(kv.Value.WithKind(types.RowKindInsert)),
		}
		stats.collect(kv.Key)
		if i == 0 || types.CompareRows(kv.Key, minKey) < 0 {
			minKey = kv.Key
		}
		if i == 0 || types.CompareRows(kv.Key, maxKey) > 0 {
			maxKey = kv.Key
		}
		if i == 0 || kv.Sequence < info.MinSequence {
			info.MinSequence = kv.Sequence
		}
		if i == 0 || kv.Sequence > info.MaxSequence {
			info.MaxSequence = kv.Sequence
		}
	}
	if len(records) > 0 {
		info.MinKey = types.EncodeRow(minKey.WithKind(types.RowKindInsert))
		info.MaxKey = types.EncodeRow(maxKey.WithKind(types.RowKindInsert))
	}
	info.KeyStats = stats.result()

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[kvRecord](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("error writing parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("error closing parquet writer: %w", err)
	}
	info.FileSize = int64(buf.Len())
	if err := fio.WriteFile(ctx, path, buf.Bytes(), false); err != nil {
		return nil, err
	}
	return info, nil
}

type kvReader struct {
	file      *parquet.GenericReader[kvRecord]
	batchSize int
	rowPool   *sync.Pool
	kvPool    *sync.Pool
	eof       bool
}

// NewReader opens the data file at path for batch reading.
func NewReader(ctx context.Context, fio fileio.FileIO, path string, batchSize int) (reader.RecordReader[types.KeyValue], error) {
	data, err := fio.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)),
		parquet.SkipBloomFilters(true),
		parquet.SkipPageIndex(true),
	)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &kvReader{
		file:      parquet.NewGenericReader[kvRecord](pf),
		batchSize: batchSize,
		rowPool: &sync.Pool{New: func() any {
			buf := make([]kvRecord, batchSize)
			return &buf
		}},
		kvPool: &sync.Pool{New: func() any {
			buf := make([]types.KeyValue, 0, batchSize)
			return &buf
		}},
	}, nil
}

func (r *kvReader) ReadBatch() (reader.RecordIterator[types.KeyValue], error) {
	if r.eof {
		return nil, nil
	}
	rowBuf := r.rowPool.Get().(*[]kvRecord)
	defer r.rowPool.Put(rowBuf)
	rows := *rowBuf
	for i := range rows {
		rows[i] = kvRecord{}
	}
	n, err := r.file.Read(rows)
	if errors.Is(err, io.EOF) {
		r.eof = true
	} else if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if n == 0 {
		r.eof = true
		return nil, nil
	}
	kvBuf := r.kvPool.Get().(*[]types.KeyValue)
	kvs := (*kvBuf)[:0]
	for i := 0; i < n; i++ {
		kv, err := decodeRecord(rows[i])
		if err != nil {
			r.kvPool.Put(kvBuf)
			return nil, err
		}
		kvs = append(kvs, kv)
	}
	*kvBuf = kvs
	return reader.NewSliceIterator(kvs, func() {
		for i := range kvs {
			kvs[i] = types.KeyValue{}
		}
		*kvBuf = kvs[:0]
		r.kvPool.Put(kvBuf)
	}), nil
}

func (r *kvReader) Close() error {
	r.eof = true
	return r.file.Close()
}

func decodeRecord(rec kvRecord) (types.KeyValue, error) {
	kind, err := types.RowKindFromByte(byte(rec.Kind))
	if err != nil {
		return types.KeyValue{}, err
	}
	key, err := types.DecodeRow(rec.Key)
	if err != nil {
		return types.KeyValue{}, err
	}
	value, err := types.DecodeRow(rec.Value)
	if err != nil {
		return types.KeyValue{}, err
	}
	return types.KeyValue{Key: key, Sequence: rec.Sequence, Kind: kind, Value: value}, nil
}

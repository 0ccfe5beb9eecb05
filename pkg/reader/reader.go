package reader

import "io"

// RecordIterator walks the records of one batch. Next reports false once the
// batch is drained. ReleaseBatch hands the batch buffers back to the reader;
// records must not be used afterwards.
type RecordIterator[T any] interface {
	Next() (T, bool, error)
	ReleaseBatch()
}

// RecordReader produces batches. ReadBatch returns a nil iterator once the
// input is exhausted.
type RecordReader[T any] interface {
	io.Closer
	ReadBatch() (RecordIterator[T], error)
}

// Supplier opens a reader on demand.
type Supplier[T any] func() (RecordReader[T], error)

type sliceIterator[T any] struct {
	records []T
	pos     int
	release func()
}

// NewSliceIterator iterates records; release, if set, runs once on
// ReleaseBatch.
func NewSliceIterator[T any](records []T, release func()) RecordIterator[T] {
	return &sliceIterator[T]{records: records, release: release}
}

func (it *sliceIterator[T]) Next() (T, bool, error) {
	var zero T
	if it.pos >= len(it.records) {
		return zero, false, nil
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, true, nil
}

func (it *sliceIterator[T]) ReleaseBatch() {
	if it.release != nil {
		it.release()
		it.release = nil
	}
	it.records = nil
}

type sliceReader[T any] struct {
	records []T
	done    bool
}

// FromSlice is a reader with a single batch.
func FromSlice[T any](records ...T) RecordReader[T] {
	return &sliceReader[T]{records: records}
}

func (r *sliceReader[T]) ReadBatch() (RecordIterator[T], error) {
	if r.done {
		return nil, nil
	}
	r.done = true
	return NewSliceIterator(r.records, nil), nil
}

func (r *sliceReader[T]) Close() error {
	r.done = true
	r.records = nil
	return nil
}

// Empty reads nothing.
func Empty[T any]() RecordReader[T] {
	return &sliceReader[T]{done: true}
}

// Collect drains r into a slice and closes it.
func Collect[T any](r RecordReader[T]) (records []T, err error) {
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		it, err := r.ReadBatch()
		if err != nil {
			return nil, err
		}
		if it == nil {
			return records, nil
		}
		for {
			rec, ok, err := it.Next()
			if err != nil {
				it.ReleaseBatch()
				return nil, err
			}
			if !ok {
				break
			}
			records = append(records, rec)
		}
		it.ReleaseBatch()
	}
}

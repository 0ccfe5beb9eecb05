package reader

// Iterator flattens a RecordReader into a record at a time view:
//
//	for it.Next() {
//		use(it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
//	it.Close()
//
// The batch holding Value is released on the following Next or on Close.
type Iterator[T any] struct {
	reader RecordReader[T]
	batch  RecordIterator[T]
	value  T
	err    error
	closed bool
}

func NewIterator[T any](r RecordReader[T]) *Iterator[T] {
	return &Iterator[T]{reader: r}
}

func (it *Iterator[T]) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	for {
		if it.batch == nil {
			it.batch, it.err = it.reader.ReadBatch()
			if it.err != nil || it.batch == nil {
				return false
			}
		}
		rec, ok, err := it.batch.Next()
		if err != nil {
			it.err = err
			return false
		}
		if ok {
			it.value = rec
			return true
		}
		it.batch.ReleaseBatch()
		it.batch = nil
	}
}

func (it *Iterator[T]) Value() T { return it.value }

func (it *Iterator[T]) Err() error { return it.err }

// Close may be called any number of times.
func (it *Iterator[T]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.batch != nil {
		it.batch.ReleaseBatch()
		it.batch = nil
	}
	return it.reader.Close()
}

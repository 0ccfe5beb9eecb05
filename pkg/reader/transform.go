package reader

type filterReader[T any] struct {
	inner RecordReader[T]
	pred  func(T) bool
}

// Filter drops the records pred rejects.
func Filter[T any](inner RecordReader[T], pred func(T) bool) RecordReader[T] {
	return &filterReader[T]{inner: inner, pred: pred}
}

func (r *filterReader[T]) ReadBatch() (RecordIterator[T], error) {
	it, err := r.inner.ReadBatch()
	if it == nil || err != nil {
		return nil, err
	}
	return &filterIterator[T]{inner: it, pred: r.pred}, nil
}

func (r *filterReader[T]) Close() error { return r.inner.Close() }

type filterIterator[T any] struct {
	inner RecordIterator[T]
	pred  func(T) bool
}

func (it *filterIterator[T]) Next() (T, bool, error) {
	for {
		rec, ok, err := it.inner.Next()
		if !ok || err != nil {
			return rec, ok, err
		}
		if it.pred(rec) {
			return rec, true, nil
		}
	}
}

func (it *filterIterator[T]) ReleaseBatch() { it.inner.ReleaseBatch() }

type mapReader[T, U any] struct {
	inner RecordReader[T]
	fn    func(T) U
}

// Map converts every record with fn.
func Map[T, U any](inner RecordReader[T], fn func(T) U) RecordReader[U] {
	return &mapReader[T, U]{inner: inner, fn: fn}
}

func (r *mapReader[T, U]) ReadBatch() (RecordIterator[U], error) {
	it, err := r.inner.ReadBatch()
	if it == nil || err != nil {
		return nil, err
	}
	return &mapIterator[T, U]{inner: it, fn: r.fn}, nil
}

func (r *mapReader[T, U]) Close() error { return r.inner.Close() }

type mapIterator[T, U any] struct {
	inner RecordIterator[T]
	fn    func(T) U
}

func (it *mapIterator[T, U]) Next() (U, bool, error) {
	rec, ok, err := it.inner.Next()
	if !ok || err != nil {
		var zero U
		return zero, ok, err
	}
	return it.fn(rec), true, nil
}

func (it *mapIterator[T, U]) ReleaseBatch() { it.inner.ReleaseBatch() }

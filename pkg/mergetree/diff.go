package mergetree

import (
	"tablestream/pkg/reader"
	"tablestream/pkg/types"
)

// DiffReader compares two merged, key sorted states of a bucket and emits
// the changelog turning before into after:
//
//	key only in after       +I after
//	key only in before      -D before
//	value changed           -U before, +U after
//	value unchanged         nothing
type DiffReader struct {
	before, after *reader.Iterator[types.KeyValue]
	b, a          *types.KeyValue
	primed        bool
	err           error
}

func NewDiffReader(before, after reader.RecordReader[types.KeyValue]) *DiffReader {
	return &DiffReader{before: reader.NewIterator(before), after: reader.NewIterator(after)}
}

func pull(it *reader.Iterator[types.KeyValue]) (*types.KeyValue, error) {
	if it.Next() {
		kv := it.Value()
		return &kv, nil
	}
	return nil, it.Err()
}

func (r *DiffReader) fill(out []types.Row) ([]types.Row, error) {
	var err error
	if !r.primed {
		r.primed = true
		if r.b, err = pull(r.before); err != nil {
			return out, err
		}
		if r.a, err = pull(r.after); err != nil {
			return out, err
		}
	}
	for len(out) < mergeBatchSize && (r.b != nil || r.a != nil) {
		c := 0
		switch {
		case r.b == nil:
			c = 1
		case r.a == nil:
			c = -1
		default:
			c = types.CompareRows(r.b.Key, r.a.Key)
		}
		switch {
		case c < 0:
			out = append(out, r.b.Value.WithKind(types.RowKindDelete))
			if r.b, err = pull(r.before); err != nil {
				return out, err
			}
		case c > 0:
			out = append(out, r.a.Value.WithKind(types.RowKindInsert))
			if r.a, err = pull(r.after); err != nil {
				return out, err
			}
		default:
			if !r.b.Value.ValuesEqual(r.a.Value) {
				out = append(out,
					r.b.Value.WithKind(types.RowKindUpdateBefore),
					r.a.Value.WithKind(types.RowKindUpdateAfter))
			}
			if r.b, err = pull(r.before); err != nil {
				return out, err
			}
			if r.a, err = pull(r.after); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (r *DiffReader) ReadBatch() (reader.RecordIterator[types.Row], error) {
	if r.err != nil {
		return nil, r.err
	}
	out, err := r.fill(make([]types.Row, 0, mergeBatchSize+1))
	if err != nil {
		r.err = err
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return reader.NewSliceIterator(out, nil), nil
}

func (r *DiffReader) Close() error {
	errBefore := r.before.Close()
	errAfter := r.after.Close()
	if errBefore != nil {
		return errBefore
	}
	return errAfter
}

package mergetree

import (
	"tablestream/pkg/reader"
	"tablestream/pkg/types"

	"github.com/google/btree"
)

const mergeBatchSize = 256

// heapItem orders the head records of the merged sources: by key, then by
// sequence with the newest first. The source index makes items unique.
type heapItem struct {
	kv     types.KeyValue
	source int
}

func (i *heapItem) Less(than btree.Item) bool {
	o := than.(*heapItem)
	if c := types.CompareRows(i.kv.Key, o.kv.Key); c != 0 {
		return c < 0
	}
	if i.kv.Sequence != o.kv.Sequence {
		return i.kv.Sequence > o.kv.Sequence
	}
	return i.source < o.source
}

// SortMergeReader merges key sorted sources and emits, per key, the record
// with the highest sequence number.
type SortMergeReader struct {
	sources     []*reader.Iterator[types.KeyValue]
	heap        *btree.BTree
	dropRetract bool
	started     bool
	err         error
}

// NewSortMergeReader takes ownership of sources. With dropRetract set, keys
// whose latest record is a retraction are left out.
func NewSortMergeReader(sources []reader.RecordReader[types.KeyValue], dropRetract bool) *SortMergeReader {
	r := &SortMergeReader{
		sources:     make([]*reader.Iterator[types.KeyValue], len(sources)),
		heap:        btree.New(btreeDegree),
		dropRetract: dropRetract,
	}
	for i, src := range sources {
		r.sources[i] = reader.NewIterator(src)
	}
	return r
}

func (r *SortMergeReader) advance(source int) error {
	it := r.sources[source]
	if it.Next() {
		r.heap.ReplaceOrInsert(&heapItem{kv: it.Value(), source: source})
		return nil
	}
	return it.Err()
}

func (r *SortMergeReader) next() (types.KeyValue, bool, error) {
	if !r.started {
		r.started = true
		for i := range r.sources {
			if err := r.advance(i); err != nil {
				return types.KeyValue{}, false, err
			}
		}
	}
	for r.heap.Len() > 0 {
		winner := r.heap.DeleteMin().(*heapItem)
		if err := r.advance(winner.source); err != nil {
			return types.KeyValue{}, false, err
		}
		for r.heap.Len() > 0 {
			head := r.heap.Min().(*heapItem)
			if types.CompareRows(head.kv.Key, winner.kv.Key) != 0 {
				break
			}
			r.heap.DeleteMin()
			if err := r.advance(head.source); err != nil {
				return types.KeyValue{}, false, err
			}
		}
		if r.dropRetract && winner.kv.Kind.IsRetract() {
			continue
		}
		return winner.kv, true, nil
	}
	return types.KeyValue{}, false, nil
}

func (r *SortMergeReader) ReadBatch() (reader.RecordIterator[types.KeyValue], error) {
	if r.err != nil {
		return nil, r.err
	}
	batch := make([]types.KeyValue, 0, mergeBatchSize)
	for len(batch) < mergeBatchSize {
		kv, ok, err := r.next()
		if err != nil {
			r.err = err
			return nil, err
		}
		if !ok {
			break
		}
		batch = append(batch, kv)
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return reader.NewSliceIterator(batch, nil), nil
}

func (r *SortMergeReader) Close() error {
	var firstErr error
	for _, it := range r.sources {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.heap = btree.New(btreeDegree)
	return firstErr
}

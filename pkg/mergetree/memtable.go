package mergetree

import (
	"tablestream/pkg/types"

	"github.com/google/btree"
)

const btreeDegree = 16

type kvItem struct {
	kv types.KeyValue
}

func (i *kvItem) Less(than btree.Item) bool {
	return types.CompareRows(i.kv.Key, than.(*kvItem).kv.Key) < 0
}

// Memtable buffers the records of a bucket between flushes. Keyed tables
// keep only the latest record per key; unkeyed tables keep every record in
// arrival order. The raw input is retained on demand for changelog files.
type Memtable struct {
	keyed     bool
	keepInput bool
	tree      *btree.BTree
	appends   []types.KeyValue
	input     []types.KeyValue
}

func NewMemtable(keyed, keepInput bool) *Memtable {
	m := &Memtable{keyed: keyed, keepInput: keepInput}
	if keyed {
		m.tree = btree.New(btreeDegree)
	}
	return m
}

func (m *Memtable) Put(kv types.KeyValue) {
	if m.keepInput {
		m.input = append(m.input, kv)
	}
	if !m.keyed {
		m.appends = append(m.appends, kv)
		return
	}
	m.tree.ReplaceOrInsert(&kvItem{kv: kv})
}

// Len is the number of records a flush would write.
func (m *Memtable) Len() int {
	if m.keyed {
		return m.tree.Len()
	}
	return len(m.appends)
}

func (m *Memtable) InputLen() int { return len(m.input) }

func (m *Memtable) IsEmpty() bool { return m.Len() == 0 && len(m.input) == 0 }

// Drain returns the buffered records, sorted by key for keyed tables, plus
// the raw input, and resets the memtable.
func (m *Memtable) Drain() (records []types.KeyValue, input []types.KeyValue) {
	if m.keyed {
		records = make([]types.KeyValue, 0, m.tree.Len())
		m.tree.Ascend(func(item btree.Item) bool {
			records = append(records, item.(*kvItem).kv)
			return true
		})
		m.tree = btree.New(btreeDegree)
	} else {
		records = m.appends
		m.appends = nil
	}
	input = m.input
	m.input = nil
	return
}

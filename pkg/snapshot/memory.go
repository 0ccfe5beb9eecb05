package snapshot

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	sync.RWMutex
	snapshots map[int64]*Snapshot
	earliest  int64
	next      int64
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{snapshots: make(map[int64]*Snapshot)}
}

// Append assigns the next id to s and stores it.
func (d *MemoryDirectory) Append(s *Snapshot) *Snapshot {
	d.Lock()
	defer d.Unlock()
	s.ID = d.next
	d.snapshots[s.ID] = s
	d.next++
	return s
}

func (d *MemoryDirectory) LatestSnapshotID(_ context.Context) (int64, bool, error) {
	d.RLock()
	defer d.RUnlock()
	if d.next == d.earliest {
		return 0, false, nil
	}
	return d.next - 1, true, nil
}

func (d *MemoryDirectory) EarliestSnapshotID(_ context.Context) (int64, bool, error) {
	d.RLock()
	defer d.RUnlock()
	if d.next == d.earliest {
		return 0, false, nil
	}
	return d.earliest, true, nil
}

func (d *MemoryDirectory) Snapshot(_ context.Context, id int64) (*Snapshot, error) {
	d.RLock()
	defer d.RUnlock()
	s, ok := d.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}
	return s, nil
}

func (d *MemoryDirectory) SnapshotExists(_ context.Context, id int64) (bool, error) {
	d.RLock()
	defer d.RUnlock()
	_, ok := d.snapshots[id]
	return ok, nil
}

// Expire drops every snapshot below retainFrom but never the latest one.
func (d *MemoryDirectory) Expire(retainFrom int64) {
	d.Lock()
	defer d.Unlock()
	if retainFrom > d.next-1 {
		retainFrom = d.next - 1
	}
	for id := d.earliest; id < retainFrom; id++ {
		delete(d.snapshots, id)
	}
	if retainFrom > d.earliest {
		d.earliest = retainFrom
	}
}

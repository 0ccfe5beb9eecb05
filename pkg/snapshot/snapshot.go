package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrSnapshotNotFound = errors.New("tablestream: snapshot not found")
	ErrSnapshotExists   = errors.New("tablestream: snapshot already exists")
)

type CommitKind string

const (
	CommitAppend CommitKind = "APPEND"
	// CommitCompact rewrites files without changing the table content.
	CommitCompact CommitKind = "COMPACT"
	// CommitFullCompact leaves exactly one deduplicated file set per bucket.
	CommitFullCompact CommitKind = "FULL_COMPACT"
)

// Snapshot is the immutable record of one commit. The table state at a
// snapshot is base + delta; changelog files are carried separately.
type Snapshot struct {
	ID                    int64      `json:"id"`
	SchemaID              int64      `json:"schemaId"`
	BaseManifestList      string     `json:"baseManifestList"`
	DeltaManifestList     string     `json:"deltaManifestList"`
	ChangelogManifestList string     `json:"changelogManifestList,omitempty"`
	CommitUser            string     `json:"commitUser"`
	CommitIdentifier      int64      `json:"commitIdentifier"`
	CommitKind            CommitKind `json:"commitKind"`
	TimeMillis            int64      `json:"timeMillis"`
	TotalRecordCount      int64      `json:"totalRecordCount"`
	DeltaRecordCount      int64      `json:"deltaRecordCount"`
	ChangelogRecordCount  int64      `json:"changelogRecordCount"`
	// LastFullCompaction is the newest full compaction committed before this
	// snapshot, nil if there was none.
	LastFullCompaction *FullCompactionRef `json:"lastFullCompaction,omitempty"`
}

// FullCompactionRef keeps the table state of a full-compaction snapshot
// readable after its metadata has been expired. Manifests outlive the
// snapshots that reference them.
type FullCompactionRef struct {
	ID                int64  `json:"id"`
	BaseManifestList  string `json:"baseManifestList"`
	DeltaManifestList string `json:"deltaManifestList"`
}

// Snapshot rebuilds enough of the referenced snapshot to plan its files.
func (r *FullCompactionRef) Snapshot() *Snapshot {
	return &Snapshot{
		ID:                r.ID,
		BaseManifestList:  r.BaseManifestList,
		DeltaManifestList: r.DeltaManifestList,
		CommitKind:        CommitFullCompact,
	}
}

// CarriedFullCompaction is the LastFullCompaction of the snapshot committed
// right after s.
func (s *Snapshot) CarriedFullCompaction() *FullCompactionRef {
	if s.IsFullCompaction() {
		return &FullCompactionRef{
			ID:                s.ID,
			BaseManifestList:  s.BaseManifestList,
			DeltaManifestList: s.DeltaManifestList,
		}
	}
	return s.LastFullCompaction
}

func (s *Snapshot) IsFullCompaction() bool {
	return s.CommitKind == CommitFullCompact
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("Snapshot(%d, %s, user=%s, identifier=%d, t=%d)",
		s.ID, s.CommitKind, s.CommitUser, s.CommitIdentifier, s.TimeMillis)
}

func (s *Snapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func Unmarshal(data []byte) (*Snapshot, error) {
	s := new(Snapshot)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("error unmarshalling snapshot: %w", err)
	}
	return s, nil
}

// Directory is the ordered, append-only sequence of snapshots of a table.
// Ids increase by one per commit; a prefix may have been expired, so the
// earliest id is not always 0.
type Directory interface {
	// LatestSnapshotID reports false when no snapshot exists yet.
	LatestSnapshotID(ctx context.Context) (int64, bool, error)
	EarliestSnapshotID(ctx context.Context) (int64, bool, error)
	// Snapshot fails with ErrSnapshotNotFound for unknown ids.
	Snapshot(ctx context.Context, id int64) (*Snapshot, error)
	SnapshotExists(ctx context.Context, id int64) (bool, error)
}

// EarlierOrEqualTimeMillis returns the id of the latest snapshot committed at
// or before ts. It reports false when every retained snapshot is newer.
func EarlierOrEqualTimeMillis(ctx context.Context, dir Directory, ts int64) (int64, bool, error) {
	earliest, ok, err := dir.EarliestSnapshotID(ctx)
	if !ok || err != nil {
		return 0, false, err
	}
	latest, ok, err := dir.LatestSnapshotID(ctx)
	if !ok || err != nil {
		return 0, false, err
	}
	for id := latest; id >= earliest; id-- {
		s, err := dir.Snapshot(ctx, id)
		if errors.Is(err, ErrSnapshotNotFound) {
			continue
		} else if err != nil {
			return 0, false, err
		}
		if s.TimeMillis <= ts {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// PreviousFullCompaction finds the newest full-compaction snapshot with an id
// below before.
func PreviousFullCompaction(ctx context.Context, dir Directory, before int64) (*Snapshot, bool, error) {
	earliest, ok, err := dir.EarliestSnapshotID(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	for id := before - 1; id >= earliest; id-- {
		s, err := dir.Snapshot(ctx, id)
		if errors.Is(err, ErrSnapshotNotFound) {
			continue
		} else if err != nil {
			return nil, false, err
		}
		if s.IsFullCompaction() {
			return s, true, nil
		}
	}
	return nil, false, nil
}

package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablestream/pkg/manifest"
	"tablestream/pkg/snapshot"

	"github.com/sirupsen/logrus"
)

// Base manifests are rewritten into a single one once a snapshot would
// reference more than this many.
const manifestMergeThreshold = 16

type CommitContext struct {
	Store      *manifest.Store
	Snapshots  *snapshot.Manager
	SchemaID   int64
	NumBuckets int
	CommitUser string
	// Retained > 0 expires older snapshot metadata after each commit.
	Retained int
}

// TableCommit turns commit messages into snapshots. One call publishes at
// most an APPEND snapshot for new data followed by a COMPACT or
// FULL_COMPACT snapshot for rewritten files.
type TableCommit struct {
	c CommitContext
}

func NewTableCommit(c CommitContext) *TableCommit {
	return &TableCommit{c: c}
}

func (tc *TableCommit) Commit(ctx context.Context, identifier int64, messages []CommitMessage) error {
	var (
		appendEntries    []manifest.ManifestEntry
		changelogEntries []manifest.ManifestEntry
		compactEntries   []manifest.ManifestEntry
		full             bool
	)
	for _, m := range messages {
		if m.TotalBuckets != tc.c.NumBuckets {
			return fmt.Errorf("%w: message for bucket %d was written with %d buckets, table has %d",
				ErrBucketMismatch, m.Bucket, m.TotalBuckets, tc.c.NumBuckets)
		}
		entry := func(kind manifest.FileKind, f manifest.DataFileMeta) manifest.ManifestEntry {
			return manifest.ManifestEntry{Kind: kind, Bucket: m.Bucket, TotalBuckets: m.TotalBuckets, File: f}
		}
		for _, f := range m.NewFiles {
			appendEntries = append(appendEntries, entry(manifest.FileKindAdd, f))
		}
		for _, f := range m.ChangelogFiles {
			changelogEntries = append(changelogEntries, entry(manifest.FileKindAdd, f))
		}
		for _, f := range m.CompactBefore {
			compactEntries = append(compactEntries, entry(manifest.FileKindDelete, f))
		}
		for _, f := range m.CompactAfter {
			compactEntries = append(compactEntries, entry(manifest.FileKindAdd, f))
		}
		full = full || m.FullCompaction
	}
	if len(appendEntries) > 0 || len(changelogEntries) > 0 {
		if err := tc.commitSnapshot(ctx, identifier, snapshot.CommitAppend, appendEntries, changelogEntries); err != nil {
			return err
		}
	}
	if len(compactEntries) > 0 || full {
		kind := snapshot.CommitCompact
		if full {
			kind = snapshot.CommitFullCompact
		}
		if err := tc.commitSnapshot(ctx, identifier, kind, compactEntries, nil); err != nil {
			return err
		}
	}
	return tc.expire(ctx)
}

func (tc *TableCommit) commitSnapshot(ctx context.Context, identifier int64, kind snapshot.CommitKind,
	delta, changelog []manifest.ManifestEntry) error {
	latest, ok, err := tc.c.Snapshots.LatestSnapshotID(ctx)
	if err != nil {
		return err
	}
	var (
		newID  int64
		base   []manifest.ManifestFileMeta
		total  int64
		lastFC *snapshot.FullCompactionRef
	)
	if ok {
		prev, err := tc.c.Snapshots.Snapshot(ctx, latest)
		if err != nil {
			return err
		}
		for _, list := range []string{prev.BaseManifestList, prev.DeltaManifestList} {
			metas, err := tc.c.Store.ReadManifestList(ctx, list)
			if err != nil {
				return err
			}
			base = append(base, metas...)
		}
		newID = latest + 1
		total = prev.TotalRecordCount
		lastFC = prev.CarriedFullCompaction()
	}
	if base, err = tc.mergeBase(ctx, base); err != nil {
		return err
	}
	baseList, err := tc.c.Store.WriteManifestList(ctx, base)
	if err != nil {
		return err
	}
	deltaList, err := tc.writeEntries(ctx, delta)
	if err != nil {
		return err
	}
	snap := &snapshot.Snapshot{
		ID:                 newID,
		SchemaID:           tc.c.SchemaID,
		BaseManifestList:   baseList,
		DeltaManifestList:  deltaList,
		CommitUser:         tc.c.CommitUser,
		CommitIdentifier:   identifier,
		CommitKind:         kind,
		TimeMillis:         time.Now().UnixMilli(),
		DeltaRecordCount:   recordCount(delta),
		LastFullCompaction: lastFC,
	}
	snap.TotalRecordCount = total + snap.DeltaRecordCount
	if len(changelog) > 0 {
		if snap.ChangelogManifestList, err = tc.writeEntries(ctx, changelog); err != nil {
			return err
		}
		snap.ChangelogRecordCount = recordCount(changelog)
	}
	if err = tc.c.Snapshots.Commit(ctx, snap); err != nil {
		if errors.Is(err, snapshot.ErrSnapshotExists) {
			return fmt.Errorf("%w: %v", ErrCommitConflict, err)
		}
		return err
	}
	return nil
}

// writeEntries writes a manifest holding entries and a list pointing to it.
func (tc *TableCommit) writeEntries(ctx context.Context, entries []manifest.ManifestEntry) (string, error) {
	var metas []manifest.ManifestFileMeta
	if len(entries) > 0 {
		meta, err := tc.c.Store.WriteManifest(ctx, entries)
		if err != nil {
			return "", err
		}
		metas = append(metas, meta)
	}
	return tc.c.Store.WriteManifestList(ctx, metas)
}

func (tc *TableCommit) mergeBase(ctx context.Context, base []manifest.ManifestFileMeta) ([]manifest.ManifestFileMeta, error) {
	if len(base) <= manifestMergeThreshold {
		return base, nil
	}
	var entries []manifest.ManifestEntry
	for _, meta := range base {
		es, err := tc.c.Store.ReadManifest(ctx, meta.FileName)
		if err != nil {
			return nil, err
		}
		entries = append(entries, es...)
	}
	merged, err := tc.c.Store.WriteManifest(ctx, manifest.MergeEntries(entries))
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Merged %d base manifests into %s", len(base), merged.FileName)
	return []manifest.ManifestFileMeta{merged}, nil
}

func (tc *TableCommit) expire(ctx context.Context) error {
	if tc.c.Retained <= 0 {
		return nil
	}
	latest, ok, err := tc.c.Snapshots.LatestSnapshotID(ctx)
	if !ok || err != nil {
		return err
	}
	retainFrom := latest - int64(tc.c.Retained) + 1
	if retainFrom <= 0 {
		return nil
	}
	_, err = tc.c.Snapshots.Expire(ctx, retainFrom)
	return err
}

func recordCount(entries []manifest.ManifestEntry) int64 {
	var n int64
	for _, e := range entries {
		if e.Kind == manifest.FileKindAdd {
			n += e.File.RowCount
		} else {
			n -= e.File.RowCount
		}
	}
	return n
}

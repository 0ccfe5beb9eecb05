package scan

import (
	"context"
	"fmt"

	"tablestream/pkg/manifest"
	"tablestream/pkg/snapshot"
)

// FollowUpScanner turns one snapshot into a plan. Snapshots it does not
// want are consumed without a plan.
type FollowUpScanner interface {
	ShouldScan(s *snapshot.Snapshot) bool
	Scan(ctx context.Context, s *snapshot.Snapshot) (*DataFilePlan, error)
}

// DeltaFollowUpScanner reads the files appended by each APPEND snapshot.
// Compactions carry no new data and are skipped.
type DeltaFollowUpScanner struct {
	scan *FileStoreScan
}

func NewDeltaFollowUpScanner(scan *FileStoreScan) *DeltaFollowUpScanner {
	return &DeltaFollowUpScanner{scan: scan}
}

func (f *DeltaFollowUpScanner) ShouldScan(s *snapshot.Snapshot) bool {
	return s.CommitKind == snapshot.CommitAppend
}

func (f *DeltaFollowUpScanner) Scan(ctx context.Context, s *snapshot.Snapshot) (*DataFilePlan, error) {
	files, err := f.scan.Plan(ctx, s, ScanDelta)
	if err != nil {
		return nil, err
	}
	return &DataFilePlan{SnapshotID: s.ID, Splits: GenerateSplits(s.ID, SplitDelta, files.Files)}, nil
}

// InputChangelogFollowUpScanner reads the changelog files the writer
// attached to each APPEND snapshot.
type InputChangelogFollowUpScanner struct {
	scan *FileStoreScan
}

func NewInputChangelogFollowUpScanner(scan *FileStoreScan) *InputChangelogFollowUpScanner {
	return &InputChangelogFollowUpScanner{scan: scan}
}

func (f *InputChangelogFollowUpScanner) ShouldScan(s *snapshot.Snapshot) bool {
	return s.CommitKind == snapshot.CommitAppend
}

func (f *InputChangelogFollowUpScanner) Scan(ctx context.Context, s *snapshot.Snapshot) (*DataFilePlan, error) {
	files, err := f.scan.Plan(ctx, s, ScanChangelog)
	if err != nil {
		return nil, err
	}
	return &DataFilePlan{SnapshotID: s.ID, Splits: GenerateSplits(s.ID, SplitChangelog, files.Files)}, nil
}

// FullCompactionFollowUpScanner only stops at full compactions and diffs
// each bucket against the previous full compaction.
type FullCompactionFollowUpScanner struct {
	dir  snapshot.Directory
	scan *FileStoreScan
}

func NewFullCompactionFollowUpScanner(dir snapshot.Directory, scan *FileStoreScan) *FullCompactionFollowUpScanner {
	return &FullCompactionFollowUpScanner{dir: dir, scan: scan}
}

func (f *FullCompactionFollowUpScanner) ShouldScan(s *snapshot.Snapshot) bool {
	return s.IsFullCompaction()
}

func (f *FullCompactionFollowUpScanner) Scan(ctx context.Context, s *snapshot.Snapshot) (*DataFilePlan, error) {
	after, err := f.scan.Plan(ctx, s, ScanAll)
	if err != nil {
		return nil, err
	}
	before := map[int][]manifest.DataFileMeta{}
	prev, ok, err := f.previous(ctx, s)
	if err != nil {
		return nil, err
	}
	if ok {
		prevFiles, err := f.scan.Plan(ctx, prev, ScanAll)
		if err != nil {
			return nil, fmt.Errorf("error reading full compaction %d before snapshot %d: %w", prev.ID, s.ID, err)
		}
		before = prevFiles.Files
	}
	changed := make(map[int][]manifest.DataFileMeta)
	for b, files := range after.Files {
		if !sameFiles(before[b], files) {
			changed[b] = files
		}
	}
	for b := range before {
		if _, ok := after.Files[b]; !ok {
			changed[b] = nil
		}
	}
	splits := make([]*DataSplit, 0, len(changed))
	for _, b := range sortedBuckets(changed) {
		splits = append(splits, &DataSplit{
			SnapshotID:  s.ID,
			Bucket:      b,
			Kind:        SplitDiff,
			Files:       changed[b],
			BeforeFiles: before[b],
		})
	}
	return &DataFilePlan{SnapshotID: s.ID, Splits: splits}, nil
}

// previous prefers the reference carried by s, which survives expiration.
// Snapshots committed without one fall back to a directory lookup.
func (f *FullCompactionFollowUpScanner) previous(ctx context.Context, s *snapshot.Snapshot) (*snapshot.Snapshot, bool, error) {
	if s.LastFullCompaction != nil {
		return s.LastFullCompaction.Snapshot(), true, nil
	}
	return snapshot.PreviousFullCompaction(ctx, f.dir, s.ID)
}

func sameFiles(a, b []manifest.DataFileMeta) bool {
	if len(a) != len(b) {
		return false
	}
	names := make(map[string]bool, len(a))
	for _, f := range a {
		names[f.FileName] = true
	}
	for _, f := range b {
		if !names[f.FileName] {
			return false
		}
	}
	return true
}

package scan

import (
	"context"
	"fmt"

	"tablestream/pkg/snapshot"

	"github.com/sirupsen/logrus"
)

// StartingResult positions a stream scan: SnapshotID counts as consumed
// and Plan is handed out as the first plan.
type StartingResult struct {
	SnapshotID int64
	Plan       *DataFilePlan
}

// StartingScanner picks where a stream scan begins. It reports false while
// the table has nothing to start from yet.
type StartingScanner interface {
	Scan(ctx context.Context) (*StartingResult, bool, error)
}

func emptyStart(id int64) *StartingResult {
	return &StartingResult{SnapshotID: id, Plan: &DataFilePlan{SnapshotID: id}}
}

// FullStartingScanner reads the complete table state at the latest snapshot
// and continues after it.
type FullStartingScanner struct {
	dir  snapshot.Directory
	scan *FileStoreScan
}

func NewFullStartingScanner(dir snapshot.Directory, scan *FileStoreScan) *FullStartingScanner {
	return &FullStartingScanner{dir: dir, scan: scan}
}

func (s *FullStartingScanner) Scan(ctx context.Context) (*StartingResult, bool, error) {
	latest, ok, err := s.dir.LatestSnapshotID(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	snap, err := s.dir.Snapshot(ctx, latest)
	if err != nil {
		return nil, false, err
	}
	files, err := s.scan.Plan(ctx, snap, ScanAll)
	if err != nil {
		return nil, false, err
	}
	logrus.Infof("Starting from the full state of snapshot %d", latest)
	return &StartingResult{
		SnapshotID: latest,
		Plan:       &DataFilePlan{SnapshotID: latest, Splits: GenerateSplits(latest, SplitFull, files.Files)},
	}, true, nil
}

// CompactedFullStartingScanner reads the state of the latest full
// compaction and continues after the latest snapshot. Later changes will be
// seen through the next full compaction.
type CompactedFullStartingScanner struct {
	dir  snapshot.Directory
	scan *FileStoreScan
}

func NewCompactedFullStartingScanner(dir snapshot.Directory, scan *FileStoreScan) *CompactedFullStartingScanner {
	return &CompactedFullStartingScanner{dir: dir, scan: scan}
}

func (s *CompactedFullStartingScanner) Scan(ctx context.Context) (*StartingResult, bool, error) {
	latest, ok, err := s.dir.LatestSnapshotID(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	compacted, ok, err := snapshot.PreviousFullCompaction(ctx, s.dir, latest+1)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		logrus.Debugf("No full compaction up to snapshot %d yet", latest)
		return nil, false, nil
	}
	files, err := s.scan.Plan(ctx, compacted, ScanAll)
	if err != nil {
		return nil, false, err
	}
	logrus.Infof("Starting from full compaction %d, latest snapshot %d", compacted.ID, latest)
	return &StartingResult{
		SnapshotID: latest,
		Plan:       &DataFilePlan{SnapshotID: latest, Splits: GenerateSplits(latest, SplitFull, files.Files)},
	}, true, nil
}

// LatestStartingScanner skips everything committed before the scan started.
type LatestStartingScanner struct {
	dir snapshot.Directory
}

func NewLatestStartingScanner(dir snapshot.Directory) *LatestStartingScanner {
	return &LatestStartingScanner{dir: dir}
}

func (s *LatestStartingScanner) Scan(ctx context.Context) (*StartingResult, bool, error) {
	latest, ok, err := s.dir.LatestSnapshotID(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	logrus.Infof("Starting after the latest snapshot %d", latest)
	return emptyStart(latest), true, nil
}

// FromTimestampStartingScanner reads the changes committed after a point
// in time.
type FromTimestampStartingScanner struct {
	dir             snapshot.Directory
	timestampMillis int64
}

func NewFromTimestampStartingScanner(dir snapshot.Directory, timestampMillis int64) *FromTimestampStartingScanner {
	return &FromTimestampStartingScanner{dir: dir, timestampMillis: timestampMillis}
}

func (s *FromTimestampStartingScanner) Scan(ctx context.Context) (*StartingResult, bool, error) {
	earliest, ok, err := s.dir.EarliestSnapshotID(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	id, ok, err := snapshot.EarlierOrEqualTimeMillis(ctx, s.dir, s.timestampMillis)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		id = earliest - 1
	}
	logrus.Infof("Starting after snapshot %d for timestamp %d", id, s.timestampMillis)
	return emptyStart(id), true, nil
}

// FromSnapshotStartingScanner reads the changes starting with a given
// snapshot, which must not have expired.
type FromSnapshotStartingScanner struct {
	dir        snapshot.Directory
	snapshotID int64
}

func NewFromSnapshotStartingScanner(dir snapshot.Directory, snapshotID int64) *FromSnapshotStartingScanner {
	return &FromSnapshotStartingScanner{dir: dir, snapshotID: snapshotID}
}

func (s *FromSnapshotStartingScanner) Scan(ctx context.Context) (*StartingResult, bool, error) {
	earliest, ok, err := s.dir.EarliestSnapshotID(ctx)
	if err != nil {
		return nil, false, err
	}
	if ok && s.snapshotID < earliest {
		return nil, false, fmt.Errorf("%w: snapshot %d, earliest is %d", ErrSnapshotExpired, s.snapshotID, earliest)
	}
	logrus.Infof("Starting from snapshot %d", s.snapshotID)
	return emptyStart(s.snapshotID - 1), true, nil
}

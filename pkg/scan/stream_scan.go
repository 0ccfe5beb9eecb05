package scan

import (
	"context"
	"fmt"

	"tablestream/pkg/common"
	"tablestream/pkg/snapshot"

	"github.com/sirupsen/logrus"
)

// StreamScan plans the table snapshot by snapshot. Its only state is the id
// of the last consumed snapshot; a fresh scan restored with WithCheckpoint
// plans exactly what the original would have planned next.
//
// A StreamScan is not safe for concurrent use.
type StreamScan struct {
	dir        snapshot.Directory
	starting   StartingScanner
	followUp   FollowUpScanner
	metrics    *Metrics
	last       int64
	started    bool
	boundedEnd int64
	bounded    bool
}

func NewStreamScan(dir snapshot.Directory, starting StartingScanner, followUp FollowUpScanner, metrics *Metrics) *StreamScan {
	return &StreamScan{
		dir:      dir,
		starting: starting,
		followUp: followUp,
		metrics:  metrics,
	}
}

// WithCheckpoint resumes after the snapshot id a previous scan reported.
// The starting scanner is not consulted any more.
func (s *StreamScan) WithCheckpoint(lastConsumed int64) *StreamScan {
	s.last = lastConsumed
	s.started = true
	return s
}

// WithBoundedEnd makes the scan finish with ErrEndOfScan once the snapshot
// endID has been consumed.
func (s *StreamScan) WithBoundedEnd(endID int64) *StreamScan {
	s.boundedEnd = endID
	s.bounded = true
	return s
}

// Checkpoint returns the last consumed snapshot id, false before the first
// plan.
func (s *StreamScan) Checkpoint() (int64, bool) {
	return s.last, s.started
}

// Plan returns the next plan. (nil, false, nil) means nothing new has been
// committed yet and the caller should poll again later. A bounded scan
// returns ErrEndOfScan once it is past its end.
func (s *StreamScan) Plan(ctx context.Context) (*DataFilePlan, bool, error) {
	if !s.started {
		result, ok, err := s.starting.Scan(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("error in starting scan: %w", err)
		}
		if !ok {
			logrus.Debug("No snapshot to start from yet")
			return nil, false, nil
		}
		s.last = result.SnapshotID
		s.started = true
		s.metrics.observePlan("starting", result.Plan)
		return result.Plan, true, nil
	}

	for {
		if s.bounded && s.last >= s.boundedEnd {
			return nil, false, ErrEndOfScan
		}
		next := s.last + 1
		exists, err := s.dir.SnapshotExists(ctx, next)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			earliest, ok, err := s.dir.EarliestSnapshotID(ctx)
			if err != nil {
				return nil, false, err
			}
			if ok && next < earliest {
				logrus.Warnf("Snapshot %d has expired, jumping to the earliest snapshot %d", next, earliest)
				s.last = earliest - 1
				continue
			}
			logrus.Debugf("Next snapshot %d does not exist yet", next)
			return nil, false, nil
		}
		snap, err := s.dir.Snapshot(ctx, next)
		if err != nil {
			return nil, false, err
		}
		if !s.followUp.ShouldScan(snap) {
			logrus.Debugf("Skip %s", snap)
			s.last = next
			s.metrics.observeSkip(next)
			continue
		}
		plan, err := s.followUp.Scan(ctx, snap)
		if err != nil {
			return nil, false, fmt.Errorf("error planning snapshot %d: %w", next, err)
		}
		s.last = next
		s.metrics.observePlan("follow-up", plan)
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.Debug(plan.PPString(common.PPL1, 0, ""))
		}
		return plan, true, nil
	}
}

// BatchScan plans the complete table state once.
type BatchScan struct {
	dir  snapshot.Directory
	scan *FileStoreScan
	done bool
}

func NewBatchScan(dir snapshot.Directory, scan *FileStoreScan) *BatchScan {
	return &BatchScan{dir: dir, scan: scan}
}

// Plan returns the state at the latest snapshot, an empty plan for a table
// without snapshots, and ErrEndOfScan afterwards.
func (b *BatchScan) Plan(ctx context.Context) (*DataFilePlan, error) {
	if b.done {
		return nil, ErrEndOfScan
	}
	latest, ok, err := b.dir.LatestSnapshotID(ctx)
	if err != nil {
		return nil, err
	}
	b.done = true
	if !ok {
		return &DataFilePlan{SnapshotID: -1}, nil
	}
	snap, err := b.dir.Snapshot(ctx, latest)
	if err != nil {
		return nil, err
	}
	files, err := b.scan.Plan(ctx, snap, ScanAll)
	if err != nil {
		return nil, err
	}
	return &DataFilePlan{SnapshotID: latest, Splits: GenerateSplits(latest, SplitFull, files.Files)}, nil
}

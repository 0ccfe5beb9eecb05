package read

import (
	"context"
	"errors"

	"tablestream/pkg/reader"
	"tablestream/pkg/scan"
	"tablestream/pkg/types"
)

var ErrNoActiveSplit = errors.New("tablestream: no active split")

// SplitRecords hands out the records of a plan one split at a time:
//
//	for id, ok := recs.NextSplit(); ok; id, ok = recs.NextSplit() {
//		for row, ok, err := recs.NextRecordFromSplit(); ok; ... {}
//	}
//	recs.Recycle()
//
// Readers are opened when their split becomes active and closed when the
// next split is requested, so at most one split holds buffers at a time.
type SplitRecords struct {
	ctx      context.Context
	read     *TableRead
	splits   []*scan.DataSplit
	next     int
	current  *reader.Iterator[types.Row]
	drained  bool
	finished []string
	err      error
}

func NewSplitRecords(ctx context.Context, read *TableRead, plan *scan.DataFilePlan) *SplitRecords {
	return &SplitRecords{ctx: ctx, read: read, splits: plan.Splits}
}

// NextSplit closes the active split and opens the next one. It returns
// false once every split was handed out or opening failed, see Err.
func (s *SplitRecords) NextSplit() (string, bool) {
	if err := s.closeCurrent(); err != nil {
		s.err = err
		return "", false
	}
	if s.err != nil || s.next >= len(s.splits) {
		return "", false
	}
	split := s.splits[s.next]
	s.next++
	rows, err := s.read.CreateReader(s.ctx, split)
	if err != nil {
		s.err = err
		return "", false
	}
	s.current = reader.NewIterator(rows)
	s.drained = false
	return split.String(), true
}

// NextRecordFromSplit returns the next record of the active split, or false
// when it is drained.
func (s *SplitRecords) NextRecordFromSplit() (types.Row, bool, error) {
	if s.current == nil {
		return types.Row{}, false, ErrNoActiveSplit
	}
	if s.current.Next() {
		return s.current.Value(), true, nil
	}
	if err := s.current.Err(); err != nil {
		return types.Row{}, false, err
	}
	s.drained = true
	return types.Row{}, false, nil
}

func (s *SplitRecords) closeCurrent() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	if s.drained {
		s.finished = append(s.finished, s.splits[s.next-1].String())
	}
	s.current = nil
	return err
}

// FinishedSplits lists the ids of the splits that were read to the end.
func (s *SplitRecords) FinishedSplits() []string {
	return s.finished
}

func (s *SplitRecords) Err() error { return s.err }

// Recycle releases the active split. It is safe to call on every exit path
// and more than once.
func (s *SplitRecords) Recycle() error {
	err := s.closeCurrent()
	s.next = len(s.splits)
	return err
}

package scan

import (
	"fmt"
	"sort"
	"strings"

	"tablestream/pkg/common"
	"tablestream/pkg/manifest"
	"tablestream/pkg/mergetree"
)

type SplitKind int8

const (
	// SplitFull holds the complete file set of a bucket, read as merged state.
	SplitFull SplitKind = iota
	// SplitDelta holds files appended by one snapshot, read record by record.
	SplitDelta
	// SplitChangelog holds changelog files written along with one snapshot.
	SplitChangelog
	// SplitDiff holds two complete file sets of a bucket; reading it yields
	// the changelog from BeforeFiles to Files.
	SplitDiff
)

func (k SplitKind) String() string {
	switch k {
	case SplitFull:
		return "full"
	case SplitDelta:
		return "delta"
	case SplitChangelog:
		return "changelog"
	case SplitDiff:
		return "diff"
	}
	return fmt.Sprintf("SplitKind(%d)", int8(k))
}

// DataSplit is the work on one bucket for one plan.
type DataSplit struct {
	SnapshotID  int64
	Bucket      int
	Kind        SplitKind
	Files       []manifest.DataFileMeta
	BeforeFiles []manifest.DataFileMeta
}

// RowCount estimates the records to read.
func (s *DataSplit) RowCount() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.RowCount
	}
	for _, f := range s.BeforeFiles {
		n += f.RowCount
	}
	return n
}

func (s *DataSplit) String() string {
	names := make([]string, len(s.Files))
	for i, f := range s.Files {
		names[i] = f.FileName
	}
	return fmt.Sprintf("DataSplit(%d, bucket %d, %s, [%s])", s.SnapshotID, s.Bucket, s.Kind, strings.Join(names, ", "))
}

// DataFilePlan is one unit of scan progress. A plan without splits is still
// a plan: the snapshot it names has been consumed.
type DataFilePlan struct {
	SnapshotID int64
	Splits     []*DataSplit
}

func (p *DataFilePlan) RowCount() int64 {
	var n int64
	for _, s := range p.Splits {
		n += s.RowCount()
	}
	return n
}

// PPString renders the plan with one split per line. PPL0 only counts the
// splits.
func (p *DataFilePlan) PPString(level common.PPLevel, depth int, prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%sPLAN[snapshot=%d, splits=%d, rows=%d]",
		common.RepeatStr("\t", depth), prefix, p.SnapshotID, len(p.Splits), p.RowCount())
	if level == common.PPL0 {
		return b.String()
	}
	for _, s := range p.Splits {
		b.WriteByte('\n')
		b.WriteString(common.RepeatStr("\t", depth+1))
		if level == common.PPL1 {
			fmt.Fprintf(&b, "%s bucket %d, %d files", s.Kind, s.Bucket, len(s.Files))
		} else {
			b.WriteString(s.String())
		}
	}
	return b.String()
}

// GenerateSplits builds one split per bucket, in bucket order, with files
// ordered by sequence.
func GenerateSplits(snapshotID int64, kind SplitKind, files map[int][]manifest.DataFileMeta) []*DataSplit {
	buckets := sortedBuckets(files)
	splits := make([]*DataSplit, 0, len(buckets))
	for _, b := range buckets {
		if len(files[b]) == 0 {
			continue
		}
		splits = append(splits, &DataSplit{
			SnapshotID: snapshotID,
			Bucket:     b,
			Kind:       kind,
			Files:      mergetree.SortBySequence(files[b]),
		})
	}
	return splits
}

func sortedBuckets(files map[int][]manifest.DataFileMeta) []int {
	buckets := make([]int, 0, len(files))
	for b := range files {
		buckets = append(buckets, b)
	}
	sort.Ints(buckets)
	return buckets
}

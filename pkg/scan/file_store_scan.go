package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tablestream/pkg/manifest"
	"tablestream/pkg/predicate"
	"tablestream/pkg/snapshot"

	"github.com/RoaringBitmap/roaring"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

var (
	ErrEndOfScan       = errors.New("tablestream: end of scan")
	ErrBucketMismatch  = errors.New("tablestream: bucket number mismatch")
	ErrUnmatchedDelete = errors.New("tablestream: delete entry without matching add")
	ErrSnapshotExpired = errors.New("tablestream: starting snapshot expired")
)

type ScanKind int8

const (
	// ScanAll reads the complete file set at a snapshot.
	ScanAll ScanKind = iota
	// ScanDelta reads the files a snapshot added.
	ScanDelta
	// ScanChangelog reads the changelog files of a snapshot.
	ScanChangelog
)

// FileStorePlan groups the live files a scan found by bucket.
type FileStorePlan struct {
	Snapshot *snapshot.Snapshot
	Files    map[int][]manifest.DataFileMeta
}

// FileStoreScan lists data files from manifests.
type FileStoreScan struct {
	store       *manifest.Store
	numBuckets  int
	parallelism int
	keyMapping  []int
	buckets     *roaring.Bitmap
	keyFilter   predicate.Predicate
}

// NewFileStoreScan reads manifests through store. keyMapping maps every
// table field to its position in the key row, or predicate.FieldAbsent.
func NewFileStoreScan(store *manifest.Store, numBuckets, parallelism int, keyMapping []int) *FileStoreScan {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &FileStoreScan{
		store:       store,
		numBuckets:  numBuckets,
		parallelism: parallelism,
		keyMapping:  keyMapping,
	}
}

// WithBuckets restricts the scan to the given buckets.
func (s *FileStoreScan) WithBuckets(buckets ...int) *FileStoreScan {
	s.buckets = roaring.NewBitmap()
	for _, b := range buckets {
		s.buckets.Add(uint32(b))
	}
	return s
}

// WithFilter keeps the key terms of the conjunction p for file pruning.
func (s *FileStoreScan) WithFilter(p predicate.Predicate) *FileStoreScan {
	var keyTerms []predicate.Predicate
	for _, term := range predicate.SplitAnd(p) {
		if mapped, ok := predicate.TransformFieldMapping(term, s.keyMapping); ok {
			keyTerms = append(keyTerms, mapped)
		}
	}
	s.keyFilter = predicate.AndOf(keyTerms...)
	return s
}

func (s *FileStoreScan) manifestList(snap *snapshot.Snapshot, kind ScanKind) []string {
	switch kind {
	case ScanDelta:
		return []string{snap.DeltaManifestList}
	case ScanChangelog:
		return []string{snap.ChangelogManifestList}
	}
	return []string{snap.BaseManifestList, snap.DeltaManifestList}
}

func (s *FileStoreScan) readManifests(ctx context.Context, metas []manifest.ManifestFileMeta) ([]manifest.ManifestEntry, error) {
	results := make([][]manifest.ManifestEntry, len(metas))
	errs := make([]error, len(metas))
	pool, err := ants.NewPool(s.parallelism)
	if err != nil {
		return nil, fmt.Errorf("error in ants.NewPool: %w", err)
	}
	defer pool.Release()
	var wg sync.WaitGroup
	for i := range metas {
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			results[i], errs[i] = s.store.ReadManifest(ctx, metas[i].FileName)
		})
		if submitErr != nil {
			wg.Done()
			errs[i] = submitErr
		}
	}
	wg.Wait()
	var entries []manifest.ManifestEntry
	for i := range metas {
		if errs[i] != nil {
			return nil, errs[i]
		}
		entries = append(entries, results[i]...)
	}
	return entries, nil
}

func (s *FileStoreScan) keep(e manifest.ManifestEntry, kind ScanKind) (bool, error) {
	if e.TotalBuckets != s.numBuckets {
		return false, fmt.Errorf("%w: file %s was written with %d buckets, table has %d",
			ErrBucketMismatch, e.File.FileName, e.TotalBuckets, s.numBuckets)
	}
	if s.buckets != nil && !s.buckets.Contains(uint32(e.Bucket)) {
		return false, nil
	}
	// the complete state of a bucket is never pruned: a key filtered out of
	// one file may still be shadowed by a record in another
	if kind == ScanAll || s.keyFilter == nil {
		return true, nil
	}
	lo, hi, err := e.File.KeyStats.Decode()
	if err != nil {
		logrus.Warnf("Unreadable key stats of %s, not pruning: %v", e.File.FileName, err)
		return true, nil
	}
	return s.keyFilter.TestStats(predicate.Stats{
		RowCount:   e.File.RowCount,
		Min:        lo,
		Max:        hi,
		NullCounts: e.File.KeyStats.NullCounts,
	}), nil
}

// Plan lists the files of snap for kind.
func (s *FileStoreScan) Plan(ctx context.Context, snap *snapshot.Snapshot, kind ScanKind) (*FileStorePlan, error) {
	var metas []manifest.ManifestFileMeta
	for _, list := range s.manifestList(snap, kind) {
		m, err := s.store.ReadManifestList(ctx, list)
		if err != nil {
			return nil, err
		}
		metas = append(metas, m...)
	}
	entries, err := s.readManifests(ctx, metas)
	if err != nil {
		return nil, err
	}
	plan := &FileStorePlan{Snapshot: snap, Files: make(map[int][]manifest.DataFileMeta)}
	for _, e := range manifest.MergeEntries(entries) {
		if e.Kind == manifest.FileKindDelete {
			if kind == ScanAll {
				return nil, fmt.Errorf("%w: %s in snapshot %d", ErrUnmatchedDelete, e, snap.ID)
			}
			continue
		}
		ok, err := s.keep(e, kind)
		if err != nil {
			return nil, err
		}
		if ok {
			plan.Files[e.Bucket] = append(plan.Files[e.Bucket], e.File)
		}
	}
	return plan, nil
}

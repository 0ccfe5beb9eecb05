package source

import (
	"context"
	"errors"
	"fmt"

	"tablestream/pkg/predicate"
	"tablestream/pkg/read"
	"tablestream/pkg/reader"
	"tablestream/pkg/scan"
	"tablestream/pkg/table"
	"tablestream/pkg/types"

	"github.com/sirupsen/logrus"
)

// ErrBoundedScan is returned when the scan under a streaming reader ends.
// Streaming readers only run unbounded scans, so this is a setup error.
var ErrBoundedScan = errors.New("tablestream: bounded scan under a streaming reader")

// Batch is the work of one plan, handed out split by split.
type Batch struct {
	SnapshotID int64
	Records    *read.SplitRecords
}

// StreamingReader reads the changes of a table plan after plan.
//
// A StreamingReader is not safe for concurrent use.
type StreamingReader struct {
	scan   *scan.StreamScan
	read   *read.TableRead
	filter predicate.Predicate
}

// NewStreamingReader reads the fields at projection (nil for all) of t.
// p refers to table fields. On a primary key table read in upsert mode only
// the primary key terms of p filter rows, since dropping an update on a
// value column would leave a stale row downstream. Tables without primary
// key filter on every projected term.
func NewStreamingReader(t *table.FileStoreTable, projection []int, p predicate.Predicate) *StreamingReader {
	schema := t.Schema()
	fieldCount := schema.RowType().FieldCount()
	if projection == nil {
		projection = make([]int, fieldCount)
		for i := range projection {
			projection[i] = i
		}
	}
	allowed := make([]bool, fieldCount)
	if schema.HasPrimaryKey() && t.Options().StreamingUpsert {
		for _, idx := range schema.PrimaryKeyIndices() {
			allowed[idx] = true
		}
	} else {
		for i := range allowed {
			allowed[i] = true
		}
	}

	// projected maps into the read row type, keep filters the full row the
	// same way before projection
	projected := predicate.ProjectionMapping(fieldCount, projection)
	keep := make([]int, fieldCount)
	for i := range projected {
		if !allowed[i] {
			projected[i] = predicate.FieldAbsent
		}
		keep[i] = predicate.FieldAbsent
		if projected[i] != predicate.FieldAbsent {
			keep[i] = i
		}
	}

	r := &StreamingReader{
		scan: t.NewStreamScan(p),
		read: t.NewRead().WithProjection(projection),
	}
	if p != nil {
		if mapped, ok := predicate.TransformFieldMapping(p, projected); ok {
			r.filter = mapped
		}
		if rowFilter, ok := predicate.TransformFieldMapping(p, keep); ok {
			r.read.WithFilter(rowFilter)
		}
		logrus.WithFields(logrus.Fields{
			"predicate": p,
			"remapped":  r.filter,
			"upsert":    t.Options().StreamingUpsert,
			"producer":  t.Options().ChangelogProducer,
		}).Debug("Remapped streaming filter")
	}
	return r
}

// WithCheckpoint resumes after the snapshot a previous reader consumed.
func (r *StreamingReader) WithCheckpoint(lastConsumed int64) *StreamingReader {
	r.scan.WithCheckpoint(lastConsumed)
	return r
}

// Filter is the predicate applied to rows, in positions of the read row
// type, or nil.
func (r *StreamingReader) Filter() predicate.Predicate {
	return r.filter
}

// Checkpoint is the last consumed snapshot id, false before the first plan.
func (r *StreamingReader) Checkpoint() (int64, bool) {
	return r.scan.Checkpoint()
}

func (r *StreamingReader) plan(ctx context.Context) (*scan.DataFilePlan, bool, error) {
	plan, ok, err := r.scan.Plan(ctx)
	if errors.Is(err, scan.ErrEndOfScan) {
		return nil, false, fmt.Errorf("%w: %w", ErrBoundedScan, err)
	}
	return plan, ok, err
}

// NextBatch returns the rows of the next plan, split after split. It
// returns false when nothing new has been committed. The caller closes the
// iterator.
func (r *StreamingReader) NextBatch(ctx context.Context) (*reader.Iterator[types.Row], bool, error) {
	plan, ok, err := r.plan(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	return reader.NewIterator(r.read.CreatePlanReader(ctx, plan)), true, nil
}

// NextSplits is NextBatch keeping split boundaries.
func (r *StreamingReader) NextSplits(ctx context.Context) (*Batch, bool, error) {
	plan, ok, err := r.plan(ctx)
	if !ok || err != nil {
		return nil, false, err
	}
	return &Batch{SnapshotID: plan.SnapshotID, Records: read.NewSplitRecords(ctx, r.read, plan)}, true, nil
}

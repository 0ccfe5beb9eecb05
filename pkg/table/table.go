package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"tablestream/pkg/bucket"
	"tablestream/pkg/codegen"
	"tablestream/pkg/fileio"
	"tablestream/pkg/manifest"
	"tablestream/pkg/options"
	"tablestream/pkg/predicate"
	"tablestream/pkg/read"
	"tablestream/pkg/scan"
	"tablestream/pkg/sink"
	"tablestream/pkg/snapshot"
	"tablestream/pkg/types"

	"github.com/sirupsen/logrus"
)

const projectionCacheSize = 64

var (
	ErrTableExists   = errors.New("tablestream: table already exists")
	ErrTableNotFound = errors.New("tablestream: table not found")
)

// FileStoreTable is a primary key or append table laid out under one FileIO
// root.
type FileStoreTable struct {
	fio       fileio.FileIO
	schema    *types.TableSchema
	options   options.Options
	factory   codegen.Factory
	assigner  *bucket.Assigner
	snapshots *snapshot.Manager
	store     *manifest.Store
	metrics   *scan.Metrics
}

// Create persists schema as the first schema of a new table.
func Create(ctx context.Context, fio fileio.FileIO, schema *types.TableSchema) (*FileStoreTable, error) {
	t, err := newTable(fio, schema)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error marshalling schema: %w", err)
	}
	var path fileio.PathFactory
	err = fio.WriteFile(ctx, path.SchemaPath(schema.ID), data, false)
	if errors.Is(err, fileio.ErrExist) {
		return nil, ErrTableExists
	} else if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"fields":   schema.FieldNames(),
		"pk":       schema.PrimaryKeys,
		"buckets":  t.options.Bucket,
		"producer": t.options.ChangelogProducer,
	}).Info("Created table")
	return t, nil
}

// Open loads the table with the latest schema found under the root of fio.
func Open(ctx context.Context, fio fileio.FileIO) (*FileStoreTable, error) {
	var path fileio.PathFactory
	names, err := fio.List(ctx, fileio.SchemaDir)
	if err != nil {
		return nil, err
	}
	latest := int64(-1)
	for _, name := range names {
		var id int64
		if _, err := fmt.Sscanf(name, "schema-%d", &id); err == nil && id > latest {
			latest = id
		}
	}
	if latest < 0 {
		return nil, ErrTableNotFound
	}
	data, err := fio.ReadFile(ctx, path.SchemaPath(latest))
	if err != nil {
		return nil, err
	}
	schema := new(types.TableSchema)
	if err = json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("error unmarshalling schema %d: %w", latest, err)
	}
	if err = schema.Validate(); err != nil {
		return nil, err
	}
	return newTable(fio, schema)
}

func newTable(fio fileio.FileIO, schema *types.TableSchema) (*FileStoreTable, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	opts, err := options.FromMap(schema.Options)
	if err != nil {
		return nil, err
	}
	if err = opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ChangelogProducer == options.ChangelogFullCompaction && !schema.HasPrimaryKey() {
		return nil, fmt.Errorf("%w: %s", options.ErrInvalidOption, sink.ErrFullCompactionNoPK)
	}
	factory, err := codegen.NewCachedFactory(nil, projectionCacheSize)
	if err != nil {
		return nil, err
	}
	assigner, err := bucket.NewAssigner(schema, opts.Bucket, factory)
	if err != nil {
		return nil, err
	}
	return &FileStoreTable{
		fio:       fio,
		schema:    schema,
		options:   opts,
		factory:   factory,
		assigner:  assigner,
		snapshots: snapshot.NewManager(fio),
		store:     manifest.NewStore(fio),
	}, nil
}

// Copy returns the table with dynamic options layered over the persisted
// ones. The bucket number is part of the data layout and cannot change.
func (t *FileStoreTable) Copy(dynamic map[string]string) (*FileStoreTable, error) {
	if v, ok := dynamic[options.BucketKey]; ok {
		if n, err := strconv.Atoi(v); err != nil || n != t.options.Bucket {
			return nil, fmt.Errorf("%w: table has %d buckets, got %s=%q",
				scan.ErrBucketMismatch, t.options.Bucket, options.BucketKey, v)
		}
	}
	copied, err := newTable(t.fio, t.schema.Copy(dynamic))
	if err != nil {
		return nil, err
	}
	copied.metrics = t.metrics
	return copied, nil
}

// WithMetrics reports the stream scans of the table to m.
func (t *FileStoreTable) WithMetrics(m *scan.Metrics) *FileStoreTable {
	t.metrics = m
	return t
}

func (t *FileStoreTable) Schema() *types.TableSchema { return t.schema }

func (t *FileStoreTable) Options() options.Options { return t.options }

func (t *FileStoreTable) FileIO() fileio.FileIO { return t.fio }

func (t *FileStoreTable) Snapshots() *snapshot.Manager { return t.snapshots }

func (t *FileStoreTable) BucketAssigner() *bucket.Assigner { return t.assigner }

// keyMapping maps table fields to positions in the key row of data files.
func (t *FileStoreTable) keyMapping() []int {
	fieldCount := t.schema.RowType().FieldCount()
	if t.schema.HasPrimaryKey() {
		return predicate.ProjectionMapping(fieldCount, t.schema.PrimaryKeyIndices())
	}
	identity := make([]int, fieldCount)
	for i := range identity {
		identity[i] = i
	}
	return identity
}

func (t *FileStoreTable) newFileStoreScan(filter predicate.Predicate) *scan.FileStoreScan {
	s := scan.NewFileStoreScan(t.store, t.options.Bucket, t.options.ManifestParallelism, t.keyMapping())
	if filter != nil {
		s.WithFilter(filter)
	}
	return s
}

func (t *FileStoreTable) NewWrite() (*sink.TableWrite, error) {
	return sink.NewTableWrite(sink.WriteContext{
		FIO:       t.fio,
		Schema:    t.schema,
		Options:   t.options,
		Assigner:  t.assigner,
		Factory:   t.factory,
		Snapshots: t.snapshots,
		Scan:      t.newFileStoreScan(nil),
	})
}

func (t *FileStoreTable) NewCommit() *sink.TableCommit {
	return sink.NewTableCommit(sink.CommitContext{
		Store:      t.store,
		Snapshots:  t.snapshots,
		SchemaID:   t.schema.ID,
		NumBuckets: t.options.Bucket,
		CommitUser: t.options.CommitUser,
		Retained:   t.options.SnapshotsRetained,
	})
}

func (t *FileStoreTable) NewRead() *read.TableRead {
	return read.NewTableRead(t.fio, t.schema, t.factory)
}

// NewStreamScan plans continuously from the configured startup position,
// deriving changes with the configured changelog producer. filter is in
// table field positions and only prunes files.
func (t *FileStoreTable) NewStreamScan(filter predicate.Predicate) *scan.StreamScan {
	fs := t.newFileStoreScan(filter)

	var followUp scan.FollowUpScanner
	switch t.options.ChangelogProducer {
	case options.ChangelogInput:
		followUp = scan.NewInputChangelogFollowUpScanner(fs)
	case options.ChangelogFullCompaction:
		followUp = scan.NewFullCompactionFollowUpScanner(t.snapshots, fs)
	default:
		followUp = scan.NewDeltaFollowUpScanner(fs)
	}

	var starting scan.StartingScanner
	switch t.options.StartupMode {
	case options.StartupLatest:
		starting = scan.NewLatestStartingScanner(t.snapshots)
	case options.StartupFromTimestamp:
		starting = scan.NewFromTimestampStartingScanner(t.snapshots, t.options.TimestampMillis)
	case options.StartupFromSnapshot:
		starting = scan.NewFromSnapshotStartingScanner(t.snapshots, t.options.SnapshotID)
	default:
		if t.options.ChangelogProducer == options.ChangelogFullCompaction {
			starting = scan.NewCompactedFullStartingScanner(t.snapshots, fs)
		} else {
			starting = scan.NewFullStartingScanner(t.snapshots, fs)
		}
	}
	return scan.NewStreamScan(t.snapshots, starting, followUp, t.metrics)
}

func (t *FileStoreTable) NewBatchScan(filter predicate.Predicate) *scan.BatchScan {
	return scan.NewBatchScan(t.snapshots, t.newFileStoreScan(filter))
}

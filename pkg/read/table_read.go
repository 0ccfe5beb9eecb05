package read

import (
	"context"
	"fmt"

	"tablestream/pkg/codegen"
	"tablestream/pkg/fileio"
	"tablestream/pkg/mergetree"
	"tablestream/pkg/predicate"
	"tablestream/pkg/reader"
	"tablestream/pkg/scan"
	"tablestream/pkg/types"
)

// TableRead turns splits into rows.
type TableRead struct {
	fio        fileio.FileIO
	schema     *types.TableSchema
	factory    codegen.Factory
	batchSize  int
	projection codegen.Projection
	filter     func(types.Row) bool
}

func NewTableRead(fio fileio.FileIO, schema *types.TableSchema, factory codegen.Factory) *TableRead {
	if factory == nil {
		factory = codegen.NewFactory()
	}
	return &TableRead{fio: fio, schema: schema, factory: factory}
}

// WithProjection keeps the fields at indices, in that order.
func (r *TableRead) WithProjection(indices []int) *TableRead {
	if indices != nil {
		r.projection = r.factory.NewProjection(r.schema.RowType(), indices)
	}
	return r
}

// WithFilter drops rows failing p. p refers to fields of the full row and
// is evaluated before projection.
func (r *TableRead) WithFilter(p predicate.Predicate) *TableRead {
	if p != nil {
		r.filter = predicate.NewFilter(p)
	}
	return r
}

func (r *TableRead) WithBatchSize(n int) *TableRead {
	r.batchSize = n
	return r
}

func (r *TableRead) CreateReader(ctx context.Context, split *scan.DataSplit) (reader.RecordReader[types.Row], error) {
	files := &mergetree.FileReaderFactory{FIO: r.fio, Bucket: split.Bucket, BatchSize: r.batchSize}
	keyed := r.schema.HasPrimaryKey()

	var rows reader.RecordReader[types.Row]
	switch split.Kind {
	case scan.SplitFull:
		merged, err := files.MergedState(ctx, split.Files, keyed)
		if err != nil {
			return nil, err
		}
		rows = reader.Map(merged, func(kv types.KeyValue) types.Row {
			return kv.Value.WithKind(types.RowKindInsert)
		})
	case scan.SplitDelta, scan.SplitChangelog:
		raw := reader.Concat(files.Suppliers(ctx, mergetree.SortBySequence(split.Files))...)
		rows = reader.Map(raw, types.KeyValue.ToRow)
	case scan.SplitDiff:
		before, err := files.MergedState(ctx, split.BeforeFiles, keyed)
		if err != nil {
			return nil, err
		}
		after, err := files.MergedState(ctx, split.Files, keyed)
		if err != nil {
			before.Close()
			return nil, err
		}
		rows = mergetree.NewDiffReader(before, after)
	default:
		return nil, fmt.Errorf("tablestream: unknown split kind %s", split.Kind)
	}
	if r.filter != nil {
		rows = reader.Filter(rows, r.filter)
	}
	if r.projection != nil {
		project := r.projection.Apply
		rows = reader.Map(rows, func(row types.Row) types.Row {
			return project(row).WithKind(row.Kind)
		})
	}
	return rows, nil
}

// CreatePlanReader reads every split of plan one after another.
func (r *TableRead) CreatePlanReader(ctx context.Context, plan *scan.DataFilePlan) reader.RecordReader[types.Row] {
	suppliers := make([]reader.Supplier[types.Row], len(plan.Splits))
	for i := range plan.Splits {
		split := plan.Splits[i]
		suppliers[i] = func() (reader.RecordReader[types.Row], error) {
			return r.CreateReader(ctx, split)
		}
	}
	return reader.Concat(suppliers...)
}

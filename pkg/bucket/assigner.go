package bucket

import (
	"errors"
	"fmt"
	"math"

	"tablestream/pkg/codegen"
	"tablestream/pkg/types"
)

var ErrInvalidBucketNum = errors.New("tablestream: bucket number must be in [1, MaxInt32]")

// Assigner maps rows to buckets. Writers and readers must build it from the
// same schema and bucket number, otherwise placement silently diverges.
type Assigner struct {
	numBuckets       int
	rowProjection    codegen.Projection
	bucketProjection codegen.Projection
	pkProjection     codegen.Projection
}

func NewAssigner(schema *types.TableSchema, numBuckets int, factory codegen.Factory) (*Assigner, error) {
	if numBuckets <= 0 || numBuckets > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBucketNum, numBuckets)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = codegen.NewFactory()
	}
	rowType := schema.RowType()
	all := make([]int, rowType.FieldCount())
	for i := range all {
		all[i] = i
	}
	return &Assigner{
		numBuckets:       numBuckets,
		rowProjection:    factory.NewProjection(rowType, all),
		bucketProjection: factory.NewProjection(rowType, schema.BucketKeyIndices()),
		pkProjection:     factory.NewProjection(rowType, schema.PrimaryKeyIndices()),
	}, nil
}

func (a *Assigner) NumBuckets() int { return a.numBuckets }

func (a *Assigner) Bucket(row types.Row) int {
	return Bucket(a.hashBucketKey(row, nil), a.numBuckets)
}

// BucketWithKey is Bucket with the primary key projection already computed
// by the caller.
func (a *Assigner) BucketWithKey(row types.Row, pk types.Row) int {
	return Bucket(a.hashBucketKey(row, &pk), a.numBuckets)
}

func (a *Assigner) hashBucketKey(row types.Row, pk *types.Row) int32 {
	if a.bucketProjection.Arity() > 0 {
		return HashCode(a.bucketProjection.Apply(row))
	}
	if a.pkProjection.Arity() > 0 {
		if pk != nil {
			return HashCode(pk.WithKind(types.RowKindInsert))
		}
		return HashCode(a.pkProjection.Apply(row))
	}
	// whole row: the projection yields an INSERT copy, the caller's row is
	// never touched
	return HashCode(a.rowProjection.Apply(row))
}

// HashCode hashes an INSERT-tagged row.
func HashCode(row types.Row) int32 {
	if row.Kind != types.RowKindInsert {
		panic(fmt.Sprintf("tablestream: hash of %s row", row.Kind))
	}
	return codegen.HashRow(row)
}

// Bucket computes abs(hash % numBuckets). The modulo is taken first so the
// result magnitude is below numBuckets; abs(math.MinInt32) (which stays
// negative in two's complement) can therefore never be reached. The
// arithmetic is done in 64 bits so numBuckets is never truncated.
func Bucket(hash int32, numBuckets int) int {
	b := int64(hash) % int64(numBuckets)
	if b < 0 {
		b = -b
	}
	return int(b)
}

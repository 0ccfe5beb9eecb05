package codegen

import (
	"fmt"
	"strings"

	"tablestream/pkg/types"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaolacci/murmur3"
)

const hashSeed = 42

// Projection picks fields out of a row. The result is always an INSERT row,
// so hashing a projected row never depends on the source row kind.
type Projection interface {
	Apply(row types.Row) types.Row
	Arity() int
}

// Factory hands out projections. Implementations must be a pure function of
// (row type, field indices).
type Factory interface {
	NewProjection(rowType types.RowType, fields []int) Projection
}

type fieldProjection struct {
	fields []int
}

func (p *fieldProjection) Apply(row types.Row) types.Row {
	return row.Project(p.fields)
}

func (p *fieldProjection) Arity() int { return len(p.fields) }

type simpleFactory struct{}

// NewFactory returns a factory that builds a fresh projection per call.
func NewFactory() Factory { return simpleFactory{} }

func (simpleFactory) NewProjection(_ types.RowType, fields []int) Projection {
	copied := make([]int, len(fields))
	copy(copied, fields)
	return &fieldProjection{fields: copied}
}

// CachedFactory memoises projections keyed by a fingerprint of the row type
// and field indices.
type CachedFactory struct {
	inner Factory
	cache *lru.Cache[string, Projection]
}

func NewCachedFactory(inner Factory, size int) (*CachedFactory, error) {
	if inner == nil {
		inner = NewFactory()
	}
	cache, err := lru.New[string, Projection](size)
	if err != nil {
		return nil, fmt.Errorf("error in lru.New: %w", err)
	}
	return &CachedFactory{inner: inner, cache: cache}, nil
}

func (f *CachedFactory) NewProjection(rowType types.RowType, fields []int) Projection {
	key := Fingerprint(rowType, fields)
	if p, ok := f.cache.Get(key); ok {
		return p
	}
	p := f.inner.NewProjection(rowType, fields)
	f.cache.Add(key, p)
	return p
}

func (f *CachedFactory) Len() int { return f.cache.Len() }

func Fingerprint(rowType types.RowType, fields []int) string {
	var b strings.Builder
	b.WriteString(rowType.SQLString())
	b.WriteByte('#')
	for i, idx := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprint(&b, idx)
	}
	return b.String()
}

// HashRow hashes the binary encoding of row. The row must already be tagged
// INSERT; callers get that for free from a Projection.
func HashRow(row types.Row) int32 {
	return int32(murmur3.Sum32WithSeed(types.EncodeRow(row), hashSeed))
}

package predicate

import (
	"fmt"

	"tablestream/pkg/types"
)

type Builder struct {
	rowType types.RowType
}

func NewBuilder(rowType types.RowType) *Builder {
	return &Builder{rowType: rowType}
}

// IndexOf panics on unknown field names.
func (b *Builder) IndexOf(name string) int {
	idx := b.rowType.FieldIndex(name)
	if idx < 0 {
		panic(fmt.Sprintf("tablestream: unknown field %s in %s", name, b.rowType.SQLString()))
	}
	return idx
}

func (b *Builder) leaf(fn Function, idx int, literals ...any) Predicate {
	return &Leaf{Func: fn, Index: idx, FieldName: b.rowType.Fields[idx].Name, Literals: literals}
}

func (b *Builder) Equal(idx int, lit any) Predicate          { return b.leaf(Equal, idx, lit) }
func (b *Builder) NotEqual(idx int, lit any) Predicate       { return b.leaf(NotEqual, idx, lit) }
func (b *Builder) LessThan(idx int, lit any) Predicate       { return b.leaf(LessThan, idx, lit) }
func (b *Builder) LessOrEqual(idx int, lit any) Predicate    { return b.leaf(LessOrEqual, idx, lit) }
func (b *Builder) GreaterThan(idx int, lit any) Predicate    { return b.leaf(GreaterThan, idx, lit) }
func (b *Builder) GreaterOrEqual(idx int, lit any) Predicate { return b.leaf(GreaterOrEqual, idx, lit) }
func (b *Builder) IsNull(idx int) Predicate                  { return b.leaf(IsNull, idx) }
func (b *Builder) IsNotNull(idx int) Predicate               { return b.leaf(IsNotNull, idx) }
func (b *Builder) In(idx int, lits ...any) Predicate         { return b.leaf(In, idx, lits...) }

func (b *Builder) Between(idx int, lo, hi any) Predicate {
	return AndOf(b.GreaterOrEqual(idx, lo), b.LessOrEqual(idx, hi))
}

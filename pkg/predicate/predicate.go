package predicate

import (
	"fmt"
	"strings"

	"tablestream/pkg/types"
)

// Predicate is a boolean expression over the field indices of a row type.
type Predicate interface {
	Test(row types.Row) bool
	// TestStats reports whether a file with the given per field bounds may
	// hold matching rows. A false answer means the file can be skipped.
	TestStats(stats Stats) bool
	String() string
}

// Stats are the value bounds of a set of rows. Min and Max hold one value
// per field; NULL bounds mean every value of the field is NULL.
type Stats struct {
	RowCount   int64
	Min        types.Row
	Max        types.Row
	NullCounts []int64
}

type Function int8

const (
	Equal Function = iota
	NotEqual
	LessThan
	LessOrEqual
	GreaterThan
	GreaterOrEqual
	IsNull
	IsNotNull
	In
)

var functionNames = [...]string{"Equal", "NotEqual", "LessThan", "LessOrEqual",
	"GreaterThan", "GreaterOrEqual", "IsNull", "IsNotNull", "In"}

func (f Function) String() string {
	if int(f) < len(functionNames) {
		return functionNames[f]
	}
	return fmt.Sprintf("Function(%d)", int8(f))
}

// Leaf compares one field with literals. NULL never matches a comparison.
type Leaf struct {
	Func      Function
	Index     int
	FieldName string
	Literals  []any
}

func (l *Leaf) literal() any {
	if len(l.Literals) == 0 {
		return nil
	}
	return l.Literals[0]
}

func (l *Leaf) Test(row types.Row) bool {
	v := row.Values[l.Index]
	switch l.Func {
	case IsNull:
		return v == nil
	case IsNotNull:
		return v != nil
	}
	if v == nil {
		return false
	}
	if l.Func == In {
		for _, lit := range l.Literals {
			if lit != nil && types.CompareValues(v, lit) == 0 {
				return true
			}
		}
		return false
	}
	lit := l.literal()
	if lit == nil {
		return false
	}
	c := types.CompareValues(v, lit)
	switch l.Func {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case LessThan:
		return c < 0
	case LessOrEqual:
		return c <= 0
	case GreaterThan:
		return c > 0
	case GreaterOrEqual:
		return c >= 0
	}
	return false
}

func (l *Leaf) TestStats(stats Stats) bool {
	if l.Index >= len(stats.NullCounts) || l.Index >= stats.Min.Arity() || l.Index >= stats.Max.Arity() {
		return true
	}
	nulls := stats.NullCounts[l.Index]
	switch l.Func {
	case IsNull:
		return nulls > 0
	case IsNotNull:
		return nulls < stats.RowCount
	}
	lo, hi := stats.Min.Values[l.Index], stats.Max.Values[l.Index]
	if lo == nil || hi == nil {
		// every value is NULL
		return false
	}
	inRange := func(lit any) bool {
		return lit != nil && types.CompareValues(lo, lit) <= 0 && types.CompareValues(hi, lit) >= 0
	}
	if l.Func == In {
		for _, lit := range l.Literals {
			if inRange(lit) {
				return true
			}
		}
		return false
	}
	lit := l.literal()
	if lit == nil {
		return false
	}
	switch l.Func {
	case Equal:
		return inRange(lit)
	case NotEqual:
		return types.CompareValues(lo, lit) != 0 || types.CompareValues(hi, lit) != 0
	case LessThan:
		return types.CompareValues(lo, lit) < 0
	case LessOrEqual:
		return types.CompareValues(lo, lit) <= 0
	case GreaterThan:
		return types.CompareValues(hi, lit) > 0
	case GreaterOrEqual:
		return types.CompareValues(hi, lit) >= 0
	}
	return true
}

func (l *Leaf) String() string {
	switch l.Func {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s(%s)", l.Func, l.FieldName)
	case In:
		lits := make([]string, len(l.Literals))
		for i, lit := range l.Literals {
			lits[i] = fmt.Sprint(lit)
		}
		return fmt.Sprintf("In(%s, [%s])", l.FieldName, strings.Join(lits, ", "))
	}
	return fmt.Sprintf("%s(%s, %v)", l.Func, l.FieldName, l.literal())
}

type CompoundFunc int8

const (
	And CompoundFunc = iota
	Or
)

func (f CompoundFunc) String() string {
	if f == And {
		return "And"
	}
	return "Or"
}

type Compound struct {
	Func     CompoundFunc
	Children []Predicate
}

func (c *Compound) Test(row types.Row) bool {
	for _, child := range c.Children {
		ok := child.Test(row)
		if c.Func == And && !ok {
			return false
		}
		if c.Func == Or && ok {
			return true
		}
	}
	return c.Func == And
}

func (c *Compound) TestStats(stats Stats) bool {
	for _, child := range c.Children {
		ok := child.TestStats(stats)
		if c.Func == And && !ok {
			return false
		}
		if c.Func == Or && ok {
			return true
		}
	}
	return c.Func == And
}

func (c *Compound) String() string {
	parts := make([]string, len(c.Children))
	for i, child := range c.Children {
		parts[i] = child.String()
	}
	return fmt.Sprintf("%s(%s)", c.Func, strings.Join(parts, ", "))
}

// AndOf joins predicates, nil when there are none.
func AndOf(preds ...Predicate) Predicate {
	return compound(And, preds)
}

func OrOf(preds ...Predicate) Predicate {
	return compound(Or, preds)
}

func compound(fn CompoundFunc, preds []Predicate) Predicate {
	children := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			children = append(children, p)
		}
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return &Compound{Func: fn, Children: children}
}

// SplitAnd flattens nested conjunctions.
func SplitAnd(p Predicate) []Predicate {
	if p == nil {
		return nil
	}
	if c, ok := p.(*Compound); ok && c.Func == And {
		var out []Predicate
		for _, child := range c.Children {
			out = append(out, SplitAnd(child)...)
		}
		return out
	}
	return []Predicate{p}
}

// NewFilter turns p into a row filter. A nil predicate keeps every row.
func NewFilter(p Predicate) func(types.Row) bool {
	if p == nil {
		return func(types.Row) bool { return true }
	}
	return p.Test
}

package types

import (
	"fmt"
	"strings"
)

type RowKind int8

const (
	RowKindInsert RowKind = iota
	RowKindUpdateBefore
	RowKindUpdateAfter
	RowKindDelete
)

func RowKindFromByte(b byte) (RowKind, error) {
	if b > byte(RowKindDelete) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRowKind, b)
	}
	return RowKind(b), nil
}

func (k RowKind) ShortString() string {
	switch k {
	case RowKindInsert:
		return "+I"
	case RowKindUpdateBefore:
		return "-U"
	case RowKindUpdateAfter:
		return "+U"
	case RowKindDelete:
		return "-D"
	}
	return "??"
}

func (k RowKind) String() string {
	switch k {
	case RowKindInsert:
		return "INSERT"
	case RowKindUpdateBefore:
		return "UPDATE_BEFORE"
	case RowKindUpdateAfter:
		return "UPDATE_AFTER"
	case RowKindDelete:
		return "DELETE"
	}
	return fmt.Sprintf("RowKind(%d)", int8(k))
}

// IsAdd is true for kinds that add a row to the state.
func (k RowKind) IsAdd() bool {
	return k == RowKindInsert || k == RowKindUpdateAfter
}

// IsRetract is true for kinds that remove a row from the state.
func (k RowKind) IsRetract() bool {
	return k == RowKindUpdateBefore || k == RowKindDelete
}

// Row is a flat record. Values are positional and must carry the Go type of
// the corresponding field (see DataType.Accepts).
type Row struct {
	Kind   RowKind
	Values []any
}

func NewRow(kind RowKind, values ...any) Row {
	return Row{Kind: kind, Values: values}
}

func InsertRow(values ...any) Row {
	return Row{Kind: RowKindInsert, Values: values}
}

func (r Row) Arity() int { return len(r.Values) }

func (r Row) Get(i int) any { return r.Values[i] }

func (r Row) IsNullAt(i int) bool { return r.Values[i] == nil }

// WithKind returns a copy of the row tagged with kind. Values are shared.
func (r Row) WithKind(kind RowKind) Row {
	return Row{Kind: kind, Values: r.Values}
}

// Project returns an INSERT row made of the fields at indices.
func (r Row) Project(indices []int) Row {
	values := make([]any, len(indices))
	for i, idx := range indices {
		values[i] = r.Values[idx]
	}
	return Row{Kind: RowKindInsert, Values: values}
}

// ValuesEqual compares field values, ignoring the kind.
func (r Row) ValuesEqual(o Row) bool {
	if len(r.Values) != len(o.Values) {
		return false
	}
	for i := range r.Values {
		if CompareValues(r.Values[i], o.Values[i]) != 0 {
			return false
		}
	}
	return true
}

// String renders "+I 1|10|101".
func (r Row) String() string {
	var b strings.Builder
	b.WriteString(r.Kind.ShortString())
	b.WriteByte(' ')
	for i, v := range r.Values {
		if i > 0 {
			b.WriteByte('|')
		}
		switch x := v.(type) {
		case nil:
			b.WriteString("NULL")
		case []byte:
			fmt.Fprintf(&b, "%x", x)
		default:
			fmt.Fprint(&b, x)
		}
	}
	return b.String()
}

// KeyValue is one record of a merge-tree file. Value holds the full row; the
// row kind of the record is carried by Kind, Value.Kind is always INSERT.
type KeyValue struct {
	Key      Row
	Sequence int64
	Kind     RowKind
	Value    Row
}

// ToRow turns the record back into a row tagged with its kind.
func (kv KeyValue) ToRow() Row {
	return kv.Value.WithKind(kv.Kind)
}

func (kv KeyValue) String() string {
	return fmt.Sprintf("%s seq=%d %s", kv.Kind.ShortString(), kv.Sequence, kv.Value.WithKind(kv.Kind))
}

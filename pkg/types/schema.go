package types

import (
	"fmt"
	"strings"
)

const BucketKeyOption = "bucket-key"

type DataField struct {
	ID   int      `json:"id"`
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

func NewField(id int, name string, typ DataType) DataField {
	return DataField{ID: id, Name: name, Type: typ}
}

type RowType struct {
	Fields []DataField
}

func NewRowType(fields ...DataField) RowType {
	return RowType{Fields: fields}
}

func (rt RowType) FieldCount() int { return len(rt.Fields) }

func (rt RowType) FieldNames() []string {
	names := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldIndex returns the position of name or -1.
func (rt RowType) FieldIndex(name string) int {
	for i, f := range rt.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (rt RowType) Project(indices []int) RowType {
	fields := make([]DataField, len(indices))
	for i, idx := range indices {
		fields[i] = rt.Fields[idx]
	}
	return RowType{Fields: fields}
}

// SQLString renders "ROW<a INT NOT NULL, b STRING>".
func (rt RowType) SQLString() string {
	parts := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		parts[i] = f.Name + " " + f.Type.SQLString()
	}
	return "ROW<" + strings.Join(parts, ", ") + ">"
}

// Validate checks arity and per-field value types.
func (rt RowType) Validate(row Row) error {
	if len(row.Values) != len(rt.Fields) {
		return fmt.Errorf("%w: expect %d, got %d", ErrRowArity, len(rt.Fields), len(row.Values))
	}
	for i, f := range rt.Fields {
		if !f.Type.Accepts(row.Values[i]) {
			return fmt.Errorf("%w: field %s %s got %T", ErrValueType, f.Name, f.Type.SQLString(), row.Values[i])
		}
	}
	return nil
}

// TableSchema is the persisted description of a table.
//
// +--------+--------+-------------+---------+
// |   ID   | Fields | PrimaryKeys | Options |
// +--------+--------+-------------+---------+
type TableSchema struct {
	ID          int64             `json:"id"`
	Fields      []DataField       `json:"fields"`
	PrimaryKeys []string          `json:"primaryKeys,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

func NewTableSchema(fields []DataField, primaryKeys []string, options map[string]string) (*TableSchema, error) {
	if options == nil {
		options = make(map[string]string)
	}
	schema := &TableSchema{
		Fields:      fields,
		PrimaryKeys: primaryKeys,
		Options:     options,
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func (s *TableSchema) RowType() RowType {
	return RowType{Fields: s.Fields}
}

func (s *TableSchema) FieldNames() []string { return s.RowType().FieldNames() }

func (s *TableSchema) HasPrimaryKey() bool { return len(s.PrimaryKeys) > 0 }

// BucketKeys returns the explicitly configured bucket key columns, or nil.
func (s *TableSchema) BucketKeys() []string {
	raw := strings.TrimSpace(s.Options[BucketKeyOption])
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func (s *TableSchema) PrimaryKeyIndices() []int {
	return s.Projection(s.PrimaryKeys)
}

func (s *TableSchema) BucketKeyIndices() []int {
	return s.Projection(s.BucketKeys())
}

// Projection maps field names to indices. Unknown names are skipped, Validate
// rejects them up front.
func (s *TableSchema) Projection(names []string) []int {
	rt := s.RowType()
	indices := make([]int, 0, len(names))
	for _, name := range names {
		if idx := rt.FieldIndex(name); idx >= 0 {
			indices = append(indices, idx)
		}
	}
	return indices
}

// KeyRowType is the row type of the primary key projection.
func (s *TableSchema) KeyRowType() RowType {
	return s.RowType().Project(s.PrimaryKeyIndices())
}

func (s *TableSchema) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if seen[f.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateField, f.Name)
		}
		seen[f.Name] = true
	}
	pks := make(map[string]bool, len(s.PrimaryKeys))
	for _, pk := range s.PrimaryKeys {
		if !seen[pk] {
			return fmt.Errorf("%w: primary key %s not in fields", ErrInvalidPK, pk)
		}
		if pks[pk] {
			return fmt.Errorf("%w: primary key %s repeated", ErrInvalidPK, pk)
		}
		pks[pk] = true
	}
	for _, bk := range s.BucketKeys() {
		if !seen[bk] {
			return fmt.Errorf("%w: bucket key %s not in fields", ErrInvalidBucketKey, bk)
		}
		if len(pks) > 0 && !pks[bk] {
			return fmt.Errorf("%w: bucket key %s must be part of the primary key %v",
				ErrInvalidBucketKey, bk, s.PrimaryKeys)
		}
	}
	return nil
}

// Copy returns a schema sharing fields but with options replaced by the
// merge of the current ones and dynamic.
func (s *TableSchema) Copy(dynamic map[string]string) *TableSchema {
	options := make(map[string]string, len(s.Options)+len(dynamic))
	for k, v := range s.Options {
		options[k] = v
	}
	for k, v := range dynamic {
		options[k] = v
	}
	return &TableSchema{
		ID:          s.ID,
		Fields:      s.Fields,
		PrimaryKeys: s.PrimaryKeys,
		Options:     options,
	}
}

// MockSchema builds (pt INT, k INT, v BIGINT) with primary key (pt, k) when
// withPK is set.
func MockSchema(withPK bool, options map[string]string) *TableSchema {
	fields := []DataField{
		NewField(0, "pt", NewDataType(Int).NotNull()),
		NewField(1, "k", NewDataType(Int).NotNull()),
		NewField(2, "v", NewDataType(BigInt)),
	}
	var pks []string
	if withPK {
		pks = []string{"pt", "k"}
	}
	schema, err := NewTableSchema(fields, pks, options)
	if err != nil {
		panic(err)
	}
	return schema
}

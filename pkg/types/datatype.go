package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type TypeRoot int8

const (
	Boolean TypeRoot = iota
	TinyInt
	SmallInt
	Int
	BigInt
	Float
	Double
	String
	Bytes
)

var rootNames = map[TypeRoot]string{
	Boolean:  "BOOLEAN",
	TinyInt:  "TINYINT",
	SmallInt: "SMALLINT",
	Int:      "INT",
	BigInt:   "BIGINT",
	Float:    "FLOAT",
	Double:   "DOUBLE",
	String:   "STRING",
	Bytes:    "BYTES",
}

func (r TypeRoot) String() string {
	if name, ok := rootNames[r]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int8(r))
}

func ParseTypeRoot(name string) (TypeRoot, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for root, n := range rootNames {
		if n == name {
			return root, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownType, name)
}

type DataType struct {
	Root     TypeRoot
	Nullable bool
}

func NewDataType(root TypeRoot) DataType {
	return DataType{Root: root, Nullable: true}
}

func (t DataType) NotNull() DataType {
	t.Nullable = false
	return t
}

// SQLString renders the type the way it is written in DDL, e.g. "INT NOT NULL".
func (t DataType) SQLString() string {
	if t.Nullable {
		return t.Root.String()
	}
	return t.Root.String() + " NOT NULL"
}

func (t DataType) String() string { return t.SQLString() }

// Accepts reports whether v is a legal value for the type. nil is legal only
// for nullable types.
func (t DataType) Accepts(v any) bool {
	if v == nil {
		return t.Nullable
	}
	switch t.Root {
	case Boolean:
		_, ok := v.(bool)
		return ok
	case TinyInt:
		_, ok := v.(int8)
		return ok
	case SmallInt:
		_, ok := v.(int16)
		return ok
	case Int:
		_, ok := v.(int32)
		return ok
	case BigInt:
		_, ok := v.(int64)
		return ok
	case Float:
		_, ok := v.(float32)
		return ok
	case Double:
		_, ok := v.(float64)
		return ok
	case String:
		_, ok := v.(string)
		return ok
	case Bytes:
		_, ok := v.([]byte)
		return ok
	}
	return false
}

func (t DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.SQLString())
}

func (t *DataType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	nullable := true
	if strings.HasSuffix(strings.ToUpper(s), " NOT NULL") {
		nullable = false
		s = s[:len(s)-len(" NOT NULL")]
	}
	root, err := ParseTypeRoot(s)
	if err != nil {
		return err
	}
	t.Root = root
	t.Nullable = nullable
	return nil
}

package types

import "errors"

var (
	ErrUnknownType      = errors.New("tablestream: unknown data type")
	ErrUnknownRowKind   = errors.New("tablestream: unknown row kind")
	ErrFieldNotFound    = errors.New("tablestream: field not found")
	ErrDuplicateField   = errors.New("tablestream: duplicate field")
	ErrInvalidBucketKey = errors.New("tablestream: invalid bucket key")
	ErrInvalidPK        = errors.New("tablestream: invalid primary key")
	ErrRowArity         = errors.New("tablestream: row arity mismatch")
	ErrValueType        = errors.New("tablestream: value does not match field type")
	ErrCorruptRow       = errors.New("tablestream: corrupt row encoding")
)

package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"tablestream/pkg/common"
)

// Binary row layout:
//
//	+------+---------+-----+-----------+-----+
//	| kind |  arity  | tag |  payload  | ... |
//	+------+---------+-----+-----------+-----+
//	|(byte)|(uint16) |(u8) | big-endian|     |
//	+------+---------+-----+-----------+-----+
//
// Strings and bytes are length prefixed (uint32). Floats are written as IEEE
// bits with NaN canonicalised and -0 folded into +0, so equal values always
// produce equal bytes.

const (
	tagNull byte = iota
	tagBool
	tagInt8
	tagInt16
	tagInt32
	tagInt64
	tagFloat32
	tagFloat64
	tagString
	tagBytes
)

func tagOf(v any) byte {
	switch v.(type) {
	case nil:
		return tagNull
	case bool:
		return tagBool
	case int8:
		return tagInt8
	case int16:
		return tagInt16
	case int32:
		return tagInt32
	case int64:
		return tagInt64
	case float32:
		return tagFloat32
	case float64:
		return tagFloat64
	case string:
		return tagString
	case []byte:
		return tagBytes
	}
	panic(fmt.Sprintf("tablestream: unsupported value type %T", v))
}

// EncodeRow serialises a row including its kind.
func EncodeRow(row Row) []byte {
	var w bytes.Buffer
	w.Grow(3 + 9*len(row.Values))
	w.WriteByte(byte(row.Kind))
	var arity [2]byte
	binary.BigEndian.PutUint16(arity[:], uint16(len(row.Values)))
	w.Write(arity[:])
	var scratch [8]byte
	for _, v := range row.Values {
		tag := tagOf(v)
		w.WriteByte(tag)
		switch x := v.(type) {
		case nil:
		case bool:
			if x {
				w.WriteByte(1)
			} else {
				w.WriteByte(0)
			}
		case int8:
			w.WriteByte(byte(x))
		case int16:
			binary.BigEndian.PutUint16(scratch[:2], uint16(x))
			w.Write(scratch[:2])
		case int32:
			binary.BigEndian.PutUint32(scratch[:4], uint32(x))
			w.Write(scratch[:4])
		case int64:
			binary.BigEndian.PutUint64(scratch[:8], uint64(x))
			w.Write(scratch[:8])
		case float32:
			binary.BigEndian.PutUint32(scratch[:4], canonicalFloat32(x))
			w.Write(scratch[:4])
		case float64:
			binary.BigEndian.PutUint64(scratch[:8], canonicalFloat64(x))
			w.Write(scratch[:8])
		case string:
			common.WriteString(x, &w)
		case []byte:
			common.WriteBytes(x, &w)
		}
	}
	return w.Bytes()
}

// DecodeRow is the inverse of EncodeRow. Returned values never alias data.
func DecodeRow(data []byte) (Row, error) {
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return Row{}, fmt.Errorf("%w: %v", ErrCorruptRow, err)
	}
	kind, err := RowKindFromByte(kindByte)
	if err != nil {
		return Row{}, err
	}
	var arity uint16
	if err = binary.Read(r, binary.BigEndian, &arity); err != nil {
		return Row{}, fmt.Errorf("%w: %v", ErrCorruptRow, err)
	}
	values := make([]any, arity)
	for i := range values {
		if values[i], err = decodeValue(r); err != nil {
			return Row{}, fmt.Errorf("%w: field %d: %v", ErrCorruptRow, i, err)
		}
	}
	if r.Len() != 0 {
		return Row{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptRow, r.Len())
	}
	return Row{Kind: kind, Values: values}, nil
}

func decodeValue(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var scratch [8]byte
	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		b, err := r.ReadByte()
		return b == 1, err
	case tagInt8:
		b, err := r.ReadByte()
		return int8(b), err
	case tagInt16:
		if _, err = io.ReadFull(r, scratch[:2]); err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(scratch[:2])), nil
	case tagInt32:
		if _, err = io.ReadFull(r, scratch[:4]); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(scratch[:4])), nil
	case tagInt64:
		if _, err = io.ReadFull(r, scratch[:8]); err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(scratch[:8])), nil
	case tagFloat32:
		if _, err = io.ReadFull(r, scratch[:4]); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(scratch[:4])), nil
	case tagFloat64:
		if _, err = io.ReadFull(r, scratch[:8]); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(scratch[:8])), nil
	case tagString:
		s, _, err := common.ReadString(r)
		return s, err
	case tagBytes:
		b, _, err := common.ReadBytes(r)
		return b, err
	}
	return nil, fmt.Errorf("unknown tag %d", tag)
}

func canonicalFloat32(f float32) uint32 {
	if f != f {
		return 0x7fc00000
	}
	if f == 0 {
		return 0
	}
	return math.Float32bits(f)
}

func canonicalFloat64(f float64) uint64 {
	if f != f {
		return 0x7ff8000000000000
	}
	if f == 0 {
		return 0
	}
	return math.Float64bits(f)
}

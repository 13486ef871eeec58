// ABOUTME: Order-preserving encoding for composite keys and tuple values
// ABOUTME: Keys sort by prefix, then column by column in natural order

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Value types for composite keys
const (
	TYPE_BYTES = 1
	TYPE_INT64 = 2
	TYPE_TIME  = 4 // Stored as int64 Unix nanoseconds
)

// Value represents a single column in a composite key or tuple
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	Time time.Time
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewTimeValue creates a time value
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// String returns the bytes payload as a string
func (v Value) String() string {
	return string(v.Str)
}

// EncodeValues encodes values so that byte order matches column order
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)

		switch v.Type {
		case TYPE_INT64:
			out = appendOrderedInt(out, v.I64)

		case TYPE_TIME:
			out = appendOrderedInt(out, v.Time.UnixNano())

		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)

		default:
			panic(fmt.Sprintf("unknown type: %d", v.Type))
		}
	}
	return out
}

// appendOrderedInt flips the sign bit so negative values sort first
func appendOrderedInt(out []byte, i int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)+(1<<63))
	return append(out, buf[:]...)
}

func readOrderedInt(data []byte) int64 {
	return int64(binary.BigEndian.Uint64(data) - (1 << 63))
}

// escapeString stuffs 0x00 and 0x01 so 0x00 can terminate the column.
// 0x00 -> 0x01 0x01, 0x01 -> 0x01 0x02; ordering is preserved.
func escapeString(s []byte) []byte {
	if bytes.IndexByte(s, 0) < 0 && bytes.IndexByte(s, 1) < 0 {
		return s
	}
	out := make([]byte, 0, len(s)+4)
	for _, b := range s {
		if b <= 1 {
			out = append(out, 1, b+1)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 1 && i+1 < len(s) {
			out = append(out, s[i+1]-1)
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues decodes values produced by EncodeValues
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64, TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete int64 at pos %d", pos)
			}
			i := readOrderedInt(data[pos : pos+8])
			if typ == TYPE_TIME {
				vals = append(vals, NewTimeValue(time.Unix(0, i).UTC()))
			} else {
				vals = append(vals, NewInt64Value(i))
			}
			pos += 8

		case TYPE_BYTES:
			end := bytes.IndexByte(data[pos:], 0)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, NewBytesValue(unescapeString(data[pos:pos+end])))
			pos += end + 1

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeKey encodes a composite key with prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], prefix)
	out := append([]byte{}, buf[:]...)
	return append(out, EncodeValues(vals)...)
}

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}

// Package bin implements the token-tagged, dictionary-compressed binary
// codec and its resumable streaming parser.
//
// Every value is introduced by a one-byte tag. The standard form of a tag
// is followed by a zero-terminated member name; the plain form (tag +
// plainOffset) omits the name and is used for anonymous container
// elements. Composite values carry a category tag, a name, an element
// type-name token and their children, and are closed by the End byte.
//
// Names and type names travel through a per-stream dictionary: the first
// occurrence is sent literally and appended on both sides, later
// occurrences may be sent as a two-byte index prefixed by dictMarker. The
// dictionary lives as long as its connection and is reset only at an
// explicit document boundary.
package bin

import (
	"fmt"

	asyncrpc "github.com/behrlich/go-asyncrpc"
)

// TypeCode is a wire tag byte.
type TypeCode byte

const (
	TypeEmpty       TypeCode = 0x20
	TypeBool        TypeCode = 0x21
	TypeChar        TypeCode = 0x22
	TypeString      TypeCode = 0x23
	TypeInt8        TypeCode = 0x24
	TypeInt16       TypeCode = 0x25
	TypeInt32       TypeCode = 0x26
	TypeInt64       TypeCode = 0x27
	TypeUInt8       TypeCode = 0x28
	TypeUInt16      TypeCode = 0x29
	TypeUInt32      TypeCode = 0x2A
	TypeUInt64      TypeCode = 0x2B
	TypeShortFloat  TypeCode = 0x2C
	TypeMediumFloat TypeCode = 0x2D
	TypeLongFloat   TypeCode = 0x2E
	TypeBcdFloat    TypeCode = 0x2F
	TypeBinary2     TypeCode = 0x30
	TypeBinary4     TypeCode = 0x31
	TypeOther       TypeCode = 0x32
	TypeInt         TypeCode = 0x33

	// plain forms omit the member name
	plainOffset = 0x40

	TypePlainEmpty       TypeCode = TypeEmpty + plainOffset
	TypePlainBool        TypeCode = TypeBool + plainOffset
	TypePlainChar        TypeCode = TypeChar + plainOffset
	TypePlainString      TypeCode = TypeString + plainOffset
	TypePlainInt8        TypeCode = TypeInt8 + plainOffset
	TypePlainInt16       TypeCode = TypeInt16 + plainOffset
	TypePlainInt32       TypeCode = TypeInt32 + plainOffset
	TypePlainInt64       TypeCode = TypeInt64 + plainOffset
	TypePlainUInt8       TypeCode = TypeUInt8 + plainOffset
	TypePlainUInt16      TypeCode = TypeUInt16 + plainOffset
	TypePlainUInt32      TypeCode = TypeUInt32 + plainOffset
	TypePlainUInt64      TypeCode = TypeUInt64 + plainOffset
	TypePlainShortFloat  TypeCode = TypeShortFloat + plainOffset
	TypePlainMediumFloat TypeCode = TypeMediumFloat + plainOffset
	TypePlainLongFloat   TypeCode = TypeLongFloat + plainOffset
	TypePlainBcdFloat    TypeCode = TypeBcdFloat + plainOffset
	TypePlainBinary2     TypeCode = TypeBinary2 + plainOffset
	TypePlainBinary4     TypeCode = TypeBinary4 + plainOffset
	TypePlainOther       TypeCode = TypeOther + plainOffset
	TypePlainInt         TypeCode = TypeInt + plainOffset

	// category tags open composite values in standard form
	CategoryArray  TypeCode = 0xBD
	CategoryObject TypeCode = 0xBE

	// End closes composites, strings and empty values
	End byte = 0xFF

	// dictMarker introduces a two-byte dictionary index in place of a
	// literal string
	dictMarker byte = 0x01
)

// bcdDigits maps BCD nibbles to characters; nibble 0xF pads an odd tail.
const bcdDigits = "0123456789+-.: "

const (
	bcdNaN    byte = 0xF0
	bcdPosInf byte = 0xF1
	bcdNegInf byte = 0xF2
)

// typeName returns the well-known type name a fixed tag stands for, used
// for the element type token of composites.
func typeName(tc TypeCode) (string, error) {
	if tc >= TypeEmpty+plainOffset && tc <= TypeInt+plainOffset {
		tc -= plainOffset
	}
	switch tc {
	case TypeEmpty:
		return "", nil
	case TypeBool:
		return "bool", nil
	case TypeChar:
		return "char", nil
	case TypeString:
		return "string", nil
	case TypeInt, TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64:
		return "int", nil
	case TypeShortFloat, TypeMediumFloat, TypeLongFloat, TypeBcdFloat:
		return "double", nil
	case TypeBinary2, TypeBinary4:
		return "binary", nil
	}
	return "", asyncrpc.SerializationError(fmt.Sprintf("unknown serialization type code <0x%02x>", byte(tc)))
}

// Dictionary is the append-only string table shared by one direction of a
// connection.
type Dictionary struct {
	strings []string
	index   map[string]uint16
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{index: make(map[string]uint16)}
}

// Lookup returns the index of s if it was seen before.
func (d *Dictionary) Lookup(s string) (uint16, bool) {
	idx, ok := d.index[s]
	return idx, ok
}

// Add appends s unless present; the empty string is never stored. It
// reports whether s was newly added.
func (d *Dictionary) Add(s string) bool {
	if s == "" {
		return false
	}
	if _, ok := d.index[s]; ok {
		return false
	}
	if len(d.strings) > 0xFFFF {
		// table full: the string stays literal on the wire
		return false
	}
	d.index[s] = uint16(len(d.strings))
	d.strings = append(d.strings, s)
	return true
}

// At resolves a wire index.
func (d *Dictionary) At(idx uint16) (string, error) {
	if int(idx) >= len(d.strings) {
		return "", asyncrpc.SerializationError(fmt.Sprintf("invalid dictionary index %d", idx))
	}
	return d.strings[idx], nil
}

// Len returns the number of stored strings.
func (d *Dictionary) Len() int { return len(d.strings) }

// Reset drops all entries; used at explicit document boundaries only.
func (d *Dictionary) Reset() {
	d.strings = d.strings[:0]
	for k := range d.index {
		delete(d.index, k)
	}
}

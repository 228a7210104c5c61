package sinfo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	asyncrpc "github.com/behrlich/go-asyncrpc"
)

// Scalar setters. Each turns the node into a Value of the respective kind,
// dropping any members.

func (si *Info) setScalar(k Kind) {
	si.category = Value
	si.kind = k
	si.members = nil
}

func (si *Info) SetNull() {
	si.setScalar(Null)
}

func (si *Info) SetBool(v bool) {
	si.setScalar(Bool)
	si.b = v
}

func (si *Info) SetInt(v int64) {
	si.setScalar(Int)
	si.i = v
}

func (si *Info) SetUint(v uint64) {
	si.setScalar(Uint)
	si.u = v
}

func (si *Info) SetFloat(v float64) {
	si.setScalar(Float)
	si.f = v
}

func (si *Info) SetString(v string) {
	si.setScalar(String)
	si.s = v
}

func (si *Info) SetBytes(v []byte) {
	si.setScalar(Bytes)
	si.raw = v
}

func (si *Info) convErr(want string) error {
	return asyncrpc.ConversionError(fmt.Sprintf("cannot convert %s %s to %s", si.category, si.kind, want))
}

// Bool returns the scalar coerced to bool. Numbers coerce by non-zero
// test; the strings "", "0" and "false" read as false, "1" and "true" as
// true.
func (si *Info) Bool() (bool, error) {
	if si.category != Value {
		return false, si.convErr("bool")
	}
	switch si.kind {
	case Bool:
		return si.b, nil
	case Int:
		return si.i != 0, nil
	case Uint:
		return si.u != 0, nil
	case Float:
		return si.f != 0, nil
	case Null:
		return false, nil
	case String:
		switch strings.TrimSpace(si.s) {
		case "", "0", "false":
			return false, nil
		case "1", "true":
			return true, nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(si.s), 64); err == nil {
			return f != 0, nil
		}
	}
	return false, si.convErr("bool")
}

// Int returns the scalar coerced to int64. Unsigned and float sources are
// range-checked; floats must be integral; strings must parse exactly after
// surrounding whitespace is dropped.
func (si *Info) Int() (int64, error) {
	if si.category != Value {
		return 0, si.convErr("int")
	}
	switch si.kind {
	case Int:
		return si.i, nil
	case Uint:
		if si.u > math.MaxInt64 {
			return 0, asyncrpc.ConversionError(fmt.Sprintf("uint value %d overflows int64", si.u))
		}
		return int64(si.u), nil
	case Float:
		if si.f != math.Trunc(si.f) || si.f < math.MinInt64 || si.f >= math.MaxInt64 {
			return 0, asyncrpc.ConversionError(fmt.Sprintf("float value %v not representable as int64", si.f))
		}
		return int64(si.f), nil
	case Bool:
		if si.b {
			return 1, nil
		}
		return 0, nil
	case Null:
		return 0, nil
	case String:
		v, err := strconv.ParseInt(strings.TrimSpace(si.s), 10, 64)
		if err != nil {
			return 0, asyncrpc.ConversionError(fmt.Sprintf("string %q is not an integer", si.s))
		}
		return v, nil
	}
	return 0, si.convErr("int")
}

// Uint returns the scalar coerced to uint64. Negative sources fail.
func (si *Info) Uint() (uint64, error) {
	if si.category != Value {
		return 0, si.convErr("uint")
	}
	switch si.kind {
	case Uint:
		return si.u, nil
	case Int:
		if si.i < 0 {
			return 0, asyncrpc.ConversionError(fmt.Sprintf("negative value %d not representable as uint64", si.i))
		}
		return uint64(si.i), nil
	case Float:
		if si.f != math.Trunc(si.f) || si.f < 0 || si.f >= math.MaxUint64 {
			return 0, asyncrpc.ConversionError(fmt.Sprintf("float value %v not representable as uint64", si.f))
		}
		return uint64(si.f), nil
	case Bool:
		if si.b {
			return 1, nil
		}
		return 0, nil
	case Null:
		return 0, nil
	case String:
		v, err := strconv.ParseUint(strings.TrimSpace(si.s), 10, 64)
		if err != nil {
			return 0, asyncrpc.ConversionError(fmt.Sprintf("string %q is not an unsigned integer", si.s))
		}
		return v, nil
	}
	return 0, si.convErr("uint")
}

// Float returns the scalar coerced to float64.
func (si *Info) Float() (float64, error) {
	if si.category != Value {
		return 0, si.convErr("float")
	}
	switch si.kind {
	case Float:
		return si.f, nil
	case Int:
		return float64(si.i), nil
	case Uint:
		return float64(si.u), nil
	case Bool:
		if si.b {
			return 1, nil
		}
		return 0, nil
	case Null:
		return 0, nil
	case String:
		s := strings.TrimSpace(si.s)
		switch s {
		case "nan":
			return math.NaN(), nil
		case "inf":
			return math.Inf(1), nil
		case "-inf":
			return math.Inf(-1), nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, asyncrpc.ConversionError(fmt.Sprintf("string %q is not a number", si.s))
		}
		return v, nil
	}
	return 0, si.convErr("float")
}

// Str returns the scalar coerced to string. Numbers render in canonical
// decimal form with no locale; null renders as the empty string.
func (si *Info) Str() (string, error) {
	if si.category != Value {
		return "", si.convErr("string")
	}
	switch si.kind {
	case String:
		return si.s, nil
	case Bytes:
		return string(si.raw), nil
	case Bool:
		return strconv.FormatBool(si.b), nil
	case Int:
		return strconv.FormatInt(si.i, 10), nil
	case Uint:
		return strconv.FormatUint(si.u, 10), nil
	case Float:
		return formatFloat(si.f), nil
	case Null:
		return "", nil
	}
	return "", si.convErr("string")
}

// BytesValue returns the scalar as a byte string.
func (si *Info) BytesValue() ([]byte, error) {
	if si.category != Value {
		return nil, si.convErr("bytes")
	}
	switch si.kind {
	case Bytes:
		return si.raw, nil
	case String:
		return []byte(si.s), nil
	case Null:
		return nil, nil
	}
	return nil, si.convErr("bytes")
}

// formatFloat renders the canonical decimal form shared by all codecs.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

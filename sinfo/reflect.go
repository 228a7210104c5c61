package sinfo

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	asyncrpc "github.com/behrlich/go-asyncrpc"
)

// From converts a Go value into a tree. Scalars map onto Value nodes,
// slices and arrays onto Array nodes, structs onto Object nodes named by
// field (a `sinfo:"name"` tag overrides, "-" skips), and maps onto Arrays
// of {first,second} pair objects so that multi-valued and non-string keys
// survive. A *Info passes through as a deep copy.
func From(v any) (*Info, error) {
	si := New()
	if err := fillFrom(si, v); err != nil {
		return nil, err
	}
	return si, nil
}

func fillFrom(si *Info, v any) error {
	switch val := v.(type) {
	case nil:
		si.SetNull()
		return nil
	case *Info:
		cp := val.Clone()
		cp.name = si.name
		*si = *cp
		return nil
	case Info:
		return fillFrom(si, &val)
	case bool:
		si.SetBool(val)
		return nil
	case int:
		si.SetInt(int64(val))
		return nil
	case int8:
		si.SetInt(int64(val))
		return nil
	case int16:
		si.SetInt(int64(val))
		return nil
	case int32:
		si.SetInt(int64(val))
		return nil
	case int64:
		si.SetInt(val)
		return nil
	case uint:
		si.SetUint(uint64(val))
		return nil
	case uint8:
		si.SetUint(uint64(val))
		return nil
	case uint16:
		si.SetUint(uint64(val))
		return nil
	case uint32:
		si.SetUint(uint64(val))
		return nil
	case uint64:
		si.SetUint(val)
		return nil
	case float32:
		si.SetFloat(float64(val))
		return nil
	case float64:
		si.SetFloat(val)
		return nil
	case string:
		si.SetString(val)
		return nil
	case []byte:
		si.SetBytes(append([]byte(nil), val...))
		return nil
	}
	return fillFromReflect(si, reflect.ValueOf(v))
}

func fillFromReflect(si *Info, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			si.SetNull()
			return nil
		}
		return fillFromReflect(si, rv.Elem())

	case reflect.Bool:
		si.SetBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		si.SetInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		si.SetUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		si.SetFloat(rv.Float())
	case reflect.String:
		si.SetString(rv.String())

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			si.SetBytes(append([]byte(nil), rv.Bytes()...))
			return nil
		}
		si.SetCategory(Array)
		for i := 0; i < rv.Len(); i++ {
			if err := fillFromReflect(si.AddMember(""), rv.Index(i)); err != nil {
				return err
			}
		}

	case reflect.Map:
		si.SetCategory(Array)
		iter := rv.MapRange()
		for iter.Next() {
			pair := si.AddMember("")
			pair.SetTypeName("pair")
			if err := fillFromReflect(pair.AddMember("first"), iter.Key()); err != nil {
				return err
			}
			if err := fillFromReflect(pair.AddMember("second"), iter.Value()); err != nil {
				return err
			}
		}

	case reflect.Struct:
		si.SetCategory(Object)
		si.SetTypeName(rv.Type().Name())
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("sinfo"); ok {
				if tag == "-" {
					continue
				}
				name = tag
			}
			if err := fillFromReflect(si.AddMember(name), rv.Field(i)); err != nil {
				return err
			}
		}

	default:
		return asyncrpc.ConversionError(fmt.Sprintf("unsupported Go type %s", rv.Type()))
	}
	return nil
}

// To decodes a tree into the Go value dst points at, the reverse of From.
// Member lookup for struct fields is exact first, then case-insensitive.
func To(si *Info, dst any) error {
	if out, ok := dst.(**Info); ok {
		*out = si.Clone()
		return nil
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return asyncrpc.ConversionError("decode target must be a non-nil pointer")
	}
	return fillTo(si, rv.Elem())
}

func fillTo(si *Info, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer:
		if si.IsNull() {
			rv.SetZero()
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return fillTo(si, rv.Elem())

	case reflect.Bool:
		v, err := si.Bool()
		if err != nil {
			return err
		}
		rv.SetBool(v)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := si.Int()
		if err != nil {
			return err
		}
		if rv.OverflowInt(v) {
			return asyncrpc.ConversionError(fmt.Sprintf("value %d overflows %s", v, rv.Type()))
		}
		rv.SetInt(v)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := si.Uint()
		if err != nil {
			return err
		}
		if rv.OverflowUint(v) {
			return asyncrpc.ConversionError(fmt.Sprintf("value %d overflows %s", v, rv.Type()))
		}
		rv.SetUint(v)

	case reflect.Float32, reflect.Float64:
		v, err := si.Float()
		if err != nil {
			return err
		}
		if rv.Kind() == reflect.Float32 && !math.IsInf(v, 0) && math.Abs(v) > math.MaxFloat32 {
			return asyncrpc.ConversionError(fmt.Sprintf("value %v overflows float32", v))
		}
		rv.SetFloat(v)

	case reflect.String:
		v, err := si.Str()
		if err != nil {
			return err
		}
		rv.SetString(v)

	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b, err := si.BytesValue()
			if err != nil {
				return err
			}
			rv.SetBytes(append([]byte(nil), b...))
			return nil
		}
		if si.IsNull() {
			rv.SetZero()
			return nil
		}
		if si.Category() != Array {
			return asyncrpc.ConversionError(fmt.Sprintf("cannot decode %s into %s", si.Category(), rv.Type()))
		}
		out := reflect.MakeSlice(rv.Type(), si.MemberCount(), si.MemberCount())
		for i := 0; i < si.MemberCount(); i++ {
			if err := fillTo(si.MemberAt(i), out.Index(i)); err != nil {
				return err
			}
		}
		rv.Set(out)

	case reflect.Array:
		if si.Category() != Array || si.MemberCount() != rv.Len() {
			return asyncrpc.ConversionError(fmt.Sprintf("cannot decode %s into %s", si.Category(), rv.Type()))
		}
		for i := 0; i < rv.Len(); i++ {
			if err := fillTo(si.MemberAt(i), rv.Index(i)); err != nil {
				return err
			}
		}

	case reflect.Map:
		if si.Category() != Array && si.Category() != Object {
			return asyncrpc.ConversionError(fmt.Sprintf("cannot decode %s into %s", si.Category(), rv.Type()))
		}
		out := reflect.MakeMapWithSize(rv.Type(), si.MemberCount())
		for i := 0; i < si.MemberCount(); i++ {
			m := si.MemberAt(i)
			key := reflect.New(rv.Type().Key()).Elem()
			val := reflect.New(rv.Type().Elem()).Elem()
			if first := m.FindMember("first"); first != nil {
				// pair-object form produced by From
				if err := fillTo(first, key); err != nil {
					return err
				}
				second, err := m.Member("second")
				if err != nil {
					return err
				}
				if err := fillTo(second, val); err != nil {
					return err
				}
			} else {
				// object form: member name is the key
				if rv.Type().Key().Kind() != reflect.String {
					return asyncrpc.ConversionError("object members decode only into string-keyed maps")
				}
				key.SetString(m.Name())
				if err := fillTo(m, val); err != nil {
					return err
				}
			}
			out.SetMapIndex(key, val)
		}
		rv.Set(out)

	case reflect.Struct:
		if si.Category() != Object {
			return asyncrpc.ConversionError(fmt.Sprintf("cannot decode %s into struct %s", si.Category(), rv.Type()))
		}
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("sinfo"); ok {
				if tag == "-" {
					continue
				}
				name = tag
			}
			m := si.FindMember(name)
			if m == nil {
				m = findMemberFold(si, name)
			}
			if m == nil {
				continue
			}
			if err := fillTo(m, rv.Field(i)); err != nil {
				return err
			}
		}

	case reflect.Interface:
		if rv.Type().NumMethod() != 0 {
			return asyncrpc.ConversionError(fmt.Sprintf("cannot decode into %s", rv.Type()))
		}
		v, err := anyValue(si)
		if err != nil {
			return err
		}
		if v == nil {
			rv.SetZero()
		} else {
			rv.Set(reflect.ValueOf(v))
		}

	default:
		return asyncrpc.ConversionError(fmt.Sprintf("unsupported decode target %s", rv.Type()))
	}
	return nil
}

func findMemberFold(si *Info, name string) *Info {
	for i := 0; i < si.MemberCount(); i++ {
		if strings.EqualFold(si.MemberAt(i).Name(), name) {
			return si.MemberAt(i)
		}
	}
	return nil
}

// anyValue maps a node onto the natural untyped Go value.
func anyValue(si *Info) (any, error) {
	switch si.Category() {
	case Void:
		return nil, nil
	case Value:
		switch si.Kind() {
		case Null:
			return nil, nil
		case Bool:
			return si.Bool()
		case Int:
			return si.Int()
		case Uint:
			return si.Uint()
		case Float:
			return si.Float()
		case String:
			return si.Str()
		case Bytes:
			return si.BytesValue()
		}
	case Array:
		out := make([]any, 0, si.MemberCount())
		for i := 0; i < si.MemberCount(); i++ {
			v, err := anyValue(si.MemberAt(i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case Object:
		out := make(map[string]any, si.MemberCount())
		for i := 0; i < si.MemberCount(); i++ {
			m := si.MemberAt(i)
			v, err := anyValue(m)
			if err != nil {
				return nil, err
			}
			out[m.Name()] = v
		}
		return out, nil
	}
	return nil, asyncrpc.ConversionError("unsupported category")
}

// Package jsonc maps JSON documents onto sinfo trees and back, built on
// json-iterator for stream-friendly encode/decode.
package jsonc

import (
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/codec"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Formatter implements codec.Formatter writing JSON to a jsoniter stream.
// Member order of Object nodes is preserved.
type Formatter struct {
	stream *jsoniter.Stream
	counts []int // elements written per open composite
}

// NewFormatter wraps a jsoniter stream.
func NewFormatter(stream *jsoniter.Stream) *Formatter {
	return &Formatter{stream: stream}
}

// lead writes the separator and, inside an object, the member name.
func (f *Formatter) lead(name string) {
	if len(f.counts) == 0 {
		return
	}
	if f.counts[len(f.counts)-1] > 0 {
		f.stream.WriteMore()
	}
	f.counts[len(f.counts)-1]++
	if name != "" {
		f.stream.WriteObjectField(name)
	}
}

func (f *Formatter) AddNull(name string) error {
	f.lead(name)
	f.stream.WriteNil()
	return f.stream.Error
}

func (f *Formatter) AddBool(name string, v bool) error {
	f.lead(name)
	f.stream.WriteBool(v)
	return f.stream.Error
}

func (f *Formatter) AddInt(name string, v int64) error {
	f.lead(name)
	f.stream.WriteInt64(v)
	return f.stream.Error
}

func (f *Formatter) AddUint(name string, v uint64) error {
	f.lead(name)
	f.stream.WriteUint64(v)
	return f.stream.Error
}

func (f *Formatter) AddFloat(name string, v float64) error {
	f.lead(name)
	f.stream.WriteFloat64(v)
	return f.stream.Error
}

func (f *Formatter) AddString(name, typeName, v string) error {
	f.lead(name)
	f.stream.WriteString(v)
	return f.stream.Error
}

func (f *Formatter) AddBinary(name string, v []byte) error {
	// JSON has no byte-string kind; raw bytes travel as a string
	return f.AddString(name, "", string(v))
}

func (f *Formatter) BeginArray(name, typeName string) error {
	f.lead(name)
	f.stream.WriteArrayStart()
	f.counts = append(f.counts, 0)
	return f.stream.Error
}

func (f *Formatter) FinishArray() error {
	f.counts = f.counts[:len(f.counts)-1]
	f.stream.WriteArrayEnd()
	return f.stream.Error
}

func (f *Formatter) BeginObject(name, typeName string) error {
	f.lead(name)
	f.stream.WriteObjectStart()
	f.counts = append(f.counts, 0)
	return f.stream.Error
}

func (f *Formatter) FinishObject() error {
	f.counts = f.counts[:len(f.counts)-1]
	f.stream.WriteObjectEnd()
	return f.stream.Error
}

// Encode renders a tree as a JSON document.
func Encode(si *sinfo.Info) ([]byte, error) {
	stream := jsoniter.NewStream(json, nil, 256)
	if err := codec.Format(NewFormatter(stream), si); err != nil {
		return nil, err
	}
	if stream.Error != nil {
		return nil, asyncrpc.SerializationError(stream.Error.Error())
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

// EncodeTo renders a tree directly to a writer.
func EncodeTo(w io.Writer, si *sinfo.Info) error {
	stream := jsoniter.NewStream(json, w, 4096)
	if err := codec.Format(NewFormatter(stream), si); err != nil {
		return err
	}
	stream.Flush()
	if stream.Error != nil {
		return asyncrpc.SerializationError(stream.Error.Error())
	}
	return nil
}

// Decode parses one complete JSON document into a tree.
func Decode(data []byte) (*sinfo.Info, error) {
	iter := jsoniter.ParseBytes(json, data)
	si := sinfo.New()
	if err := readValue(iter, si); err != nil {
		return nil, err
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, asyncrpc.SerializationError(iter.Error.Error())
	}
	return si, nil
}

// Decoder reads consecutive JSON values from a stream, the read side of a
// JSON-over-TCP connection.
type Decoder struct {
	iter *jsoniter.Iterator
}

// NewDecoder wraps a reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{iter: jsoniter.Parse(json, r, 4096)}
}

// ReadValue parses the next value on the stream. io.EOF passes through
// unchanged so connection shutdown is distinguishable from bad input.
func (d *Decoder) ReadValue() (*sinfo.Info, error) {
	si := sinfo.New()

	// surface a clean EOF before touching the value
	if d.iter.WhatIsNext() == jsoniter.InvalidValue {
		if d.iter.Error == io.EOF || d.iter.Error == nil {
			return nil, io.EOF
		}
		return nil, asyncrpc.SerializationError(d.iter.Error.Error())
	}

	if err := readValue(d.iter, si); err != nil {
		return nil, err
	}
	return si, nil
}

func readValue(iter *jsoniter.Iterator, si *sinfo.Info) error {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		si.SetNull()

	case jsoniter.BoolValue:
		si.SetBool(iter.ReadBool())

	case jsoniter.NumberValue:
		num := string(iter.ReadNumber())
		if !strings.ContainsAny(num, ".eE") {
			if v, err := parseInt(num); err == nil {
				si.SetInt(v)
				break
			}
			if v, err := parseUint(num); err == nil {
				si.SetUint(v)
				break
			}
		}
		f, err := parseFloat(num)
		if err != nil {
			return asyncrpc.SerializationError("invalid JSON number " + num)
		}
		si.SetFloat(f)

	case jsoniter.StringValue:
		si.SetString(iter.ReadString())

	case jsoniter.ArrayValue:
		si.SetCategory(sinfo.Array)
		var cbErr error
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			cbErr = readValue(it, si.AddMember(""))
			return cbErr == nil
		})
		if cbErr != nil {
			return cbErr
		}

	case jsoniter.ObjectValue:
		si.SetCategory(sinfo.Object)
		var cbErr error
		iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
			cbErr = readValue(it, si.AddMember(field))
			return cbErr == nil
		})
		if cbErr != nil {
			return cbErr
		}

	default:
		if iter.Error != nil {
			return asyncrpc.SerializationError(iter.Error.Error())
		}
		return asyncrpc.SerializationError("invalid JSON value")
	}

	if iter.Error != nil && iter.Error != io.EOF {
		return asyncrpc.SerializationError(iter.Error.Error())
	}
	return nil
}

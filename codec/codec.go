// Package codec defines the contracts every codec shares: a Formatter that
// consumes a sinfo tree and emits encoded bytes, and a Deserializer that a
// streaming parser drives to rebuild a tree.
package codec

import (
	"fmt"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Formatter is the write side of a codec. Format drives it from a sinfo
// tree; codecs may also be driven directly.
type Formatter interface {
	AddNull(name string) error
	AddBool(name string, v bool) error
	AddInt(name string, v int64) error
	AddUint(name string, v uint64) error
	AddFloat(name string, v float64) error
	AddString(name, typeName, v string) error
	AddBinary(name string, v []byte) error

	BeginArray(name, typeName string) error
	FinishArray() error
	BeginObject(name, typeName string) error
	FinishObject() error
}

// Format walks a tree and feeds it to a formatter.
func Format(f Formatter, si *sinfo.Info) error {
	return formatNode(f, si, si.Name())
}

func formatNode(f Formatter, si *sinfo.Info, name string) error {
	switch si.Category() {
	case sinfo.Void:
		return f.AddNull(name)

	case sinfo.Value:
		switch si.Kind() {
		case sinfo.Null:
			return f.AddNull(name)
		case sinfo.Bool:
			v, _ := si.Bool()
			return f.AddBool(name, v)
		case sinfo.Int:
			v, _ := si.Int()
			return f.AddInt(name, v)
		case sinfo.Uint:
			v, _ := si.Uint()
			return f.AddUint(name, v)
		case sinfo.Float:
			v, _ := si.Float()
			return f.AddFloat(name, v)
		case sinfo.String:
			v, _ := si.Str()
			return f.AddString(name, si.TypeName(), v)
		case sinfo.Bytes:
			v, _ := si.BytesValue()
			return f.AddBinary(name, v)
		}
		return asyncrpc.SerializationError(fmt.Sprintf("unknown scalar kind %v", si.Kind()))

	case sinfo.Array:
		if err := f.BeginArray(name, si.TypeName()); err != nil {
			return err
		}
		for i := 0; i < si.MemberCount(); i++ {
			m := si.MemberAt(i)
			if err := formatNode(f, m, m.Name()); err != nil {
				return err
			}
		}
		return f.FinishArray()

	case sinfo.Object:
		if err := f.BeginObject(name, si.TypeName()); err != nil {
			return err
		}
		for i := 0; i < si.MemberCount(); i++ {
			m := si.MemberAt(i)
			if err := formatNode(f, m, m.Name()); err != nil {
				return err
			}
		}
		return f.FinishObject()
	}
	return asyncrpc.SerializationError(fmt.Sprintf("unknown category %v", si.Category()))
}

// Deserializer receives parse events. A parser calls the Set* methods on
// the node it is currently building; BeginMember/LeaveMember bracket each
// child of a composite value.
type Deserializer interface {
	SetCategory(c sinfo.Category)
	SetName(name string)
	SetTypeName(t string)

	SetNull()
	SetBool(v bool)
	SetInt(v int64)
	SetUint(v uint64)
	SetFloat(v float64)
	SetString(v string)
	SetBytes(v []byte)

	BeginMember(name string)
	LeaveMember()
}

// TreeBuilder is the standard Deserializer: it materializes the events
// into a sinfo tree.
type TreeBuilder struct {
	root  *sinfo.Info
	stack []*sinfo.Info
}

// NewTreeBuilder returns a builder with a fresh root node.
func NewTreeBuilder() *TreeBuilder {
	root := sinfo.New()
	return &TreeBuilder{root: root, stack: []*sinfo.Info{root}}
}

// Result returns the built tree.
func (b *TreeBuilder) Result() *sinfo.Info { return b.root }

func (b *TreeBuilder) current() *sinfo.Info { return b.stack[len(b.stack)-1] }

func (b *TreeBuilder) SetCategory(c sinfo.Category) { b.current().SetCategory(c) }
func (b *TreeBuilder) SetName(name string)          { b.current().SetName(name) }
func (b *TreeBuilder) SetTypeName(t string)         { b.current().SetTypeName(t) }

func (b *TreeBuilder) SetNull()            { b.current().SetNull() }
func (b *TreeBuilder) SetBool(v bool)      { b.current().SetBool(v) }
func (b *TreeBuilder) SetInt(v int64)      { b.current().SetInt(v) }
func (b *TreeBuilder) SetUint(v uint64)    { b.current().SetUint(v) }
func (b *TreeBuilder) SetFloat(v float64)  { b.current().SetFloat(v) }
func (b *TreeBuilder) SetString(v string)  { b.current().SetString(v) }
func (b *TreeBuilder) SetBytes(v []byte)   { b.current().SetBytes(v) }

func (b *TreeBuilder) BeginMember(name string) {
	b.stack = append(b.stack, b.current().AddMember(name))
}

func (b *TreeBuilder) LeaveMember() {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
}

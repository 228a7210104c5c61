// Package sinfo implements the dynamically typed value tree through which
// all RPC arguments and results, and all codecs, travel.
//
// A node is one of four categories: Void (freshly constructed), Value (a
// scalar), Array (ordered anonymous children) or Object (ordered named
// children, duplicates allowed). Scalars coerce on read where the
// conversion is lossless and fail with a conversion error where it is not.
package sinfo

import (
	"fmt"

	asyncrpc "github.com/behrlich/go-asyncrpc"
)

// Category describes the structural shape of a node.
type Category int

const (
	Void Category = iota
	Value
	Array
	Object
)

func (c Category) String() string {
	switch c {
	case Void:
		return "void"
	case Value:
		return "value"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Kind describes the scalar stored in a Value node.
type Kind int

const (
	Null Kind = iota
	Bool
	Int
	Uint
	Float
	String
	Bytes
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Uint:
		return "uint"
	case Float:
		return "float"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Info is a single node of the value tree. The zero value is a Void node.
type Info struct {
	category Category
	typeName string
	name     string

	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	raw  []byte

	members []*Info
}

// New returns an empty Void node.
func New() *Info {
	return &Info{}
}

// Category returns the node's structural category.
func (si *Info) Category() Category { return si.category }

// SetCategory forces the node's category. Codec drivers use this while
// building a tree; it does not clear existing members or the scalar.
func (si *Info) SetCategory(c Category) { si.category = c }

// TypeName returns the recorded domain type name, e.g. "Color".
func (si *Info) TypeName() string { return si.typeName }

// SetTypeName records the domain type name used by codecs that emit typed
// tags.
func (si *Info) SetTypeName(t string) { si.typeName = t }

// Name returns the node's member name within its parent ("" for array
// elements and roots).
func (si *Info) Name() string { return si.name }

// SetName sets the node's member name.
func (si *Info) SetName(n string) { si.name = n }

// Kind returns the scalar kind of a Value node. Only meaningful when
// Category() == Value.
func (si *Info) Kind() Kind { return si.kind }

// IsNull reports whether the node is Void or holds a null scalar.
func (si *Info) IsNull() bool {
	return si.category == Void || (si.category == Value && si.kind == Null)
}

// Clear resets the node to Void, dropping members and the scalar but
// keeping the name.
func (si *Info) Clear() {
	name := si.name
	*si = Info{name: name}
}

// MemberCount returns the number of children.
func (si *Info) MemberCount() int { return len(si.members) }

// MemberAt returns the i-th child. It panics when i is out of range, like
// a slice index.
func (si *Info) MemberAt(i int) *Info { return si.members[i] }

// AddMember appends a child with the given name and returns it. An empty
// name creates an anonymous array element. Appending never replaces: a
// duplicate name yields a second member, preserving multi-map content.
func (si *Info) AddMember(name string) *Info {
	child := &Info{name: name}
	si.members = append(si.members, child)

	// A node acquiring children leaves the scalar world.
	if si.category != Object && si.category != Array {
		if name == "" {
			si.category = Array
		} else {
			si.category = Object
		}
	}
	return child
}

// Member returns the first child with the given name. A dotted name
// descends the tree: Member("a.b.c") is Member("a").Member("b").Member("c"),
// with exact matches taking precedence over the split at every level.
func (si *Info) Member(name string) (*Info, error) {
	if m := si.FindMember(name); m != nil {
		return m, nil
	}
	return nil, asyncrpc.SerializationError(fmt.Sprintf("member %q not found", name))
}

// FindMember is the pointer-or-nil variant of Member.
func (si *Info) FindMember(name string) *Info {
	for _, m := range si.members {
		if m.name == name {
			return m
		}
	}

	// Dotted descent: try each split point left to right so that a
	// flat member "a.b" wins over nested a→b only when it exists.
	for i := 0; i < len(name); i++ {
		if name[i] != '.' {
			continue
		}
		head, rest := name[:i], name[i+1:]
		for _, m := range si.members {
			if m.name != head {
				continue
			}
			if sub := m.FindMember(rest); sub != nil {
				return sub
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the node.
func (si *Info) Clone() *Info {
	cp := *si
	if si.raw != nil {
		cp.raw = append([]byte(nil), si.raw...)
	}
	if si.members != nil {
		cp.members = make([]*Info, len(si.members))
		for i, m := range si.members {
			cp.members[i] = m.Clone()
		}
	}
	return &cp
}

// Equal reports deep equality: category, name, type name, scalar content
// and members in order. Scalars compare by kind and value.
func (si *Info) Equal(other *Info) bool {
	if si == nil || other == nil {
		return si == other
	}
	if si.category != other.category || si.name != other.name || si.typeName != other.typeName {
		return false
	}
	if si.category == Value {
		if si.kind != other.kind {
			return false
		}
		switch si.kind {
		case Bool:
			return si.b == other.b
		case Int:
			return si.i == other.i
		case Uint:
			return si.u == other.u
		case Float:
			return si.f == other.f
		case String:
			return si.s == other.s
		case Bytes:
			return string(si.raw) == string(other.raw)
		}
		return true
	}
	if len(si.members) != len(other.members) {
		return false
	}
	for i := range si.members {
		if !si.members[i].Equal(other.members[i]) {
			return false
		}
	}
	return true
}

func (si *Info) String() string {
	switch si.category {
	case Void:
		return "<void>"
	case Value:
		s, err := si.Str()
		if err != nil {
			return fmt.Sprintf("<%s>", si.kind)
		}
		return s
	default:
		return fmt.Sprintf("<%s n=%d type=%q>", si.category, len(si.members), si.typeName)
	}
}

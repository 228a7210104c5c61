package bin

import (
	"io"
	"math"
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/behrlich/go-asyncrpc/codec"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Serializer implements codec.Formatter for the binary format. Output
// accumulates in a pooled buffer; Bytes is valid until Release or Reset.
type Serializer struct {
	buf   *bytebufferpool.ByteBuffer
	dict  *Dictionary
	depth int
}

// NewSerializer returns a serializer writing through the given dictionary.
// A nil dictionary gets a private one that lives as long as the
// serializer; Write and Reset keep it.
func NewSerializer(dict *Dictionary) *Serializer {
	if dict == nil {
		dict = NewDictionary()
	}
	return &Serializer{
		buf:  bytebufferpool.Get(),
		dict: dict,
	}
}

// Write encodes one complete tree.
func (s *Serializer) Write(si *sinfo.Info) error {
	return codec.Format(s, si)
}

// Encode is the one-shot convenience: it encodes si with a private
// dictionary and returns a copied byte slice.
func Encode(si *sinfo.Info) ([]byte, error) {
	s := NewSerializer(nil)
	defer s.Release()
	if err := s.Write(si); err != nil {
		return nil, err
	}
	out := make([]byte, len(s.Bytes()))
	copy(out, s.Bytes())
	return out, nil
}

// Bytes returns the encoded output accumulated so far.
func (s *Serializer) Bytes() []byte { return s.buf.B }

// WriteTo flushes the accumulated output to w and resets the buffer.
func (s *Serializer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.buf.B)
	s.buf.Reset()
	return int64(n), err
}

// Reset drops buffered output, keeping the dictionary.
func (s *Serializer) Reset() { s.buf.Reset() }

// Release returns the buffer to the pool; the serializer must not be used
// afterwards.
func (s *Serializer) Release() {
	bytebufferpool.Put(s.buf)
	s.buf = nil
}

// plain reports whether the next value goes out in plain (nameless) form:
// anonymous members of a composite.
func (s *Serializer) plain(name string) bool {
	return s.depth > 0 && name == ""
}

// tag writes the type tag and, in standard form, the name token.
func (s *Serializer) tag(tc TypeCode, name string) {
	if s.plain(name) {
		s.buf.B = append(s.buf.B, byte(tc+plainOffset))
		return
	}
	s.buf.B = append(s.buf.B, byte(tc))
	s.writeString(name)
}

// writeString emits a dictionary-eligible string token: a back-reference
// when known, otherwise the literal zero-terminated bytes.
func (s *Serializer) writeString(v string) {
	if idx, ok := s.dict.Lookup(v); ok {
		s.buf.B = append(s.buf.B, dictMarker, byte(idx>>8), byte(idx))
		return
	}
	s.dict.Add(v)
	s.buf.B = append(s.buf.B, v...)
	s.buf.B = append(s.buf.B, 0)
}

func (s *Serializer) AddNull(name string) error {
	s.tag(TypeEmpty, name)
	s.buf.B = append(s.buf.B, End)
	return nil
}

func (s *Serializer) AddBool(name string, v bool) error {
	s.tag(TypeBool, name)
	if v {
		s.buf.B = append(s.buf.B, 1)
	} else {
		s.buf.B = append(s.buf.B, 0)
	}
	return nil
}

func (s *Serializer) AddInt(name string, v int64) error {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		s.tag(TypeInt8, name)
		s.buf.B = append(s.buf.B, byte(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		s.tag(TypeInt16, name)
		s.buf.B = append(s.buf.B, byte(v>>8), byte(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		s.tag(TypeInt32, name)
		s.buf.B = append(s.buf.B, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		s.tag(TypeInt64, name)
		s.buf.B = append(s.buf.B,
			byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return nil
}

func (s *Serializer) AddUint(name string, v uint64) error {
	switch {
	case v <= math.MaxUint8:
		s.tag(TypeUInt8, name)
		s.buf.B = append(s.buf.B, byte(v))
	case v <= math.MaxUint16:
		s.tag(TypeUInt16, name)
		s.buf.B = append(s.buf.B, byte(v>>8), byte(v))
	case v <= math.MaxUint32:
		s.tag(TypeUInt32, name)
		s.buf.B = append(s.buf.B, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		s.tag(TypeUInt64, name)
		s.buf.B = append(s.buf.B,
			byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return nil
}

func (s *Serializer) AddFloat(name string, v float64) error {
	form := floatForm(v)
	s.tag(form, name)
	switch form {
	case TypeShortFloat:
		s.buf.B = appendShortFloat(s.buf.B, v)
	case TypeMediumFloat:
		s.buf.B = appendMediumFloat(s.buf.B, v)
	default:
		s.buf.B = appendLongFloat(s.buf.B, v)
	}
	return nil
}

// AddBcdFloat writes v in the packed-decimal form. Finite values are
// rendered in positional notation, never with an exponent.
func (s *Serializer) AddBcdFloat(name string, v float64) error {
	str := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsNaN(v) {
		str = "nan"
	} else if math.IsInf(v, 1) {
		str = "inf"
	} else if math.IsInf(v, -1) {
		str = "-inf"
	}
	s.tag(TypeBcdFloat, name)
	s.buf.B = appendBcd(s.buf.B, str)
	return nil
}

func (s *Serializer) AddString(name, typeName, v string) error {
	if typeName != "" {
		s.tag(TypeOther, name)
		s.writeString(typeName)
	} else {
		s.tag(TypeString, name)
	}
	s.buf.B = append(s.buf.B, v...)
	s.buf.B = append(s.buf.B, 0, End)
	return nil
}

func (s *Serializer) AddBinary(name string, v []byte) error {
	if len(v) <= math.MaxUint16 {
		s.tag(TypeBinary2, name)
		s.buf.B = append(s.buf.B, byte(len(v)>>8), byte(len(v)))
	} else {
		s.tag(TypeBinary4, name)
		s.buf.B = append(s.buf.B,
			byte(len(v)>>24), byte(len(v)>>16), byte(len(v)>>8), byte(len(v)))
	}
	if len(v) == 0 {
		// the zero-length form carries the value terminator instead
		s.buf.B = append(s.buf.B, End)
		return nil
	}
	s.buf.B = append(s.buf.B, v...)
	return nil
}

func (s *Serializer) beginComposite(cat TypeCode, name, typeName string) {
	s.buf.B = append(s.buf.B, byte(cat))
	s.writeString(name)
	if typeName == "" {
		s.buf.B = append(s.buf.B, byte(TypeEmpty))
	} else {
		s.buf.B = append(s.buf.B, byte(TypePlainOther))
		s.writeString(typeName)
	}
	s.depth++
}

func (s *Serializer) BeginArray(name, typeName string) error {
	s.beginComposite(CategoryArray, name, typeName)
	return nil
}

func (s *Serializer) FinishArray() error {
	s.depth--
	s.buf.B = append(s.buf.B, End)
	return nil
}

func (s *Serializer) BeginObject(name, typeName string) error {
	s.beginComposite(CategoryObject, name, typeName)
	return nil
}

func (s *Serializer) FinishObject() error {
	s.depth--
	s.buf.B = append(s.buf.B, End)
	return nil
}

package bin

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/codec"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

func roundTrip(t *testing.T, si *sinfo.Info) *sinfo.Info {
	t.Helper()
	data, err := Encode(si)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	return out
}

func TestScalarRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		set  func(*sinfo.Info)
	}{
		{"null", func(si *sinfo.Info) { si.SetNull() }},
		{"true", func(si *sinfo.Info) { si.SetBool(true) }},
		{"false", func(si *sinfo.Info) { si.SetBool(false) }},
		{"small int", func(si *sinfo.Info) { si.SetInt(42) }},
		{"negative int", func(si *sinfo.Info) { si.SetInt(-300) }},
		{"int32 range", func(si *sinfo.Info) { si.SetInt(-2000000000) }},
		{"int64 range", func(si *sinfo.Info) { si.SetInt(math.MinInt64) }},
		{"uint8", func(si *sinfo.Info) { si.SetUint(200) }},
		{"uint64 max", func(si *sinfo.Info) { si.SetUint(math.MaxUint64) }},
		{"string", func(si *sinfo.Info) { si.SetString("hello world") }},
		{"empty string", func(si *sinfo.Info) { si.SetString("") }},
		{"utf8 string", func(si *sinfo.Info) { si.SetString("\xEF\xBB\xBF'\"&<> foo?") }},
		{"bytes", func(si *sinfo.Info) { si.SetBytes([]byte{0, 1, 2, 0xFF, 0}) }},
		{"float half", func(si *sinfo.Info) { si.SetFloat(0.5) }},
		{"float pi", func(si *sinfo.Info) { si.SetFloat(math.Pi) }},
		{"float negative", func(si *sinfo.Info) { si.SetFloat(-1234.5625) }},
		{"float tiny", func(si *sinfo.Info) { si.SetFloat(math.SmallestNonzeroFloat64) }},
		{"float huge", func(si *sinfo.Info) { si.SetFloat(math.MaxFloat64) }},
		{"float zero", func(si *sinfo.Info) { si.SetFloat(0) }},
		{"float +inf", func(si *sinfo.Info) { si.SetFloat(math.Inf(1)) }},
		{"float -inf", func(si *sinfo.Info) { si.SetFloat(math.Inf(-1)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			si := sinfo.New()
			tt.set(si)
			out := roundTrip(t, si)
			require.True(t, si.Equal(out), "want %v got %v", si, out)
		})
	}
}

func TestNaNRoundTrip(t *testing.T) {
	si := sinfo.New()
	si.SetFloat(math.NaN())
	data, err := Encode(si)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	f, err := out.Float()
	require.NoError(t, err)
	require.True(t, math.IsNaN(f))
}

func TestFloatFormSelection(t *testing.T) {
	// 0.5 has an empty mantissa tail: 3-byte short form after the tag
	si := sinfo.New()
	si.SetFloat(0.5)
	data, err := Encode(si)
	require.NoError(t, err)
	// plain would be shorter, but the top-level value is named: tag + "\0" + 3
	require.Equal(t, 1+1+3, len(data))

	// pi needs the full mantissa: long form, 10 bytes
	si.SetFloat(math.Pi)
	data, err = Encode(si)
	require.NoError(t, err)
	require.Equal(t, 1+1+10, len(data))
}

func TestCompositeRoundTrip(t *testing.T) {
	si := sinfo.New()
	si.SetTypeName("Color")
	si.AddMember("r").SetInt(2)
	si.AddMember("g").SetInt(3)
	si.AddMember("b").SetInt(4)

	out := roundTrip(t, si)
	require.True(t, si.Equal(out), "want %v got %v", si, out)
}

func TestNestedRoundTrip(t *testing.T) {
	si := sinfo.New()
	arr := si.AddMember("colors")
	for i := 0; i < 3; i++ {
		c := arr.AddMember("")
		c.SetTypeName("Color")
		c.AddMember("r").SetInt(int64(i))
		c.AddMember("g").SetInt(int64(i * 2))
		c.AddMember("b").SetInt(int64(i * 3))
	}
	si.AddMember("count").SetUint(3)
	si.AddMember("label").SetString("nested")

	out := roundTrip(t, si)
	require.True(t, si.Equal(out), "want %v got %v", si, out)
}

func TestEmptyArrayRoundTrip(t *testing.T) {
	si := sinfo.New()
	si.SetCategory(sinfo.Array)

	out := roundTrip(t, si)
	require.Equal(t, sinfo.Array, out.Category())
	require.Equal(t, 0, out.MemberCount())
}

func TestDictionaryCompression(t *testing.T) {
	build := func() *sinfo.Info {
		si := sinfo.New()
		for i := 0; i < 2; i++ {
			c := si.AddMember("")
			c.SetTypeName("Color")
			c.AddMember("red").SetInt(1)
			c.AddMember("green").SetInt(2)
			c.AddMember("blue").SetInt(3)
		}
		return si
	}

	dict := NewDictionary()
	s := NewSerializer(dict)
	defer s.Release()
	require.NoError(t, s.Write(build()))
	withDict := len(s.Bytes())

	// the second element's names must be 3-byte references, not literals
	require.Greater(t, dict.Len(), 0)
	single := sinfo.New()
	c := single.AddMember("")
	c.SetTypeName("Color")
	c.AddMember("red").SetInt(1)
	c.AddMember("green").SetInt(2)
	c.AddMember("blue").SetInt(3)
	oneData, err := Encode(single)
	require.NoError(t, err)
	require.Less(t, withDict, 2*len(oneData))

	// and the compressed document still parses back to the same tree
	out, err := Decode(append([]byte(nil), s.Bytes()...))
	require.NoError(t, err)
	require.True(t, build().Equal(out))
}

func TestDictionaryPersistsAcrossDocuments(t *testing.T) {
	si := sinfo.New()
	si.AddMember("alpha").SetInt(1)
	si.AddMember("beta").SetInt(2)

	outDict := NewDictionary()
	inDict := NewDictionary()

	// first document carries the literals
	s1 := NewSerializer(outDict)
	defer s1.Release()
	require.NoError(t, s1.Write(si))
	first := append([]byte(nil), s1.Bytes()...)

	// second document refers back into the dictionary
	s2 := NewSerializer(outDict)
	defer s2.Release()
	require.NoError(t, s2.Write(si))
	second := append([]byte(nil), s2.Bytes()...)
	require.Less(t, len(second), len(first))

	for _, doc := range [][]byte{first, second} {
		b := codec.NewTreeBuilder()
		p := NewParser(inDict)
		p.Begin(b, false)
		n, done, err := p.Advance(doc)
		require.NoError(t, err)
		require.True(t, done)
		require.Equal(t, len(doc), n)
		require.True(t, si.Equal(b.Result()))
	}
}

func TestInvalidDictionaryIndex(t *testing.T) {
	// named int8 referencing dictionary entry 7 of an empty dictionary
	data := []byte{byte(TypeInt8), dictMarker, 0x00, 0x07, 0x2A}
	_, err := Decode(data)
	require.True(t, asyncrpc.IsCode(err, asyncrpc.CodeSerialization), "got %v", err)
}

func TestInvalidTypeCode(t *testing.T) {
	_, err := Decode([]byte{0x13})
	require.True(t, asyncrpc.IsCode(err, asyncrpc.CodeSerialization), "got %v", err)
}

func TestIncrementalAdvance(t *testing.T) {
	si := sinfo.New()
	si.SetTypeName("Color")
	si.AddMember("r").SetInt(200)
	si.AddMember("g").SetInt(300)
	si.AddMember("b").SetString("deep blue")

	data, err := Encode(si)
	require.NoError(t, err)

	// feed the document one byte at a time; completion must be reported
	// exactly once, on the final byte
	b := codec.NewTreeBuilder()
	p := NewParser(nil)
	p.Begin(b, true)
	for i, c := range data {
		n, done, err := p.Advance([]byte{c})
		require.NoError(t, err, "byte %d", i)
		require.Equal(t, 1, n)
		if i < len(data)-1 {
			require.False(t, done, "byte %d of %d", i, len(data))
		} else {
			require.True(t, done)
		}
	}
	require.True(t, si.Equal(b.Result()))
}

func TestAdvanceStopsAtValueBoundary(t *testing.T) {
	si := sinfo.New()
	si.SetInt(7)
	data, err := Encode(si)
	require.NoError(t, err)

	// two documents back to back: the first Advance must not consume
	// bytes of the second
	both := append(append([]byte(nil), data...), data...)
	b := codec.NewTreeBuilder()
	p := NewParser(nil)
	p.Begin(b, true)
	n, done, err := p.Advance(both)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, len(data), n)
}

func TestGenericIntTag(t *testing.T) {
	// hand-built: plain generic int, textual payload
	data := []byte{byte(TypePlainInt)}
	data = append(data, "-1234"...)
	data = append(data, 0, End)

	out, err := Decode(data)
	require.NoError(t, err)
	v, err := out.Int()
	require.NoError(t, err)
	require.Equal(t, int64(-1234), v)
}

func TestCharTag(t *testing.T) {
	data := []byte{byte(TypePlainChar), 'x'}
	out, err := Decode(data)
	require.NoError(t, err)
	s, err := out.Str()
	require.NoError(t, err)
	require.Equal(t, "x", s)
}

func TestBcd(t *testing.T) {
	tests := []float64{0, 1, -1, 3.25, 1234.5, -0.125}

	for _, v := range tests {
		s := NewSerializer(nil)
		require.NoError(t, s.AddBcdFloat("", v))
		data := append([]byte(nil), s.Bytes()...)
		s.Release()

		out, err := Decode(data)
		require.NoError(t, err)
		f, err := out.Float()
		require.NoError(t, err)
		require.Equal(t, v, f, "bcd round trip of %v", v)
	}
}

func TestBcdSpecials(t *testing.T) {
	for _, v := range []float64{math.Inf(1), math.Inf(-1)} {
		s := NewSerializer(nil)
		require.NoError(t, s.AddBcdFloat("x", v))
		data := append([]byte(nil), s.Bytes()...)
		s.Release()

		out, err := Decode(data)
		require.NoError(t, err)
		f, err := out.Float()
		require.NoError(t, err)
		require.Equal(t, v, f)
	}

	s := NewSerializer(nil)
	require.NoError(t, s.AddBcdFloat("x", math.NaN()))
	data := append([]byte(nil), s.Bytes()...)
	s.Release()
	out, err := Decode(data)
	require.NoError(t, err)
	f, err := out.Float()
	require.NoError(t, err)
	require.True(t, math.IsNaN(f))
}

func TestTypedStringRoundTrip(t *testing.T) {
	si := sinfo.New()
	si.SetString("#ff0000")
	si.SetTypeName("rgb")

	out := roundTrip(t, si)
	require.Equal(t, "rgb", out.TypeName())
	s, err := out.Str()
	require.NoError(t, err)
	require.Equal(t, "#ff0000", s)
}

func TestLargeBinary(t *testing.T) {
	big := make([]byte, 70000)
	for i := range big {
		big[i] = byte(i)
	}
	si := sinfo.New()
	si.SetBytes(big)

	out := roundTrip(t, si)
	b, err := out.BytesValue()
	require.NoError(t, err)
	require.Equal(t, big, b)
}

func TestTruncatedDocument(t *testing.T) {
	si := sinfo.New()
	si.AddMember("x").SetInt(1)
	data, err := Encode(si)
	require.NoError(t, err)

	_, err = Decode(data[:len(data)-1])
	require.True(t, asyncrpc.IsCode(err, asyncrpc.CodeSerialization), "got %v", err)
}

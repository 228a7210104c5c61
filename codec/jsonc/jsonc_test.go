package jsonc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-asyncrpc/sinfo"
)

func TestEncodeScalars(t *testing.T) {
	tests := []struct {
		name string
		set  func(*sinfo.Info)
		want string
	}{
		{"null", func(si *sinfo.Info) { si.SetNull() }, "null"},
		{"bool", func(si *sinfo.Info) { si.SetBool(true) }, "true"},
		{"int", func(si *sinfo.Info) { si.SetInt(-17) }, "-17"},
		{"uint", func(si *sinfo.Info) { si.SetUint(17) }, "17"},
		{"string", func(si *sinfo.Info) { si.SetString("hi") }, `"hi"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			si := sinfo.New()
			tt.set(si)
			data, err := Encode(si)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(data))
		})
	}
}

func TestEncodeComposite(t *testing.T) {
	si := sinfo.New()
	si.AddMember("r").SetInt(2)
	si.AddMember("g").SetInt(3)
	si.AddMember("list").AddMember("").SetString("x")

	data, err := Encode(si)
	require.NoError(t, err)
	require.Equal(t, `{"r":2,"g":3,"list":["x"]}`, string(data))
}

func TestDecode(t *testing.T) {
	si, err := Decode([]byte(`{"method":"multiply","params":[2,3.5,"x",null,true],"id":7}`))
	require.NoError(t, err)

	m, err := si.Member("method")
	require.NoError(t, err)
	s, err := m.Str()
	require.NoError(t, err)
	require.Equal(t, "multiply", s)

	params, err := si.Member("params")
	require.NoError(t, err)
	require.Equal(t, sinfo.Array, params.Category())
	require.Equal(t, 5, params.MemberCount())

	require.Equal(t, sinfo.Int, params.MemberAt(0).Kind())
	require.Equal(t, sinfo.Float, params.MemberAt(1).Kind())
	require.Equal(t, sinfo.String, params.MemberAt(2).Kind())
	require.True(t, params.MemberAt(3).IsNull())
	require.Equal(t, sinfo.Bool, params.MemberAt(4).Kind())
}

func TestRoundTrip(t *testing.T) {
	si := sinfo.New()
	si.AddMember("r").SetInt(6)
	si.AddMember("g").SetInt(12)
	si.AddMember("b").SetInt(20)

	data, err := Encode(si)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)

	for _, name := range []string{"r", "g", "b"} {
		a, err := si.Member(name)
		require.NoError(t, err)
		b, err := out.Member(name)
		require.NoError(t, err)
		av, _ := a.Int()
		bv, _ := b.Int()
		require.Equal(t, av, bv)
	}
}

func TestUnicodeStringRoundTrip(t *testing.T) {
	raw := "\xEF\xBB\xBF'\"&<> foo?"
	si := sinfo.New()
	si.SetString(raw)

	data, err := Encode(si)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	s, err := out.Str()
	require.NoError(t, err)
	require.Equal(t, raw, s)
}

func TestLargeUintSurvives(t *testing.T) {
	si, err := Decode([]byte("18446744073709551615"))
	require.NoError(t, err)
	u, err := si.Uint()
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), u)
}

func TestDecoderStream(t *testing.T) {
	d := NewDecoder(strings.NewReader(`{"a":1} {"a":2}`))

	first, err := d.ReadValue()
	require.NoError(t, err)
	v, err := first.Member("a")
	require.NoError(t, err)
	i, _ := v.Int()
	require.Equal(t, int64(1), i)

	second, err := d.ReadValue()
	require.NoError(t, err)
	v, err = second.Member("a")
	require.NoError(t, err)
	i, _ = v.Int()
	require.Equal(t, int64(2), i)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"a":`))
	require.Error(t, err)
}

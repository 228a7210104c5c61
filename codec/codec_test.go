package codec

import (
	"testing"

	"github.com/behrlich/go-asyncrpc/sinfo"
)

// recordingFormatter captures the walk order of Format.
type recordingFormatter struct {
	events []string
}

func (f *recordingFormatter) add(e string) error {
	f.events = append(f.events, e)
	return nil
}

func (f *recordingFormatter) AddNull(name string) error  { return f.add("null:" + name) }
func (f *recordingFormatter) AddBool(name string, v bool) error {
	return f.add("bool:" + name)
}
func (f *recordingFormatter) AddInt(name string, v int64) error {
	return f.add("int:" + name)
}
func (f *recordingFormatter) AddUint(name string, v uint64) error {
	return f.add("uint:" + name)
}
func (f *recordingFormatter) AddFloat(name string, v float64) error {
	return f.add("float:" + name)
}
func (f *recordingFormatter) AddString(name, typeName, v string) error {
	return f.add("string:" + name)
}
func (f *recordingFormatter) AddBinary(name string, v []byte) error {
	return f.add("binary:" + name)
}
func (f *recordingFormatter) BeginArray(name, typeName string) error {
	return f.add("beginArray:" + name)
}
func (f *recordingFormatter) FinishArray() error { return f.add("finishArray") }
func (f *recordingFormatter) BeginObject(name, typeName string) error {
	return f.add("beginObject:" + name)
}
func (f *recordingFormatter) FinishObject() error { return f.add("finishObject") }

func TestFormatWalkOrder(t *testing.T) {
	si := sinfo.New()
	si.AddMember("n").SetInt(1)
	list := si.AddMember("list")
	list.AddMember("").SetString("x")
	list.AddMember("").SetBool(true)

	f := &recordingFormatter{}
	if err := Format(f, si); err != nil {
		t.Fatalf("Format: %v", err)
	}

	want := []string{
		"beginObject:",
		"int:n",
		"beginArray:list",
		"string:",
		"bool:",
		"finishArray",
		"finishObject",
	}
	if len(f.events) != len(want) {
		t.Fatalf("events %v, want %v", f.events, want)
	}
	for i := range want {
		if f.events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, f.events[i], want[i])
		}
	}
}

func TestTreeBuilderNesting(t *testing.T) {
	b := NewTreeBuilder()
	b.SetCategory(sinfo.Object)
	b.BeginMember("outer")
	b.SetCategory(sinfo.Object)
	b.BeginMember("inner")
	b.SetInt(5)
	b.LeaveMember()
	b.LeaveMember()

	root := b.Result()
	m, err := root.Member("outer.inner")
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	v, err := m.Int()
	if err != nil || v != 5 {
		t.Errorf("inner value = %d,%v, want 5", v, err)
	}
}

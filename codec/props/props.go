// Package props reads and writes properties documents. Parsing follows
// the common dialect: '=' or ':' separators, '#' and '!' line comments,
// trailing-backslash line continuation and \uXXXX escapes. Dotted keys
// are coerced into nested objects, so a flat document and the equivalent
// nested tree are interchangeable.
package props

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Decode parses a properties document into a nested tree.
func Decode(data []byte) (*sinfo.Info, error) {
	root := sinfo.New()
	root.SetCategory(sinfo.Object)

	lines := splitLogicalLines(string(data))
	for n, line := range lines {
		trimmed := strings.TrimLeft(line, " \t\f")
		if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '!' {
			continue
		}

		key, value, err := splitKeyValue(trimmed)
		if err != nil {
			return nil, asyncrpc.SerializationError(fmt.Sprintf("line %d: %v", n+1, err))
		}
		if key == "" {
			return nil, asyncrpc.SerializationError(fmt.Sprintf("line %d: empty key", n+1))
		}
		insert(root, key, value)
	}
	return root, nil
}

// splitLogicalLines joins continuation lines: a line ending in an odd
// number of backslashes continues on the next line, whose leading
// whitespace is dropped.
func splitLogicalLines(s string) []string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	var out []string
	for i := 0; i < len(raw); i++ {
		line := raw[i]
		for endsWithContinuation(line) && i+1 < len(raw) {
			i++
			line = line[:len(line)-1] + strings.TrimLeft(raw[i], " \t\f")
		}
		out = append(out, line)
	}
	return out
}

func endsWithContinuation(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// splitKeyValue scans the key up to the first unescaped separator and
// unescapes both halves.
func splitKeyValue(line string) (string, string, error) {
	var key strings.Builder
	i := 0
	for i < len(line) {
		c := line[i]
		if c == '\\' && i+1 < len(line) {
			key.WriteByte(c)
			key.WriteByte(line[i+1])
			i += 2
			continue
		}
		if c == '=' || c == ':' || c == ' ' || c == '\t' || c == '\f' {
			break
		}
		key.WriteByte(c)
		i++
	}

	// skip whitespace and at most one separator before the value
	sawSep := false
	for i < len(line) {
		c := line[i]
		if c == ' ' || c == '\t' || c == '\f' {
			i++
			continue
		}
		if (c == '=' || c == ':') && !sawSep {
			sawSep = true
			i++
			continue
		}
		break
	}

	k, err := unescape(key.String())
	if err != nil {
		return "", "", err
	}
	v, err := unescape(line[i:])
	if err != nil {
		return "", "", err
	}
	return k, v, nil
}

func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case 'f':
			out.WriteByte('\f')
		case 'u':
			if i+4 >= len(s) {
				return "", fmt.Errorf("truncated \\u escape")
			}
			code, err := strconv.ParseUint(s[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("invalid \\u escape %q", s[i+1:i+5])
			}
			out.WriteRune(rune(code))
			i += 4
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String(), nil
}

// insert places value under the dotted key, creating intermediate objects
// and reusing existing ones. A repeated leaf overwrites.
func insert(root *sinfo.Info, key, value string) {
	cur := root
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next := directMember(cur, part)
		if next == nil || next.Category() == sinfo.Value {
			next = cur.AddMember(part)
		}
		cur = next
	}
	leaf := parts[len(parts)-1]
	if m := directMember(cur, leaf); m != nil && m.Category() == sinfo.Value {
		m.SetString(value)
		return
	}
	cur.AddMember(leaf).SetString(value)
}

// directMember looks up an immediate child without dotted descent.
func directMember(si *sinfo.Info, name string) *sinfo.Info {
	for i := 0; i < si.MemberCount(); i++ {
		if si.MemberAt(i).Name() == name {
			return si.MemberAt(i)
		}
	}
	return nil
}

// Encode flattens a tree back into dotted-key lines. Array elements get
// numeric indices.
func Encode(si *sinfo.Info) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeNode(&buf, "", si); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNode(buf *bytes.Buffer, prefix string, si *sinfo.Info) error {
	switch si.Category() {
	case sinfo.Void:
		return nil

	case sinfo.Value:
		v, err := si.Str()
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, "%s=%s\n", escapeKeyless(prefix), escapeValue(v))
		return nil

	case sinfo.Array:
		for i := 0; i < si.MemberCount(); i++ {
			if err := encodeNode(buf, joinKey(prefix, strconv.Itoa(i)), si.MemberAt(i)); err != nil {
				return err
			}
		}
		return nil

	case sinfo.Object:
		for i := 0; i < si.MemberCount(); i++ {
			m := si.MemberAt(i)
			if err := encodeNode(buf, joinKey(prefix, m.Name()), m); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func escapeKeyless(s string) string {
	var out strings.Builder
	for _, r := range s {
		switch r {
		case '=', ':', ' ', '\t', '\\', '#', '!':
			out.WriteByte('\\')
			out.WriteRune(r)
		case '\n':
			out.WriteString(`\n`)
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

func escapeValue(s string) string {
	var out strings.Builder
	for _, r := range s {
		switch {
		case r == '\\':
			out.WriteString(`\\`)
		case r == '\n':
			out.WriteString(`\n`)
		case r == '\r':
			out.WriteString(`\r`)
		case r == '\t':
			out.WriteString(`\t`)
		case r < 0x20 || r == utf8.RuneError:
			fmt.Fprintf(&out, `\u%04X`, r)
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

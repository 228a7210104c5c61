// Package xmlc maps the XML-RPC value grammar onto sinfo trees: scalar
// element tags, <array><data> sequences and <struct><member> objects.
package xmlc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Encode renders a tree as one <value> element.
func Encode(si *sinfo.Info) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, si); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo renders a tree as one <value> element to w.
func EncodeTo(w io.Writer, si *sinfo.Info) error {
	var buf bytes.Buffer
	if err := encodeValue(&buf, si); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func escape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func encodeValue(buf *bytes.Buffer, si *sinfo.Info) error {
	buf.WriteString("<value>")
	switch si.Category() {
	case sinfo.Void:
		buf.WriteString("<nil/>")

	case sinfo.Value:
		switch si.Kind() {
		case sinfo.Null:
			buf.WriteString("<nil/>")
		case sinfo.Bool:
			v, _ := si.Bool()
			if v {
				buf.WriteString("<boolean>1</boolean>")
			} else {
				buf.WriteString("<boolean>0</boolean>")
			}
		case sinfo.Int:
			v, _ := si.Int()
			fmt.Fprintf(buf, "<int>%d</int>", v)
		case sinfo.Uint:
			v, _ := si.Uint()
			fmt.Fprintf(buf, "<int>%d</int>", v)
		case sinfo.Float:
			v, _ := si.Float()
			fmt.Fprintf(buf, "<double>%s</double>", strconv.FormatFloat(v, 'g', -1, 64))
		case sinfo.String:
			v, _ := si.Str()
			buf.WriteString("<string>")
			buf.WriteString(escape(v))
			buf.WriteString("</string>")
		case sinfo.Bytes:
			v, _ := si.BytesValue()
			buf.WriteString("<base64>")
			buf.WriteString(base64.StdEncoding.EncodeToString(v))
			buf.WriteString("</base64>")
		}

	case sinfo.Array:
		buf.WriteString("<array><data>")
		for i := 0; i < si.MemberCount(); i++ {
			if err := encodeValue(buf, si.MemberAt(i)); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")

	case sinfo.Object:
		buf.WriteString("<struct>")
		for i := 0; i < si.MemberCount(); i++ {
			m := si.MemberAt(i)
			buf.WriteString("<member><name>")
			buf.WriteString(escape(m.Name()))
			buf.WriteString("</name>")
			if err := encodeValue(buf, m); err != nil {
				return err
			}
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	}
	buf.WriteString("</value>")
	return nil
}

// Decode parses one <value> document into a tree.
func Decode(data []byte) (*sinfo.Info, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	start, err := nextStart(d)
	if err != nil {
		return nil, err
	}
	if start.Name.Local != "value" {
		return nil, asyncrpc.SerializationError("expected <value> element, got <" + start.Name.Local + ">")
	}
	return ParseValue(d)
}

// nextStart skips to the next start element.
func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, asyncrpc.SerializationError(err.Error())
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// ParseValue parses the contents of an already-opened <value> element,
// consuming its end tag. Shared with the XML-RPC transport, which walks
// methodCall/methodResponse framing itself.
func ParseValue(d *xml.Decoder) (*sinfo.Info, error) {
	si := sinfo.New()
	var text strings.Builder
	sawElement := false

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, asyncrpc.SerializationError(err.Error())
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)

		case xml.StartElement:
			sawElement = true
			if err := parseTyped(d, t, si); err != nil {
				return nil, err
			}

		case xml.EndElement:
			// the closing </value>
			if !sawElement {
				// bare text inside <value> is a string
				si.SetString(text.String())
			}
			return si, nil
		}
	}
}

func parseTyped(d *xml.Decoder, start xml.StartElement, si *sinfo.Info) error {
	switch start.Name.Local {
	case "nil":
		si.SetNull()
		return d.Skip()

	case "boolean":
		s, err := elementText(d)
		if err != nil {
			return err
		}
		switch strings.TrimSpace(s) {
		case "1", "true":
			si.SetBool(true)
		case "0", "false":
			si.SetBool(false)
		default:
			return asyncrpc.SerializationError("invalid boolean value " + s)
		}
		return nil

	case "int", "i4", "i8":
		s, err := elementText(d)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			si.SetInt(v)
			return nil
		}
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			si.SetUint(v)
			return nil
		}
		return asyncrpc.SerializationError("invalid integer value " + s)

	case "double":
		s, err := elementText(d)
		if err != nil {
			return err
		}
		v, err2 := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err2 != nil {
			return asyncrpc.SerializationError("invalid double value " + s)
		}
		si.SetFloat(v)
		return nil

	case "string":
		s, err := elementText(d)
		if err != nil {
			return err
		}
		si.SetString(s)
		return nil

	case "base64":
		s, err := elementText(d)
		if err != nil {
			return err
		}
		raw, err2 := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err2 != nil {
			return asyncrpc.SerializationError("invalid base64 value")
		}
		si.SetBytes(raw)
		return nil

	case "array":
		si.SetCategory(sinfo.Array)
		return parseArray(d, si)

	case "struct":
		si.SetCategory(sinfo.Object)
		return parseStruct(d, si)
	}
	return asyncrpc.SerializationError("unexpected element <" + start.Name.Local + ">")
}

// elementText reads the text content of the current element and consumes
// its end tag.
func elementText(d *xml.Decoder) (string, error) {
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return "", asyncrpc.SerializationError(err.Error())
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			return text.String(), nil
		case xml.StartElement:
			return "", asyncrpc.SerializationError("unexpected element <" + t.Name.Local + "> in scalar value")
		}
	}
}

func parseArray(d *xml.Decoder, si *sinfo.Info) error {
	// <array> → <data> → <value>* → </data> → </array>
	depth := 1
	for {
		tok, err := d.Token()
		if err != nil {
			return asyncrpc.SerializationError(err.Error())
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "data":
				depth++
			case "value":
				elem, err := ParseValue(d)
				if err != nil {
					return err
				}
				child := si.AddMember("")
				elem.SetName("")
				*child = *elem
			default:
				return asyncrpc.SerializationError("unexpected element <" + t.Name.Local + "> in array")
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}

func parseStruct(d *xml.Decoder, si *sinfo.Info) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return asyncrpc.SerializationError(err.Error())
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "member" {
				return asyncrpc.SerializationError("unexpected element <" + t.Name.Local + "> in struct")
			}
			if err := parseMember(d, si); err != nil {
				return err
			}
		case xml.EndElement:
			// </struct>
			return nil
		}
	}
}

func parseMember(d *xml.Decoder, si *sinfo.Info) error {
	var name string
	var value *sinfo.Info

	for {
		tok, err := d.Token()
		if err != nil {
			return asyncrpc.SerializationError(err.Error())
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				name, err = elementText(d)
				if err != nil {
					return err
				}
			case "value":
				value, err = ParseValue(d)
				if err != nil {
					return err
				}
			default:
				return asyncrpc.SerializationError("unexpected element <" + t.Name.Local + "> in member")
			}
		case xml.EndElement:
			// </member>
			if value == nil {
				return asyncrpc.SerializationError("struct member without value")
			}
			child := si.AddMember(name)
			value.SetName(name)
			*child = *value
			return nil
		}
	}
}

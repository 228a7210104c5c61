// Package xmlrpc implements XML-RPC over HTTP POST framing, sharing the
// service registry and value model with the binary and JSON transports.
package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/codec/xmlc"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// ContentType is sent and expected on the HTTP framing.
const ContentType = "text/xml"

const header = `<?xml version="1.0"?>`

// encodeCall renders a methodCall document.
func encodeCall(method string, args []*sinfo.Info) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteString("<methodCall><methodName>")
	xml.EscapeText(&buf, []byte(method))
	buf.WriteString("</methodName><params>")
	for _, a := range args {
		buf.WriteString("<param>")
		if err := xmlc.EncodeTo(&buf, a); err != nil {
			return nil, err
		}
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes(), nil
}

// encodeResponse renders a methodResponse document carrying a result or
// a fault.
func encodeResponse(res *sinfo.Info, fault *rpc.Fault) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	if fault != nil {
		fv := sinfo.New()
		fv.AddMember("faultCode").SetInt(int64(fault.Code))
		fv.AddMember("faultString").SetString(fault.Text)
		buf.WriteString("<methodResponse><fault>")
		if err := xmlc.EncodeTo(&buf, fv); err != nil {
			return nil, err
		}
		buf.WriteString("</fault></methodResponse>")
		return buf.Bytes(), nil
	}

	buf.WriteString("<methodResponse><params><param>")
	if err := xmlc.EncodeTo(&buf, res); err != nil {
		return nil, err
	}
	buf.WriteString("</param></params></methodResponse>")
	return buf.Bytes(), nil
}

// decodeCall parses a methodCall document into method name and argument
// array.
func decodeCall(r io.Reader) (string, []*sinfo.Info, error) {
	d := xml.NewDecoder(r)
	var method string
	var args []*sinfo.Info

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, asyncrpc.SerializationError(err.Error())
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "methodCall", "params", "param":
			// structural, descend
		case "methodName":
			var text strings.Builder
			for {
				t, err := d.Token()
				if err != nil {
					return "", nil, asyncrpc.SerializationError(err.Error())
				}
				if cd, ok := t.(xml.CharData); ok {
					text.Write(cd)
					continue
				}
				break
			}
			method = strings.TrimSpace(text.String())
		case "value":
			v, err := xmlc.ParseValue(d)
			if err != nil {
				return "", nil, err
			}
			args = append(args, v)
		default:
			return "", nil, asyncrpc.SerializationError("unexpected element <" + se.Name.Local + "> in methodCall")
		}
	}

	if method == "" {
		return "", nil, asyncrpc.SerializationError("methodCall without methodName")
	}
	return method, args, nil
}

// decodeResponse parses a methodResponse document into a result or a
// fault.
func decodeResponse(r io.Reader) (*sinfo.Info, *rpc.Fault, error) {
	d := xml.NewDecoder(r)
	inFault := false

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, asyncrpc.SerializationError(err.Error())
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "methodResponse", "params", "param":
		case "fault":
			inFault = true
		case "value":
			v, err := xmlc.ParseValue(d)
			if err != nil {
				return nil, nil, err
			}
			if inFault {
				return nil, parseFaultStruct(v), nil
			}
			return v, nil, nil
		default:
			return nil, nil, asyncrpc.SerializationError("unexpected element <" + se.Name.Local + "> in methodResponse")
		}
	}
	return nil, nil, asyncrpc.SerializationError("methodResponse without value")
}

func parseFaultStruct(v *sinfo.Info) *rpc.Fault {
	fault := &rpc.Fault{}
	if c := v.FindMember("faultCode"); c != nil {
		if code, err := c.Int(); err == nil {
			fault.Code = int(code)
		}
	}
	if s := v.FindMember("faultString"); s != nil {
		fault.Text, _ = s.Str()
	}
	return fault
}

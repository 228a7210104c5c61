// Package binrpc implements the binary RPC transport: fixed-marker
// frames carrying binary-codec values over a TCP stream, with the
// codec's string dictionary persisting for the life of the connection in
// each direction.
package binrpc

import (
	"bufio"
	"fmt"
	"io"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/codec"
	"github.com/behrlich/go-asyncrpc/codec/bin"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

// Frame layout: marker, kind byte, kind-specific payload, end byte.
var marker = [4]byte{0xC0, 0xDE, 0x00, 0x00}

const (
	kindCall       byte = 0x40 // method\0 + args array
	kindResponse   byte = 0x41 // result value
	kindFault      byte = 0x42 // object {rc, text}
	kindDomainCall byte = 0x43 // domain\0 + method\0 + args array
)

const frameEnd byte = 0xFF

// readMarker consumes the sync pattern and returns the message kind.
// io.EOF before the first marker byte passes through for clean shutdown
// detection.
func readMarker(br *bufio.Reader) (byte, error) {
	var got [4]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, asyncrpc.WrapError("read", err)
	}
	if got != marker {
		return 0, asyncrpc.SerializationError(fmt.Sprintf("bad frame marker % x", got))
	}
	kind, err := br.ReadByte()
	if err != nil {
		return 0, asyncrpc.WrapError("read", err)
	}
	return kind, nil
}

func writeMarker(bw *bufio.Writer, kind byte) error {
	if _, err := bw.Write(marker[:]); err != nil {
		return err
	}
	return bw.WriteByte(kind)
}

// readCString reads a zero-terminated string.
func readCString(br *bufio.Reader) (string, error) {
	s, err := br.ReadString(0)
	if err != nil {
		return "", asyncrpc.WrapError("read", err)
	}
	return s[:len(s)-1], nil
}

func writeCString(bw *bufio.Writer, s string) error {
	if _, err := bw.WriteString(s); err != nil {
		return err
	}
	return bw.WriteByte(0)
}

// readValue drives the resumable parser over the buffered stream until
// one complete value is consumed.
func readValue(br *bufio.Reader, p *bin.Parser) (*sinfo.Info, error) {
	b := codec.NewTreeBuilder()
	p.Begin(b, false)
	for {
		if br.Buffered() == 0 {
			if _, err := br.Peek(1); err != nil {
				return nil, asyncrpc.WrapError("read", err)
			}
		}
		chunk, err := br.Peek(br.Buffered())
		if err != nil {
			return nil, asyncrpc.WrapError("read", err)
		}
		n, done, perr := p.Advance(chunk)
		if _, err := br.Discard(n); err != nil {
			return nil, asyncrpc.WrapError("read", err)
		}
		if perr != nil {
			return nil, perr
		}
		if done {
			return b.Result(), nil
		}
	}
}

// readFrameEnd consumes the trailing end byte.
func readFrameEnd(br *bufio.Reader) error {
	c, err := br.ReadByte()
	if err != nil {
		return asyncrpc.WrapError("read", err)
	}
	if c != frameEnd {
		return asyncrpc.SerializationError(fmt.Sprintf("expected frame end, got <0x%02x>", c))
	}
	return nil
}

// writeValueFrame emits a complete response-or-fault style frame: the
// marker, the value encoded through the connection's dictionary, and the
// end byte.
func writeValueFrame(bw *bufio.Writer, s *bin.Serializer, kind byte, v *sinfo.Info) error {
	if err := writeMarker(bw, kind); err != nil {
		return err
	}
	s.Reset()
	if err := s.Write(v); err != nil {
		return err
	}
	if _, err := s.WriteTo(bw); err != nil {
		return err
	}
	if err := bw.WriteByte(frameEnd); err != nil {
		return err
	}
	return bw.Flush()
}

// writeCallFrame emits a call or domain-call frame.
func writeCallFrame(bw *bufio.Writer, s *bin.Serializer, domain, method string, args []*sinfo.Info) error {
	kind := kindCall
	if domain != "" {
		kind = kindDomainCall
	}
	if err := writeMarker(bw, kind); err != nil {
		return err
	}
	if domain != "" {
		if err := writeCString(bw, domain); err != nil {
			return err
		}
	}
	if err := writeCString(bw, method); err != nil {
		return err
	}

	arr := sinfo.New()
	arr.SetCategory(sinfo.Array)
	for _, a := range args {
		child := arr.AddMember("")
		cp := a.Clone()
		cp.SetName("")
		*child = *cp
	}

	s.Reset()
	if err := s.Write(arr); err != nil {
		return err
	}
	if _, err := s.WriteTo(bw); err != nil {
		return err
	}
	if err := bw.WriteByte(frameEnd); err != nil {
		return err
	}
	return bw.Flush()
}

// faultValue builds the wire object for a fault.
func faultValue(code int, text string) *sinfo.Info {
	si := sinfo.New()
	si.AddMember("rc").SetInt(int64(code))
	si.AddMember("text").SetString(text)
	return si
}

// parseFault reads a fault object back into code and text.
func parseFault(si *sinfo.Info) (int, string, error) {
	rcNode, err := si.Member("rc")
	if err != nil {
		return 0, "", err
	}
	rc, err := rcNode.Int()
	if err != nil {
		return 0, "", err
	}
	textNode, err := si.Member("text")
	if err != nil {
		return 0, "", err
	}
	text, err := textNode.Str()
	if err != nil {
		return 0, "", err
	}
	return int(rc), text, nil
}

package bin

import (
	"fmt"
	"math"
	"strconv"

	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/codec"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

type state int

const (
	stType state = iota
	stName
	stNameIdxHi
	stNameIdxLo
	stOtherTypeName
	stOtherTypeNameIdxHi
	stOtherTypeNameIdxLo
	stValueString
	stValueChar
	stValueBool
	stValueIntSign
	stValueInt
	stValueUint
	stValueIntTxt
	stBinaryLen
	stBinaryData
	stBcdFirst
	stBcd
	stFloatExp
	stFloatMant
	stCompType
	stCompTypeName
	stCompTypeNameIdxHi
	stCompTypeNameIdxLo
	stMember
	stMemberValue
	stEnd
)

// Parser is the resumable binary-format parser. Advance consumes whatever
// bytes are available and reports completion exactly once per top-level
// value. Nested values are handled by a chain of sub-parsers sharing the
// stream and the dictionary.
type Parser struct {
	dict  *Dictionary
	deser codec.Deserializer

	state     state
	nextState state

	token   []byte
	count   int
	intAcc  uint64
	dictIdx uint16

	isNeg     bool
	exp       int
	expBytes  int
	mantShift uint
	bias      int

	sub *Parser
}

// NewParser returns a parser reading through the given dictionary. A nil
// dictionary gets a private one.
func NewParser(dict *Dictionary) *Parser {
	if dict == nil {
		dict = NewDictionary()
	}
	return &Parser{dict: dict}
}

// Begin readies the parser for one top-level value delivered to handler.
// resetDictionary starts a new document boundary.
func (p *Parser) Begin(handler codec.Deserializer, resetDictionary bool) {
	p.deser = handler
	p.state = stType
	p.nextState = stType
	p.token = p.token[:0]
	p.intAcc = 0
	p.exp = 0
	p.sub = nil
	if resetDictionary {
		p.dict.Reset()
	}
}

// Decode is the one-shot convenience for a complete in-memory document.
func Decode(data []byte) (*sinfo.Info, error) {
	b := codec.NewTreeBuilder()
	p := NewParser(nil)
	p.Begin(b, true)
	n, done, err := p.Advance(data)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, asyncrpc.SerializationError("unexpected end of binary document")
	}
	if n != len(data) {
		return nil, asyncrpc.SerializationError(fmt.Sprintf("%d trailing bytes after value", len(data)-n))
	}
	return b.Result(), nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) avail() bool  { return r.pos < len(r.data) }
func (r *reader) peek() byte   { return r.data[r.pos] }
func (r *reader) take() byte   { b := r.data[r.pos]; r.pos++; return b }

// Advance feeds bytes to the parser. It returns the count consumed and
// whether the top-level value is complete; unconsumed bytes belong to the
// next value.
func (p *Parser) Advance(data []byte) (int, bool, error) {
	r := &reader{data: data}
	done, err := p.advance(r)
	return r.pos, done, err
}

func (p *Parser) advance(r *reader) (bool, error) {
	for r.avail() {
		switch p.state {

		case stType:
			if err := p.beginValue(TypeCode(r.take())); err != nil {
				return false, err
			}

		case stName, stOtherTypeName, stCompTypeName:
			ch := r.take()
			if ch == 0 {
				s := string(p.token)
				p.token = p.token[:0]
				p.dict.Add(s)
				p.endStringToken(s)
			} else if len(p.token) == 0 && ch == dictMarker {
				switch p.state {
				case stName:
					p.state = stNameIdxHi
				case stOtherTypeName:
					p.state = stOtherTypeNameIdxHi
				default:
					p.state = stCompTypeNameIdxHi
				}
			} else {
				p.token = append(p.token, ch)
			}

		case stNameIdxHi, stOtherTypeNameIdxHi, stCompTypeNameIdxHi:
			p.dictIdx = uint16(r.take()) << 8
			p.state++ // the Lo state follows its Hi state

		case stNameIdxLo, stOtherTypeNameIdxLo, stCompTypeNameIdxLo:
			p.dictIdx |= uint16(r.take())
			s, err := p.dict.At(p.dictIdx)
			if err != nil {
				return false, err
			}
			switch p.state {
			case stNameIdxLo:
				p.state = stName
			case stOtherTypeNameIdxLo:
				p.state = stOtherTypeName
			default:
				p.state = stCompTypeName
			}
			p.endStringToken(s)

		case stValueString:
			ch := r.take()
			if ch == 0 {
				p.deser.SetString(string(p.token))
				p.token = p.token[:0]
				p.state = stEnd
			} else {
				p.token = append(p.token, ch)
			}

		case stValueChar:
			p.deser.SetString(string(r.take()))
			return true, nil

		case stValueBool:
			p.deser.SetBool(r.take() != 0)
			return true, nil

		case stValueIntSign:
			if r.peek()&0x80 != 0 {
				p.intAcc = ^uint64(0)
			}
			p.state = stValueInt
			// the byte itself is consumed by stValueInt

		case stValueInt, stValueUint:
			for r.avail() {
				p.intAcc = p.intAcc<<8 | uint64(r.take())
				p.count--
				if p.count == 0 {
					if p.state == stValueInt {
						p.deser.SetInt(int64(p.intAcc))
					} else {
						p.deser.SetUint(p.intAcc)
					}
					p.intAcc = 0
					return true, nil
				}
			}

		case stValueIntTxt:
			ch := r.take()
			if ch == 0 {
				v, err := strconv.ParseInt(string(p.token), 10, 64)
				if err != nil {
					return false, asyncrpc.SerializationError(fmt.Sprintf("invalid integer literal %q", p.token))
				}
				p.deser.SetInt(v)
				p.token = p.token[:0]
				p.state = stEnd
			} else {
				p.token = append(p.token, ch)
			}

		case stBinaryLen:
			p.intAcc = p.intAcc<<8 | uint64(r.take())
			p.count--
			if p.count == 0 {
				p.count = int(p.intAcc)
				p.intAcc = 0
				if p.count == 0 {
					p.deser.SetBytes(nil)
					p.state = stEnd
				} else {
					p.state = stBinaryData
				}
			}

		case stBinaryData:
			for r.avail() {
				p.token = append(p.token, r.take())
				p.count--
				if p.count == 0 {
					out := make([]byte, len(p.token))
					copy(out, p.token)
					p.deser.SetBytes(out)
					p.token = p.token[:0]
					return true, nil
				}
			}

		case stBcdFirst:
			switch r.peek() {
			case bcdNaN:
				r.take()
				p.setBcdValue("nan")
				p.state = stEnd
				continue
			case bcdPosInf:
				r.take()
				p.setBcdValue("inf")
				p.state = stEnd
				continue
			case bcdNegInf:
				r.take()
				p.setBcdValue("-inf")
				p.state = stEnd
				continue
			}
			p.state = stBcd

		case stBcd:
			ch := r.take()
			if ch == End {
				p.setBcdValue(string(p.token))
				p.token = p.token[:0]
				return true, nil
			}
			if ch>>4 >= 15 {
				return false, asyncrpc.SerializationError(fmt.Sprintf("invalid BCD digit <0x%02x>", ch))
			}
			p.token = append(p.token, bcdDigits[ch>>4])
			if ch&0x0F == 0x0F {
				p.setBcdValue(string(p.token))
				p.token = p.token[:0]
				p.state = stEnd
			} else {
				p.token = append(p.token, bcdDigits[ch&0x0F])
			}

		case stFloatExp:
			ch := r.take()
			if p.expBytes == 2 {
				p.isNeg = ch&0x80 != 0
				p.exp = int(ch & 0x7F)
				p.expBytes--
			} else if p.exp < 0 {
				// single exponent byte
				p.isNeg = ch&0x80 != 0
				p.exp = int(ch & 0x7F)
				p.state = stFloatMant
			} else {
				// second byte of a long exponent
				p.exp = p.exp<<8 | int(ch)
				p.state = stFloatMant
			}

		case stFloatMant:
			for r.avail() {
				p.intAcc = p.intAcc<<8 | uint64(r.take())
				p.count--
				if p.count == 0 {
					p.deser.SetFloat(decodeFloat(p.isNeg, p.exp, p.intAcc, p.mantShift, p.bias))
					p.intAcc = 0
					return true, nil
				}
			}

		case stCompType:
			tc := TypeCode(r.take())
			if tc == TypeOther || tc == TypePlainOther {
				p.state = stCompTypeName
			} else if tc == TypeEmpty || tc == TypePlainEmpty {
				p.state = stMember
			} else {
				tn, err := typeName(tc)
				if err != nil {
					return false, err
				}
				p.deser.SetTypeName(tn)
				p.state = stMember
			}

		case stMember:
			if r.peek() == End {
				r.take()
				return true, nil
			}
			if p.sub == nil {
				p.sub = NewParser(p.dict)
			}
			p.deser.BeginMember("")
			p.sub.Begin(p.deser, false)
			p.state = stMemberValue

		case stMemberValue:
			done, err := p.sub.advance(r)
			if err != nil {
				return false, err
			}
			if done {
				p.deser.LeaveMember()
				p.state = stMember
			}

		case stEnd:
			if ch := r.take(); ch != End {
				return false, asyncrpc.SerializationError(fmt.Sprintf("end of value marker expected; got <0x%02x>", ch))
			}
			return true, nil
		}
	}

	return false, nil
}

// beginValue dispatches on the leading tag byte.
func (p *Parser) beginValue(tc TypeCode) error {
	switch tc {
	case CategoryObject:
		p.deser.SetCategory(sinfo.Object)
		p.state = stName
		p.nextState = stCompType
		return nil
	case CategoryArray:
		p.deser.SetCategory(sinfo.Array)
		p.state = stName
		p.nextState = stCompType
		return nil
	case TypeOther:
		p.deser.SetCategory(sinfo.Value)
		p.state = stName
		p.nextState = stOtherTypeName
		return nil
	case TypePlainOther:
		p.deser.SetCategory(sinfo.Value)
		p.state = stOtherTypeName
		return nil
	}

	plain := tc >= TypeEmpty+plainOffset && tc <= TypeInt+plainOffset
	base := tc
	if plain {
		base -= plainOffset
	}
	if base < TypeEmpty || base > TypeInt {
		return asyncrpc.SerializationError(fmt.Sprintf("invalid type code <0x%02x>", byte(tc)))
	}

	p.deser.SetCategory(sinfo.Value)

	var valueState state
	switch base {
	case TypeEmpty:
		p.deser.SetNull()
		valueState = stEnd
	case TypeBool:
		valueState = stValueBool
	case TypeChar:
		valueState = stValueChar
	case TypeString:
		p.token = p.token[:0]
		valueState = stValueString
	case TypeInt:
		p.token = p.token[:0]
		valueState = stValueIntTxt
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		p.count = 1 << (base - TypeInt8)
		p.intAcc = 0
		valueState = stValueIntSign
	case TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64:
		p.count = 1 << (base - TypeUInt8)
		p.intAcc = 0
		valueState = stValueUint
	case TypeShortFloat:
		p.expBytes = 1
		p.exp = -1
		p.count = 2
		p.mantShift = 48
		p.bias = shortBias
		p.intAcc = 0
		valueState = stFloatExp
	case TypeMediumFloat:
		p.expBytes = 1
		p.exp = -1
		p.count = 4
		p.mantShift = 32
		p.bias = shortBias
		p.intAcc = 0
		valueState = stFloatExp
	case TypeLongFloat:
		p.expBytes = 2
		p.exp = 0
		p.count = 8
		p.mantShift = 0
		p.bias = longBias
		p.intAcc = 0
		valueState = stFloatExp
	case TypeBcdFloat:
		p.token = p.token[:0]
		valueState = stBcdFirst
	case TypeBinary2:
		p.count = 2
		p.intAcc = 0
		valueState = stBinaryLen
	case TypeBinary4:
		p.count = 4
		p.intAcc = 0
		valueState = stBinaryLen
	}

	if plain {
		p.state = valueState
	} else {
		p.state = stName
		p.nextState = valueState
	}
	return nil
}

// endStringToken routes a completed name/type-name token.
func (p *Parser) endStringToken(s string) {
	switch p.state {
	case stName:
		p.deser.SetName(s)
		p.state = p.nextState
	case stOtherTypeName:
		p.deser.SetTypeName(s)
		p.token = p.token[:0]
		p.state = stValueString
	default: // stCompTypeName
		p.deser.SetTypeName(s)
		p.state = stMember
	}
}

// setBcdValue converts an unpacked decimal string into the scalar.
func (p *Parser) setBcdValue(s string) {
	switch s {
	case "nan":
		p.deser.SetFloat(math.NaN())
		return
	case "inf":
		p.deser.SetFloat(math.Inf(1))
		return
	case "-inf":
		p.deser.SetFloat(math.Inf(-1))
		return
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		p.deser.SetFloat(f)
	} else {
		// not a plain number (time-like separators): keep the text
		p.deser.SetString(s)
	}
}

package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Common errors
var (
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidString     = errors.New("invalid PDF string")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidArray      = errors.New("invalid PDF array")
	ErrInvalidName       = errors.New("invalid PDF name")
	ErrInvalidNumber     = errors.New("invalid PDF number")
)

// Parser reads PDF objects from a byte slice.
type Parser struct {
	data []byte
	pos  int
}

// NewParserFromBytes creates a parser over a byte slice.
func NewParserFromBytes(data []byte) *Parser {
	return &Parser{data: data}
}

func (p *Parser) readByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

func (p *Parser) unreadByte() {
	if p.pos > 0 {
		p.pos--
	}
}

func (p *Parser) peekByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	return p.data[p.pos], nil
}

// skipWhitespace skips whitespace and comments.
func (p *Parser) skipWhitespace() {
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if isWhitespace(b) {
			p.pos++
			continue
		}
		if b == '%' {
			// Comment runs to end of line
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		return
	}
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\x00' || b == '\x0c'
}

func isDelimiter(b byte) bool {
	return b == '(' || b == ')' || b == '<' || b == '>' ||
		b == '[' || b == ']' || b == '{' || b == '}' ||
		b == '/' || b == '%'
}

// readToken reads a run of regular characters.
func (p *Parser) readToken() string {
	p.skipWhitespace()

	start := p.pos
	for p.pos < len(p.data) && !isWhitespace(p.data[p.pos]) && !isDelimiter(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ParseObject parses a direct PDF object.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.skipWhitespace()

	b, err := p.peekByte()
	if err != nil {
		return nil, err
	}

	switch {
	case b == '(':
		return p.parseString()
	case b == '<':
		return p.parseHexOrDict()
	case b == '[':
		return p.parseArray()
	case b == '/':
		return p.parseName()
	case b == 't' || b == 'f':
		return p.parseBoolean()
	case b == 'n':
		return p.parseNull()
	case b == '-' || b == '+' || b == '.' || (b >= '0' && b <= '9'):
		return p.parseNumber()
	default:
		return nil, fmt.Errorf("%w: unexpected character '%c'", ErrInvalidObject, b)
	}
}

// parseString parses a literal string with escapes and balanced parens.
func (p *Parser) parseString() (*StringObject, error) {
	if b, err := p.readByte(); err != nil || b != '(' {
		return nil, ErrInvalidString
	}

	var buf bytes.Buffer
	depth := 1

	for depth > 0 {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated string", ErrInvalidString)
		}

		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(b)
			}
		case '\\':
			if err := p.parseStringEscape(&buf); err != nil {
				return nil, err
			}
		default:
			buf.WriteByte(b)
		}
	}

	return &StringObject{Value: buf.Bytes()}, nil
}

func (p *Parser) parseStringEscape(buf *bytes.Buffer) error {
	escaped, err := p.readByte()
	if err != nil {
		return err
	}

	switch escaped {
	case 'n':
		buf.WriteByte('\n')
	case 'r':
		buf.WriteByte('\r')
	case 't':
		buf.WriteByte('\t')
	case 'b':
		buf.WriteByte('\b')
	case 'f':
		buf.WriteByte('\f')
	case '(', ')', '\\':
		buf.WriteByte(escaped)
	case '\r':
		// Line continuation; swallow a following LF
		if next, err := p.peekByte(); err == nil && next == '\n' {
			p.pos++
		}
	case '\n':
		// Line continuation
	default:
		if escaped >= '0' && escaped <= '7' {
			octal := string(escaped)
			for i := 0; i < 2; i++ {
				next, err := p.peekByte()
				if err != nil || next < '0' || next > '7' {
					break
				}
				p.pos++
				octal += string(next)
			}
			val, _ := strconv.ParseInt(octal, 8, 16)
			buf.WriteByte(byte(val))
		} else {
			buf.WriteByte(escaped)
		}
	}
	return nil
}

// parseHexOrDict disambiguates '<...>' hex strings from '<<...>>'
// dictionaries.
func (p *Parser) parseHexOrDict() (PdfObject, error) {
	if b, err := p.readByte(); err != nil || b != '<' {
		return nil, fmt.Errorf("%w: expected '<'", ErrInvalidObject)
	}

	second, err := p.peekByte()
	if err != nil {
		return nil, err
	}
	if second == '<' {
		p.pos++
		return p.parseDictionary()
	}
	return p.parseHexString()
}

func (p *Parser) parseHexString() (*StringObject, error) {
	var buf bytes.Buffer

	for {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
		}
		if b == '>' {
			break
		}
		if !isWhitespace(b) {
			buf.WriteByte(b)
		}
	}

	hexStr := buf.String()
	if len(hexStr)%2 != 0 {
		hexStr += "0"
	}

	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex string: %v", ErrInvalidString, err)
	}
	return &StringObject{Value: data, IsHex: true}, nil
}

// parseDictionary parses entries up to '>>'. The opening '<<' has been
// consumed.
func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	dict := NewDictionary()

	for {
		p.skipWhitespace()

		b, err := p.peekByte()
		if err != nil {
			return nil, err
		}

		if b == '>' {
			p.pos++
			next, err := p.readByte()
			if err != nil || next != '>' {
				return nil, fmt.Errorf("%w: expected '>>'", ErrInvalidDictionary)
			}
			return dict, nil
		}

		key, err := p.parseName()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid dictionary key: %v", ErrInvalidDictionary, err)
		}

		value, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid dictionary value for key '%s': %v", ErrInvalidDictionary, key, err)
		}

		dict.Set(string(key), value)
	}
}

func (p *Parser) parseArray() (ArrayObject, error) {
	if b, err := p.readByte(); err != nil || b != '[' {
		return nil, ErrInvalidArray
	}

	var arr ArrayObject
	for {
		p.skipWhitespace()

		b, err := p.peekByte()
		if err != nil {
			return nil, err
		}
		if b == ']' {
			p.pos++
			return arr, nil
		}

		obj, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid array element: %v", ErrInvalidArray, err)
		}
		arr = append(arr, obj)
	}
}

// parseName parses a name, decoding '#xx' hex escapes.
func (p *Parser) parseName() (NameObject, error) {
	if b, err := p.readByte(); err != nil || b != '/' {
		return "", ErrInvalidName
	}

	var buf bytes.Buffer
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		p.pos++

		if b == '#' {
			if p.pos+2 > len(p.data) {
				return "", fmt.Errorf("%w: truncated hex escape in name", ErrInvalidName)
			}
			val, err := strconv.ParseInt(string(p.data[p.pos:p.pos+2]), 16, 16)
			if err != nil {
				return "", fmt.Errorf("%w: invalid hex escape in name", ErrInvalidName)
			}
			p.pos += 2
			buf.WriteByte(byte(val))
		} else {
			buf.WriteByte(b)
		}
	}

	return NameObject(buf.String()), nil
}

func (p *Parser) parseBoolean() (BooleanObject, error) {
	switch token := p.readToken(); token {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	default:
		return false, fmt.Errorf("%w: expected 'true' or 'false', got '%s'", ErrInvalidObject, token)
	}
}

func (p *Parser) parseNull() (NullObject, error) {
	if token := p.readToken(); token != "null" {
		return NullObject{}, fmt.Errorf("%w: expected 'null', got '%s'", ErrInvalidObject, token)
	}
	return NullObject{}, nil
}

// parseNumber parses an integer or real number.
func (p *Parser) parseNumber() (PdfObject, error) {
	var buf bytes.Buffer
	hasDecimal := false

loop:
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		switch {
		case b == '.':
			if hasDecimal {
				break loop
			}
			hasDecimal = true
		case b == '-' || b == '+':
			if buf.Len() > 0 {
				break loop
			}
		case b < '0' || b > '9':
			break loop
		}
		buf.WriteByte(b)
		p.pos++
	}

	str := buf.String()
	if str == "" || str == "-" || str == "+" || str == "." {
		return nil, fmt.Errorf("%w: invalid number '%s'", ErrInvalidNumber, str)
	}

	if hasDecimal {
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return RealObject(val), nil
	}

	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return IntegerObject(val), nil
}

// ParseObjectOrReference parses an object, recognizing "n g R" indirect
// references. A number not followed by a generation and 'R' is returned
// as the number itself.
func (p *Parser) ParseObjectOrReference() (PdfObject, error) {
	p.skipWhitespace()

	startPos := p.pos

	b, err := p.peekByte()
	if err != nil {
		return nil, err
	}
	if b < '0' || b > '9' {
		return p.ParseObject()
	}

	obj, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	objNum, ok := obj.(IntegerObject)
	if !ok {
		return obj, nil
	}

	p.skipWhitespace()
	if b, err := p.peekByte(); err != nil || b < '0' || b > '9' {
		return obj, nil
	}

	genObj, err := p.parseNumber()
	if err != nil {
		p.pos = startPos
		return p.parseNumber()
	}
	genNum, ok := genObj.(IntegerObject)
	if !ok {
		p.pos = startPos
		return p.parseNumber()
	}

	p.skipWhitespace()
	b, err = p.readByte()
	if err != nil {
		return obj, nil
	}
	if b == 'R' {
		return Reference{ObjectNumber: int(objNum), GenerationNumber: int(genNum)}, nil
	}

	p.pos = startPos
	return p.parseNumber()
}

// ParseIndirectObject parses an "n g obj ... endobj" definition. A
// dictionary followed by the stream keyword becomes a StreamObject whose
// raw data spans the declared Length.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	objNumObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid object number: %v", ErrInvalidObject, err)
	}
	objNum, ok := objNumObj.(IntegerObject)
	if !ok {
		return nil, fmt.Errorf("%w: object number must be integer", ErrInvalidObject)
	}

	p.skipWhitespace()

	genNumObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid generation number: %v", ErrInvalidObject, err)
	}
	genNum, ok := genNumObj.(IntegerObject)
	if !ok {
		return nil, fmt.Errorf("%w: generation number must be integer", ErrInvalidObject)
	}

	if token := p.readToken(); token != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got '%s'", ErrInvalidObject, token)
	}

	obj, err := p.ParseObjectOrReference()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()

	if dict, ok := obj.(*DictionaryObject); ok {
		if b, err := p.peekByte(); err == nil && b == 's' {
			obj = p.maybeParseStream(dict, obj)
		}
	}

	p.skipWhitespace()
	p.readToken() // "endobj", though some files omit it

	return &IndirectObject{
		ObjectNumber:     int(objNum),
		GenerationNumber: int(genNum),
		Object:           obj,
	}, nil
}

// maybeParseStream consumes stream data following a dictionary. When the
// next token is not the stream keyword, the dictionary is returned
// unchanged.
func (p *Parser) maybeParseStream(dict *DictionaryObject, obj PdfObject) PdfObject {
	if token := p.readToken(); token != "stream" {
		return obj
	}

	// The keyword is followed by CRLF or LF
	if b, _ := p.readByte(); b == '\r' {
		if next, err := p.peekByte(); err == nil && next == '\n' {
			p.pos++
		}
	}

	length := 0
	if l, ok := dict.GetInt("Length"); ok {
		length = int(l)
	}
	if p.pos+length > len(p.data) {
		length = len(p.data) - p.pos
	}

	data := make([]byte, length)
	copy(data, p.data[p.pos:p.pos+length])
	p.pos += length

	p.skipWhitespace()
	p.readToken() // "endstream"

	return NewStream(dict, data)
}

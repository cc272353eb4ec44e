package value

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var errSyntax = errors.New("literal syntax error")

// ParseLiteral reads the loose literal syntax used by the CLI and the HTTP
// gateway:
//
//	none | null            None
//	true | false           Boolean
//	12, -3.5, 1e9          Number
//	"text"                 String (Go/JSON escapes)
//	[a, b]                 List
//	(a, b)                 Tuple
//	{"k": v}               Dict
//
// Input that does not parse as a whole is taken verbatim as a String, so
// ParseLiteral never fails.
func ParseLiteral(text string) Value {
	p := &literalParser{src: text}
	v, err := p.parse()
	if err != nil {
		return String(text)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return String(text)
	}
	return v
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) parse() (Value, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return Value{}, errSyntax
	}
	switch c := p.src[p.pos]; {
	case c == '"':
		return p.parseString()
	case c == '[':
		items, err := p.parseSeq('[', ']')
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindList, items: items}, nil
	case c == '(':
		items, err := p.parseSeq('(', ')')
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindTuple, items: items}, nil
	case c == '{':
		return p.parseDict()
	default:
		return p.parseWord()
	}
}

func (p *literalParser) parseString() (Value, error) {
	s, err := p.readQuoted()
	if err != nil {
		return Value{}, err
	}
	return String(s), nil
}

func (p *literalParser) readQuoted() (string, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			return strconv.Unquote(p.src[start:p.pos])
		}
		p.pos++
	}
	return "", errSyntax
}

func (p *literalParser) parseSeq(open, close byte) ([]Value, error) {
	p.pos++
	items := []Value{}
	p.skipSpace()
	if p.peek() == close {
		p.pos++
		return items, nil
	}
	for {
		item, err := p.parse()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == close {
				p.pos++
				return items, nil
			}
		case close:
			p.pos++
			return items, nil
		default:
			return nil, errSyntax
		}
	}
}

func (p *literalParser) parseDict() (Value, error) {
	p.pos++
	fields := map[string]Value{}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return Value{kind: KindDict, fields: fields}, nil
	}
	for {
		p.skipSpace()
		if p.peek() != '"' {
			return Value{}, errSyntax
		}
		key, err := p.readQuoted()
		if err != nil {
			return Value{}, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return Value{}, errSyntax
		}
		p.pos++
		v, err := p.parse()
		if err != nil {
			return Value{}, err
		}
		fields[key] = v
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return Value{kind: KindDict, fields: fields}, nil
		default:
			return Value{}, errSyntax
		}
	}
}

func (p *literalParser) parseWord() (Value, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := rune(p.src[p.pos])
		if unicode.IsSpace(c) || strings.ContainsRune(",:)]}", c) {
			break
		}
		p.pos++
	}
	word := p.src[start:p.pos]
	switch word {
	case "":
		return Value{}, errSyntax
	case "none", "null", "nil":
		return None(), nil
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	n, err := strconv.ParseFloat(word, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return Value{}, errSyntax
	}
	return Number(n), nil
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

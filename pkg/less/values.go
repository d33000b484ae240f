package less

import (
	"strconv"
	"strings"
)

// Value expressions. The parser produces these and the evaluator reduces them to dimension, color,
// keyword, quoted, rawValue, list and concat values.

type expr interface{}

type dimension struct {
	value float64
	unit  string
}

type color struct {
	r, g, b float64
	a       float64
	// raw is the original spelling, kept as long as the color isn't modified
	raw string
}

// keyword is any identifier. It may contain @{name} interpolations.
type keyword struct {
	text string
}

type quoted struct {
	value   string
	quote   byte
	escaped bool
}

// rawValue is emitted as-is apart from variable interpolation
type rawValue struct {
	text string
}

type variable struct {
	name string
	// indirect is set for @@name
	indirect bool
}

type call struct {
	name string
	args []expr
}

type operation struct {
	op          byte
	left, right expr
}

type negative struct {
	value expr
}

type paren struct {
	value expr
}

type list struct {
	items []expr
	sep   string
}

// concat joins its parts without separators
type concat struct {
	parts []expr
}

// * tokenizer

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokVar
	tokString
	tokColor
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokFunc
	tokRaw
)

type token struct {
	kind        tokenKind
	text        string
	num         float64
	unit        string
	quote       byte
	escaped     bool
	indirect    bool
	spaceBefore bool
	spaceAfter  bool
}

// rawFunctions are kept verbatim (after interpolation) instead of being evaluated
var rawFunctions = map[string]bool{
	"url":          true,
	"calc":         true,
	"-webkit-calc": true,
	"-moz-calc":    true,
	"expression":   true,
	"var":          true,
	"env":          true,
}

type tokenizer struct {
	at   pos
	text string
	idx  int
	toks []token
}

func tokenize(at pos, text string) ([]token, error) {
	t := &tokenizer{at: at, text: text}
	space := false

	for t.idx < len(text) {
		c := text[t.idx]
		if isSpace(c) {
			space = true
			t.idx++
			continue
		}

		tok, err := t.next(space)
		if err != nil {
			return nil, err
		}
		tok.spaceBefore = space
		if t.idx >= len(text) || isSpace(text[t.idx]) {
			tok.spaceAfter = true
		}
		t.toks = append(t.toks, tok)
		space = false
	}

	t.toks = append(t.toks, token{kind: tokEOF, spaceBefore: true})
	return t.toks, nil
}

func (t *tokenizer) peekByte(offset int) byte {
	if t.idx+offset < len(t.text) {
		return t.text[t.idx+offset]
	}
	return 0
}

func (t *tokenizer) prevAllowsSign(space bool) bool {
	if len(t.toks) == 0 || space {
		return true
	}

	switch t.toks[len(t.toks)-1].kind {
	case tokOp, tokComma, tokLParen, tokFunc:
		return true
	}
	return false
}

func (t *tokenizer) next(space bool) (token, error) {
	c := t.text[t.idx]

	switch {
	case c == '"' || c == '\'':
		return t.readString(false)
	case c == '~' && (t.peekByte(1) == '"' || t.peekByte(1) == '\''):
		t.idx++
		return t.readString(true)
	case c == '@':
		return t.readVar()
	case c == '#':
		return t.readHash(), nil
	case isDigit(c) || (c == '.' && isDigit(t.peekByte(1))):
		return t.readNumber(t.idx), nil
	case (c == '-' || c == '+') && (isDigit(t.peekByte(1)) || (t.peekByte(1) == '.' && isDigit(t.peekByte(2)))) &&
		t.prevAllowsSign(space):
		return t.readNumber(t.idx), nil
	case isIdentStart(c) || (c == '-' && (isIdentStart(t.peekByte(1)) || t.peekByte(1) == '-' || strings.HasPrefix(t.text[t.idx+1:], "@{"))):
		return t.readIdent()
	case c == '+' || c == '-' || c == '*' || c == '/':
		t.idx++
		return token{kind: tokOp, text: string(c)}, nil
	case c == '(':
		t.idx++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		t.idx++
		return token{kind: tokRParen, text: ")"}, nil
	case c == ',':
		t.idx++
		return token{kind: tokComma, text: ","}, nil
	}

	t.idx++
	return token{kind: tokRaw, text: string(c)}, nil
}

func (t *tokenizer) readString(escaped bool) (token, error) {
	quote := t.text[t.idx]
	start := t.idx
	var buf strings.Builder

	for t.idx++; t.idx < len(t.text); t.idx++ {
		c := t.text[t.idx]
		switch c {
		case '\\':
			buf.WriteByte(c)
			if t.idx+1 < len(t.text) {
				t.idx++
				buf.WriteByte(t.text[t.idx])
			}
		case quote:
			t.idx++
			return token{kind: tokString, text: buf.String(), quote: quote, escaped: escaped}, nil
		default:
			buf.WriteByte(c)
		}
	}

	return token{}, t.at.errorf(SyntaxError, "unterminated string %s", t.text[start:])
}

func (t *tokenizer) readVar() (token, error) {
	if strings.HasPrefix(t.text[t.idx:], "@{") {
		return t.readIdent()
	}

	start := t.idx
	indirect := false
	t.idx++
	if t.peekByte(0) == '@' {
		indirect = true
		t.idx++
	}

	nameStart := t.idx
	for t.idx < len(t.text) && isNameChar(t.text[t.idx]) {
		t.idx++
	}

	if nameStart == t.idx {
		return token{}, t.at.errorf(SyntaxError, "invalid variable reference %q", t.text[start:])
	}

	return token{kind: tokVar, text: t.text[nameStart:t.idx], indirect: indirect}, nil
}

func (t *tokenizer) readHash() token {
	start := t.idx
	t.idx++
	for t.idx < len(t.text) && isNameChar(t.text[t.idx]) {
		t.idx++
	}

	text := t.text[start:t.idx]
	hex := text[1:]
	if isHex(hex) && (len(hex) == 3 || len(hex) == 4 || len(hex) == 6 || len(hex) == 8) {
		return token{kind: tokColor, text: text}
	}
	return token{kind: tokIdent, text: text}
}

func (t *tokenizer) readNumber(start int) token {
	if t.text[t.idx] == '-' || t.text[t.idx] == '+' {
		t.idx++
	}

	for t.idx < len(t.text) && isDigit(t.text[t.idx]) {
		t.idx++
	}
	if t.peekByte(0) == '.' && isDigit(t.peekByte(1)) {
		t.idx++
		for t.idx < len(t.text) && isDigit(t.text[t.idx]) {
			t.idx++
		}
	}

	num, _ := strconv.ParseFloat(t.text[start:t.idx], 64)

	unitStart := t.idx
	if t.peekByte(0) == '%' {
		t.idx++
	} else {
		for t.idx < len(t.text) && isLetter(t.text[t.idx]) {
			t.idx++
		}
	}

	return token{
		kind: tokNumber,
		text: t.text[start:t.idx],
		num:  num,
		unit: t.text[unitStart:t.idx],
	}
}

func (t *tokenizer) readIdent() (token, error) {
	start := t.idx
scan:
	for t.idx < len(t.text) {
		c := t.text[t.idx]
		switch {
		case isNameChar(c):
			t.idx++
		case c == '\\':
			t.idx += 2
		case strings.HasPrefix(t.text[t.idx:], "@{"):
			end := strings.IndexByte(t.text[t.idx:], '}')
			if end < 0 {
				return token{}, t.at.errorf(SyntaxError, "unterminated interpolation in %q", t.text[start:])
			}
			t.idx += end + 1
		default:
			break scan
		}
	}

	if t.idx > len(t.text) {
		t.idx = len(t.text)
	}
	name := t.text[start:t.idx]

	if t.peekByte(0) != '(' {
		return token{kind: tokIdent, text: name}, nil
	}

	lower := strings.ToLower(name)
	if rawFunctions[lower] || strings.HasPrefix(lower, "progid:") {
		end, err := t.matchParen(t.idx)
		if err != nil {
			return token{}, err
		}
		t.idx = end
		return token{kind: tokRaw, text: t.text[start:end]}, nil
	}

	t.idx++
	return token{kind: tokFunc, text: name}, nil
}

// matchParen returns the offset after the parenthesis matching the one at start
func (t *tokenizer) matchParen(start int) (int, error) {
	depth := 0
	for idx := start; idx < len(t.text); idx++ {
		switch c := t.text[idx]; c {
		case '"', '\'':
			for idx++; idx < len(t.text) && t.text[idx] != c; idx++ {
				if t.text[idx] == '\\' {
					idx++
				}
			}
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return idx + 1, nil
			}
		}
	}
	return 0, t.at.errorf(SyntaxError, "missing closing `)` in %q", t.text[start:])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentStart(c byte) bool {
	return isLetter(c) || c == '_' || c == '\\' || c >= 0x80
}

func isNameChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '-' || c == '_' || c >= 0x80
}

func isHex(text string) bool {
	for idx := 0; idx < len(text); idx++ {
		c := text[idx]
		if !isDigit(c) && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return text != ""
}

// * value parser

type valueParser struct {
	at    pos
	toks  []token
	idx   int
	depth int
}

func parseValue(at pos, text string) (expr, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "progid:") {
		return &rawValue{text: text}, nil
	}

	toks, err := tokenize(at, text)
	if err != nil {
		return nil, err
	}

	vp := &valueParser{at: at, toks: toks}
	value, err := vp.commaList()
	if err != nil {
		return nil, err
	}

	if tok := vp.peek(); tok.kind != tokEOF {
		return nil, at.errorf(SyntaxError, "unexpected %q in %q", tok.text, text)
	}
	return value, nil
}

func (vp *valueParser) peek() token {
	return vp.toks[vp.idx]
}

func (vp *valueParser) advance() token {
	tok := vp.toks[vp.idx]
	if tok.kind != tokEOF {
		vp.idx++
	}
	return tok
}

func (vp *valueParser) commaList() (expr, error) {
	first, err := vp.spaceList()
	if err != nil {
		return nil, err
	}

	if vp.peek().kind != tokComma {
		return first, nil
	}

	items := []expr{first}
	for vp.peek().kind == tokComma {
		vp.advance()
		item, err := vp.spaceList()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &list{items: items, sep: ","}, nil
}

func endsList(kind tokenKind) bool {
	return kind == tokEOF || kind == tokComma || kind == tokRParen
}

func (vp *valueParser) spaceList() (expr, error) {
	items := []expr{}
	slash := false

	for !endsList(vp.peek().kind) {
		tok := vp.peek()
		if tok.kind == tokOp && tok.text == "/" && vp.depth == 0 {
			// outside of parentheses a slash is a separator (font: 12px/1.5)
			if len(items) == 0 {
				return nil, vp.at.errorf(SyntaxError, "unexpected `/`")
			}
			vp.advance()
			slash = true
			continue
		}

		item, err := vp.additive()
		if err != nil {
			return nil, err
		}

		for {
			next := vp.peek()
			if next.spaceBefore || endsList(next.kind) || next.kind == tokOp {
				break
			}
			part, err := vp.primary()
			if err != nil {
				return nil, err
			}
			item = joinConcat(item, part)
		}

		if slash {
			last := items[len(items)-1]
			items[len(items)-1] = joinConcat(joinConcat(last, &keyword{text: "/"}), item)
			slash = false
		} else {
			items = append(items, item)
		}
	}

	if slash {
		return nil, vp.at.errorf(SyntaxError, "missing value after `/`")
	}

	switch len(items) {
	case 0:
		return nil, vp.at.errorf(SyntaxError, "missing value")
	case 1:
		return items[0], nil
	}
	return &list{items: items, sep: " "}, nil
}

func joinConcat(left, right expr) expr {
	if c, ok := left.(*concat); ok {
		c.parts = append(c.parts, right)
		return c
	}
	return &concat{parts: []expr{left, right}}
}

// isSign reports whether tok is a unary sign that starts the next list item as in `1px -@x`
func isSign(tok token) bool {
	return tok.kind == tokOp && (tok.text == "-" || tok.text == "+") && tok.spaceBefore && !tok.spaceAfter
}

func (vp *valueParser) additive() (expr, error) {
	left, err := vp.multiplicative()
	if err != nil {
		return nil, err
	}

	for {
		tok := vp.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") || (isSign(tok) && vp.depth == 0) {
			return left, nil
		}
		vp.advance()

		right, err := vp.multiplicative()
		if err != nil {
			return nil, err
		}
		left = &operation{op: tok.text[0], left: left, right: right}
	}
}

func (vp *valueParser) multiplicative() (expr, error) {
	left, err := vp.unary()
	if err != nil {
		return nil, err
	}

	for {
		tok := vp.peek()
		if tok.kind != tokOp || (tok.text != "*" && !(tok.text == "/" && vp.depth > 0)) {
			return left, nil
		}
		vp.advance()

		right, err := vp.unary()
		if err != nil {
			return nil, err
		}
		left = &operation{op: tok.text[0], left: left, right: right}
	}
}

func (vp *valueParser) unary() (expr, error) {
	tok := vp.peek()
	if tok.kind == tokOp && (tok.text == "-" || tok.text == "+") {
		vp.advance()
		value, err := vp.unary()
		if err != nil {
			return nil, err
		}

		if tok.text == "+" {
			return value, nil
		}
		return &negative{value: value}, nil
	}
	return vp.primary()
}

func (vp *valueParser) primary() (expr, error) {
	tok := vp.advance()

	switch tok.kind {
	case tokNumber:
		return &dimension{value: tok.num, unit: tok.unit}, nil
	case tokColor:
		return parseHexColor(tok.text), nil
	case tokString:
		return &quoted{value: tok.text, quote: tok.quote, escaped: tok.escaped}, nil
	case tokVar:
		return &variable{name: tok.text, indirect: tok.indirect}, nil
	case tokIdent:
		return &keyword{text: tok.text}, nil
	case tokRaw:
		return &rawValue{text: tok.text}, nil
	case tokFunc:
		vp.depth++
		defer func() { vp.depth-- }()

		fn := &call{name: tok.text}
		if vp.peek().kind == tokRParen {
			vp.advance()
			return fn, nil
		}

		for {
			arg, err := vp.spaceList()
			if err != nil {
				return nil, err
			}
			fn.args = append(fn.args, arg)

			next := vp.advance()
			switch next.kind {
			case tokComma:
				continue
			case tokRParen:
				return fn, nil
			default:
				return nil, vp.at.errorf(SyntaxError, "missing closing `)` for %s()", fn.name)
			}
		}
	case tokLParen:
		vp.depth++
		defer func() { vp.depth-- }()

		value, err := vp.commaList()
		if err != nil {
			return nil, err
		}
		if vp.advance().kind != tokRParen {
			return nil, vp.at.errorf(SyntaxError, "missing closing `)`")
		}
		return &paren{value: value}, nil
	case tokEOF:
		return nil, vp.at.errorf(SyntaxError, "unexpected end of value")
	}

	return nil, vp.at.errorf(SyntaxError, "unexpected %q", tok.text)
}

func parseHexColor(text string) *color {
	hex := text[1:]
	if len(hex) == 3 || len(hex) == 4 {
		expanded := make([]byte, 0, len(hex)*2)
		for idx := 0; idx < len(hex); idx++ {
			expanded = append(expanded, hex[idx], hex[idx])
		}
		hex = string(expanded)
	}

	channel := func(idx int) float64 {
		value, _ := strconv.ParseUint(hex[idx:idx+2], 16, 8)
		return float64(value)
	}

	c := &color{r: channel(0), g: channel(2), b: channel(4), a: 1, raw: text}
	if len(hex) == 8 {
		c.a = channel(6) / 255
	}
	return c
}

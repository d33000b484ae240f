package less

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	mixinDefRe   = regexp.MustCompile(`(?s)^([.#][\w-]+)\s*\((.*?)\)\s*(when\b.*)?$`)
	mixinNameRe  = regexp.MustCompile(`^[.#][\w-]+$`)
	namedArgRe   = regexp.MustCompile(`(?s)^@([\w-]+)\s*:(.*)$`)
	paramRe      = regexp.MustCompile(`(?s)^@([\w-]+)\s*(?::(.*))?$`)
	importantRe  = regexp.MustCompile(`(?i)\s*!\s*important\s*$`)
	propertyRe   = regexp.MustCompile(`^\*?[-\w]*(@\{[\w-]+\}[-\w]*)*$`)
	atRuleNameRe = regexp.MustCompile(`^@[\w-]+`)
)

const maxImportDepth = 64

type importer struct {
	paths   []string
	seen    map[string]bool
	imports []string
	depth   int
}

// resolve looks up an import relative to dir and then in each search path
func (imp *importer) resolve(dir, name string) (string, bool) {
	candidates := []string{}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	} else {
		candidates = append(candidates, filepath.Join(dir, name))
		for _, path := range imp.paths {
			candidates = append(candidates, filepath.Join(path, name))
		}
	}

	for _, item := range candidates {
		tries := []string{item}
		if filepath.Ext(item) == "" {
			tries = []string{item + ".less", item}
		}

		for _, path := range tries {
			info, err := os.Stat(path)
			if err == nil && info.Mode().IsRegular() {
				abs, err := filepath.Abs(path)
				if err != nil {
					return path, true
				}
				return abs, true
			}
		}
	}
	return "", false
}

type parser struct {
	src  *source
	text string
	pos  int
	dir  string
	imp  *importer
}

func newParser(filename, text string, imp *importer) *parser {
	return &parser{
		src:  &source{name: filename, text: text},
		text: text,
		dir:  filepath.Dir(filename),
		imp:  imp,
	}
}

func (p *parser) errorf(offset int, kind ErrorKind, format string, args ...interface{}) *Error {
	return pos{src: p.src, offset: offset}.errorf(kind, format, args...)
}

func (p *parser) at(offset int) pos {
	return pos{src: p.src, offset: offset}
}

func (p *parser) parseStylesheet() ([]node, error) {
	return p.parseStatements(false)
}

func (p *parser) parseStatements(inBlock bool) ([]node, error) {
	nodes := make([]node, 0)
	blockStart := p.pos - 1

	for {
		if err := p.skipSpace(&nodes); err != nil {
			return nil, err
		}

		if p.pos >= len(p.text) {
			if inBlock {
				return nil, p.errorf(blockStart, SyntaxError, "missing closing `}`")
			}
			return nodes, nil
		}

		switch p.text[p.pos] {
		case '}':
			if !inBlock {
				return nil, p.errorf(p.pos, SyntaxError, "unexpected `}`")
			}
			p.pos++
			return nodes, nil
		case ';':
			p.pos++
			continue
		}

		stmts, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, stmts...)
	}
}

// skipSpace skips whitespace and comments. Block comments are collected as nodes.
func (p *parser) skipSpace(nodes *[]node) error {
	for p.pos < len(p.text) {
		c := p.text[p.pos]
		switch {
		case isSpace(c):
			p.pos++
		case strings.HasPrefix(p.text[p.pos:], "/*"):
			end := strings.Index(p.text[p.pos+2:], "*/")
			if end < 0 {
				return p.errorf(p.pos, SyntaxError, "unterminated comment")
			}

			text := p.text[p.pos : p.pos+2+end+2]
			if nodes != nil {
				*nodes = append(*nodes, &comment{text: text})
			}
			p.pos += 2 + end + 2
		case strings.HasPrefix(p.text[p.pos:], "//"):
			end := strings.IndexByte(p.text[p.pos:], '\n')
			if end < 0 {
				p.pos = len(p.text)
			} else {
				p.pos += end + 1
			}
		default:
			return nil
		}
	}
	return nil
}

// scan reads from the current position up to the next `{`, `;` or `}` outside of strings, parentheses
// and brackets. Comments are removed from the returned text. The terminator is not consumed; term
// is 0 at the end of the input.
func (p *parser) scan() (string, byte, error) {
	var buf strings.Builder
	parens := 0
	brackets := 0
	start := p.pos

	for p.pos < len(p.text) {
		c := p.text[p.pos]

		switch {
		case c == '"' || c == '\'':
			end, err := p.stringEnd(p.pos)
			if err != nil {
				return "", 0, err
			}
			buf.WriteString(p.text[p.pos:end])
			p.pos = end
			continue
		case strings.HasPrefix(p.text[p.pos:], "/*"):
			end := strings.Index(p.text[p.pos+2:], "*/")
			if end < 0 {
				return "", 0, p.errorf(p.pos, SyntaxError, "unterminated comment")
			}
			buf.WriteByte(' ')
			p.pos += 2 + end + 2
			continue
		case parens == 0 && strings.HasPrefix(p.text[p.pos:], "//"):
			end := strings.IndexByte(p.text[p.pos:], '\n')
			if end < 0 {
				p.pos = len(p.text)
			} else {
				p.pos += end
			}
			continue
		case strings.HasPrefix(p.text[p.pos:], "@{"):
			end := strings.IndexByte(p.text[p.pos:], '}')
			if end < 0 {
				return "", 0, p.errorf(p.pos, SyntaxError, "unterminated interpolation")
			}
			buf.WriteString(p.text[p.pos : p.pos+end+1])
			p.pos += end + 1
			continue
		case c == '(':
			parens++
		case c == ')':
			if parens == 0 {
				return "", 0, p.errorf(p.pos, SyntaxError, "unexpected `)`")
			}
			parens--
		case c == '[':
			brackets++
		case c == ']':
			if brackets > 0 {
				brackets--
			}
		case parens == 0 && brackets == 0 && (c == '{' || c == ';' || c == '}'):
			return buf.String(), c, nil
		}

		buf.WriteByte(c)
		p.pos++
	}

	if parens > 0 {
		return "", 0, p.errorf(start, SyntaxError, "missing closing `)`")
	}
	return buf.String(), 0, nil
}

func (p *parser) stringEnd(start int) (int, error) {
	quote := p.text[start]
	for idx := start + 1; idx < len(p.text); idx++ {
		switch p.text[idx] {
		case '\\':
			idx++
		case quote:
			return idx + 1, nil
		case '\n':
			return 0, p.errorf(start, SyntaxError, "unterminated string")
		}
	}
	return 0, p.errorf(start, SyntaxError, "unterminated string")
}

func (p *parser) parseStatement() ([]node, error) {
	start := p.pos
	if p.text[p.pos] == '@' && !strings.HasPrefix(p.text[p.pos:], "@{") {
		return p.parseAtStatement()
	}

	text, term, err := p.scan()
	if err != nil {
		return nil, err
	}

	switch term {
	case '{':
		p.pos++
		stmt, err := p.parseRuleset(start, text)
		if err != nil {
			return nil, err
		}
		return []node{stmt}, nil
	case ';':
		p.pos++
	case '}':
		// the last statement of a block doesn't need a semicolon
	default:
		return nil, p.errorf(start, SyntaxError, "unexpected end of input, expected `;` or `{`")
	}

	stmt, err := p.parseDeclOrCall(start, text)
	if err != nil || stmt == nil {
		return nil, err
	}
	return []node{stmt}, nil
}

func (p *parser) parseRuleset(start int, text string) (node, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, p.errorf(start, SyntaxError, "missing selector")
	}

	rs := &ruleset{pos: p.at(start)}
	if m := mixinDefRe.FindStringSubmatch(text); m != nil {
		if m[3] != "" {
			return nil, p.errorf(start, SyntaxError, "mixin guards are not supported")
		}

		rs.mixinName = m[1]
		if err := p.parseParams(rs, start, m[2]); err != nil {
			return nil, err
		}
	} else {
		for _, sel := range splitTopLevel(text, ',') {
			sel = strings.TrimSpace(sel)
			if sel == "" {
				return nil, p.errorf(start, SyntaxError, "empty selector in %q", text)
			}
			if strings.Contains(sel, ":extend(") {
				return nil, p.errorf(start, SyntaxError, ":extend is not supported")
			}
			rs.selectors = append(rs.selectors, sel)
		}
	}

	body, err := p.parseStatements(true)
	if err != nil {
		return nil, err
	}
	rs.body = body
	return rs, nil
}

func (p *parser) parseParams(rs *ruleset, start int, text string) error {
	sep := byte(',')
	if len(splitTopLevel(text, ';')) > 1 {
		sep = ';'
	}

	for _, part := range splitTopLevel(text, sep) {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case part == "...":
			rs.variadic = true
			continue
		case strings.HasPrefix(part, "@") && strings.HasSuffix(part, "..."):
			rs.variadic = true
			rs.restName = part[1 : len(part)-3]
			continue
		}

		m := paramRe.FindStringSubmatch(part)
		if m == nil {
			return p.errorf(start, SyntaxError, "unsupported mixin parameter %q (pattern matching is not supported)", part)
		}

		param := mixinParam{name: m[1]}
		if strings.TrimSpace(m[2]) != "" {
			def, err := parseValue(p.at(start), m[2])
			if err != nil {
				return err
			}
			param.def = def
			param.hasDefault = true
		}
		rs.params = append(rs.params, param)
	}
	return nil
}

func (p *parser) parseDeclOrCall(start int, text string) (node, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	if text[0] == '.' || text[0] == '#' {
		return p.parseMixinCall(start, text)
	}

	idx := strings.IndexByte(text, ':')
	if idx < 0 {
		return nil, p.errorf(start, SyntaxError, "expected `:` after property name in %q", text)
	}

	decl := &declaration{
		pos:  p.at(start),
		name: strings.TrimSpace(text[:idx]),
	}
	if !propertyRe.MatchString(decl.name) || decl.name == "" {
		return nil, p.errorf(start, SyntaxError, "invalid property name %q", decl.name)
	}

	valueText := strings.TrimSpace(text[idx+1:])
	if loc := importantRe.FindStringIndex(valueText); loc != nil {
		decl.important = true
		valueText = valueText[:loc[0]]
	}

	if strings.HasPrefix(decl.name, "--") || decl.name == "unicode-range" {
		decl.value = &rawValue{text: valueText}
		return decl, nil
	}

	if valueText == "" {
		return nil, p.errorf(start, SyntaxError, "missing value for %s", decl.name)
	}

	value, err := parseValue(p.at(start), valueText)
	if err != nil {
		return nil, err
	}
	decl.value = value
	return decl, nil
}

func (p *parser) parseMixinCall(start int, text string) (node, error) {
	call := &mixinCall{pos: p.at(start)}
	if loc := importantRe.FindStringIndex(text); loc != nil {
		call.important = true
		text = strings.TrimSpace(text[:loc[0]])
	}

	pathText := text
	if idx := strings.IndexByte(text, '('); idx >= 0 {
		if !strings.HasSuffix(text, ")") {
			return nil, p.errorf(start, SyntaxError, "malformed mixin call %q", text)
		}

		pathText = text[:idx]
		call.hasParens = true
		args, err := p.parseArgs(start, text[idx+1:len(text)-1])
		if err != nil {
			return nil, err
		}
		call.args = args
	}

	var segment strings.Builder
	flush := func() error {
		if segment.Len() == 0 {
			return nil
		}
		name := segment.String()
		if !mixinNameRe.MatchString(name) {
			return p.errorf(start, SyntaxError, "invalid mixin name %q", name)
		}
		call.path = append(call.path, name)
		segment.Reset()
		return nil
	}

	for _, c := range pathText {
		switch c {
		case ' ', '\t', '\n', '\r', '>':
			if err := flush(); err != nil {
				return nil, err
			}
		case '.', '#':
			if err := flush(); err != nil {
				return nil, err
			}
			segment.WriteRune(c)
		default:
			segment.WriteRune(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(call.path) == 0 {
		return nil, p.errorf(start, SyntaxError, "missing mixin name")
	}
	return call, nil
}

func (p *parser) parseArgs(start int, text string) ([]mixinArg, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	sep := byte(',')
	if len(splitTopLevel(text, ';')) > 1 {
		sep = ';'
	}

	args := make([]mixinArg, 0)
	for _, part := range splitTopLevel(text, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		arg := mixinArg{}
		if m := namedArgRe.FindStringSubmatch(part); m != nil {
			arg.name = m[1]
			part = m[2]
		}

		value, err := parseValue(p.at(start), part)
		if err != nil {
			return nil, err
		}
		arg.value = value
		args = append(args, arg)
	}
	return args, nil
}

func (p *parser) parseAtStatement() ([]node, error) {
	start := p.pos
	name := atRuleNameRe.FindString(p.text[p.pos:])
	if name == "" {
		return nil, p.errorf(start, SyntaxError, "invalid at-rule")
	}
	p.pos += len(name)

	// variable declaration
	rest := p.pos
	for rest < len(p.text) && isSpace(p.text[rest]) {
		rest++
	}
	if rest < len(p.text) && p.text[rest] == ':' {
		p.pos = rest + 1
		return p.parseVarDecl(start, name[1:])
	}

	if name == "@import" {
		return p.parseImport(start)
	}

	prelude, term, err := p.scan()
	if err != nil {
		return nil, err
	}

	rule := &atRule{
		pos:     p.at(start),
		name:    strings.ToLower(name[1:]),
		prelude: strings.TrimSpace(prelude),
	}

	switch term {
	case '{':
		p.pos++
		body, err := p.parseStatements(true)
		if err != nil {
			return nil, err
		}
		rule.body = body
		rule.hasBody = true
	case ';':
		p.pos++
	case '}':
	default:
		return nil, p.errorf(start, SyntaxError, "unexpected end of input in %s", name)
	}

	return []node{rule}, nil
}

func (p *parser) parseVarDecl(start int, name string) ([]node, error) {
	text, term, err := p.scan()
	if err != nil {
		return nil, err
	}

	switch term {
	case '{':
		return nil, p.errorf(start, SyntaxError, "detached rulesets are not supported (@%s)", name)
	case ';':
		p.pos++
	case '}':
	default:
		return nil, p.errorf(start, SyntaxError, "unexpected end of input, expected `;` after @%s", name)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, p.errorf(start, SyntaxError, "missing value for @%s", name)
	}

	value, err := parseValue(p.at(start), text)
	if err != nil {
		return nil, err
	}

	return []node{&varDecl{pos: p.at(start), name: name, value: value}}, nil
}

func (p *parser) parseImport(start int) ([]node, error) {
	text, term, err := p.scan()
	if err != nil {
		return nil, err
	}

	switch term {
	case ';':
		p.pos++
	case '}', 0:
	default:
		return nil, p.errorf(start, SyntaxError, "malformed @import")
	}

	text = strings.TrimSpace(text)
	options := map[string]bool{}
	if strings.HasPrefix(text, "(") {
		end := strings.IndexByte(text, ')')
		if end < 0 {
			return nil, p.errorf(start, SyntaxError, "malformed @import options")
		}

		for _, opt := range strings.Split(text[1:end], ",") {
			opt = strings.ToLower(strings.TrimSpace(opt))
			switch opt {
			case "less", "css", "inline", "reference", "optional", "once", "multiple":
				options[opt] = true
			case "":
			default:
				return nil, p.errorf(start, SyntaxError, "unknown @import option %s", opt)
			}
		}
		text = strings.TrimSpace(text[end+1:])
	}

	var path string
	isURL := false
	rest := ""
	switch {
	case strings.HasPrefix(text, `"`) || strings.HasPrefix(text, "'"):
		end := strings.IndexByte(text[1:], text[0])
		if end < 0 {
			return nil, p.errorf(start, SyntaxError, "unterminated string in @import")
		}
		path = text[1 : end+1]
		rest = strings.TrimSpace(text[end+2:])
	case strings.HasPrefix(strings.ToLower(text), "url("):
		isURL = true
	default:
		return nil, p.errorf(start, SyntaxError, "expected a quoted path in @import")
	}

	if strings.Contains(path, "@{") {
		return nil, p.errorf(start, SyntaxError, "variable interpolation in import paths is not supported")
	}

	lowerPath := strings.ToLower(path)
	isCSS := options["css"] || isURL || rest != "" ||
		strings.HasPrefix(lowerPath, "http://") || strings.HasPrefix(lowerPath, "https://") ||
		strings.HasPrefix(path, "//") || (strings.HasSuffix(lowerPath, ".css") && !options["less"])

	if isCSS && !options["inline"] {
		return []node{&cssImport{text: "@import " + text + ";"}}, nil
	}

	resolved, found := p.imp.resolve(p.dir, path)
	if !found {
		if options["optional"] {
			return nil, nil
		}
		return nil, p.errorf(start, ImportError, "%s wasn't found", path)
	}

	if options["inline"] {
		content, err := ioutil.ReadFile(resolved)
		if err != nil {
			return nil, p.errorf(start, ImportError, "failed to read %s: %s", path, err)
		}

		p.imp.imports = append(p.imp.imports, resolved)
		raw := &rawCSS{text: string(content), reference: options["reference"]}
		return []node{raw}, nil
	}

	if p.imp.seen[resolved] && !options["multiple"] {
		return nil, nil
	}

	if p.imp.depth >= maxImportDepth {
		return nil, p.errorf(start, ImportError, "imports nested too deeply at %s", path)
	}

	content, err := ioutil.ReadFile(resolved)
	if err != nil {
		return nil, p.errorf(start, ImportError, "failed to read %s: %s", path, err)
	}

	p.imp.seen[resolved] = true
	p.imp.imports = append(p.imp.imports, resolved)
	p.imp.depth++
	defer func() { p.imp.depth-- }()

	sub := newParser(resolved, string(content), p.imp)
	nodes, err := sub.parseStylesheet()
	if err != nil {
		return nil, err
	}

	if options["reference"] {
		markReference(nodes)
	}
	return nodes, nil
}

// * helpers

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// splitTopLevel splits text at sep, ignoring separators inside strings, parentheses and brackets
func splitTopLevel(text string, sep byte) []string {
	parts := []string{}
	depth := 0
	last := 0

	for idx := 0; idx < len(text); idx++ {
		c := text[idx]
		switch {
		case c == '"' || c == '\'':
			for idx++; idx < len(text) && text[idx] != c; idx++ {
				if text[idx] == '\\' {
					idx++
				}
			}
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, text[last:idx])
			last = idx + 1
		}
	}
	return append(parts, text[last:])
}

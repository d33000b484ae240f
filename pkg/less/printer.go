package less

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Evaluated output

type outNode interface{}

type cssRule struct {
	// selectors is empty for declarations directly inside blocks like @font-face
	selectors []string
	// items holds *cssDecl and *cssComment
	items []interface{}
}

type cssDecl struct {
	name      string
	value     expr
	important bool
}

type cssBlock struct {
	name    string
	prelude string
	body    []outNode
}

type cssComment struct {
	text string
}

type cssStatement struct {
	text     string
	isImport bool
}

type cssRaw struct {
	text string
}

var combinatorRe = regexp.MustCompile(`\s*([>+~])\s*`)

type printer struct {
	buf      strings.Builder
	compress bool
}

func render(nodes []outNode, compress bool) []byte {
	p := &printer{compress: compress}

	// @charset and plain CSS imports have to come first
	rest := make([]outNode, 0, len(nodes))
	for _, item := range nodes {
		if stmt, ok := item.(*cssStatement); ok && (stmt.isImport || strings.HasPrefix(stmt.text, "@charset")) {
			p.statement(stmt, 0)
		} else {
			rest = append(rest, item)
		}
	}

	p.nodes(rest, 0)
	return []byte(p.buf.String())
}

func (p *printer) indent(depth int) {
	if !p.compress {
		p.buf.WriteString(strings.Repeat("  ", depth))
	}
}

func (p *printer) newline() {
	if !p.compress {
		p.buf.WriteByte('\n')
	}
}

func (p *printer) keepComment(text string) bool {
	return !p.compress || strings.HasPrefix(text, "/*!")
}

func (p *printer) nodes(nodes []outNode, depth int) {
	for _, item := range nodes {
		switch item := item.(type) {
		case *cssRule:
			p.rule(item, depth)
		case *cssBlock:
			p.block(item, depth)
		case *cssComment:
			if p.keepComment(item.text) {
				p.indent(depth)
				p.buf.WriteString(item.text)
				p.newline()
			}
		case *cssStatement:
			p.statement(item, depth)
		case *cssRaw:
			text := strings.TrimSpace(item.text)
			if text != "" {
				p.buf.WriteString(text)
				p.newline()
			}
		}
	}
}

func (p *printer) statement(stmt *cssStatement, depth int) {
	p.indent(depth)
	p.buf.WriteString(stmt.text)
	if !strings.HasSuffix(stmt.text, ";") {
		p.buf.WriteByte(';')
	}
	p.newline()
}

func hasDecls(rule *cssRule) bool {
	for _, item := range rule.items {
		if _, ok := item.(*cssDecl); ok {
			return true
		}
	}
	return false
}

func printable(item outNode, compress bool) bool {
	switch item := item.(type) {
	case *cssRule:
		return hasDecls(item)
	case *cssBlock:
		for _, child := range item.body {
			if printable(child, compress) {
				return true
			}
		}
		return false
	case *cssComment:
		return !compress || strings.HasPrefix(item.text, "/*!")
	case *cssRaw:
		return strings.TrimSpace(item.text) != ""
	}
	return true
}

func (p *printer) selectors(selectors []string, depth int) {
	for idx, sel := range selectors {
		if p.compress {
			if idx > 0 {
				p.buf.WriteByte(',')
			}
			p.buf.WriteString(combinatorRe.ReplaceAllString(sel, "$1"))
			continue
		}

		if idx > 0 {
			p.buf.WriteString(",\n")
		}
		p.indent(depth)
		p.buf.WriteString(sel)
	}
}

func (p *printer) rule(rule *cssRule, depth int) {
	if !hasDecls(rule) {
		return
	}

	if len(rule.selectors) == 0 {
		p.items(rule.items, depth)
		return
	}

	p.selectors(rule.selectors, depth)
	if p.compress {
		p.buf.WriteByte('{')
	} else {
		p.buf.WriteString(" {\n")
	}

	p.items(rule.items, depth+1)

	p.indent(depth)
	p.buf.WriteByte('}')
	p.newline()
}

func (p *printer) items(items []interface{}, depth int) {
	decls := 0
	for _, item := range items {
		if _, ok := item.(*cssDecl); ok {
			decls++
		}
	}

	for _, item := range items {
		switch item := item.(type) {
		case *cssComment:
			if p.keepComment(item.text) {
				p.indent(depth)
				p.buf.WriteString(item.text)
				p.newline()
			}
		case *cssDecl:
			decls--
			p.indent(depth)
			p.buf.WriteString(item.name)
			p.buf.WriteByte(':')
			if !p.compress {
				p.buf.WriteByte(' ')
			}
			p.buf.WriteString(formatValue(item.value, p.compress))
			if item.important {
				if !p.compress {
					p.buf.WriteByte(' ')
				}
				p.buf.WriteString("!important")
			}

			// the last semicolon is optional
			if !p.compress || decls > 0 {
				p.buf.WriteByte(';')
			}
			p.newline()
		}
	}
}

func (p *printer) block(block *cssBlock, depth int) {
	if !printable(block, p.compress) {
		return
	}

	p.indent(depth)
	p.buf.WriteByte('@')
	p.buf.WriteString(block.name)
	if block.prelude != "" {
		p.buf.WriteByte(' ')
		p.buf.WriteString(block.prelude)
	}

	if p.compress {
		p.buf.WriteByte('{')
	} else {
		p.buf.WriteString(" {\n")
	}

	p.nodes(block.body, depth+1)

	p.indent(depth)
	p.buf.WriteByte('}')
	p.newline()
}

// * values

func formatNumber(value float64, compress bool) string {
	value = math.Round(value*1e8) / 1e8
	if value == 0 {
		// normalizes -0
		value = 0
	}

	text := strconv.FormatFloat(value, 'f', -1, 64)
	if compress {
		if strings.HasPrefix(text, "0.") {
			text = text[1:]
		} else if strings.HasPrefix(text, "-0.") {
			text = "-" + text[2:]
		}
	}
	return text
}

func shortHex(hex string) string {
	if len(hex) == 7 && hex[1] == hex[2] && hex[3] == hex[4] && hex[5] == hex[6] {
		return "#" + string(hex[1]) + string(hex[3]) + string(hex[5])
	}
	return hex
}

func formatColor(c *color, compress bool) string {
	if c.raw != "" {
		if compress {
			return shortHex(strings.ToLower(c.raw))
		}
		return c.raw
	}

	r := math.Round(clamp(c.r, 0, 255))
	g := math.Round(clamp(c.g, 0, 255))
	b := math.Round(clamp(c.b, 0, 255))
	a := clamp(c.a, 0, 1)

	if a < 1 {
		sep := ", "
		if compress {
			sep = ","
		}
		return "rgba(" + strings.Join([]string{
			formatNumber(r, compress),
			formatNumber(g, compress),
			formatNumber(b, compress),
			formatNumber(a, compress),
		}, sep) + ")"
	}

	hex := fmt.Sprintf("#%02x%02x%02x", int(r), int(g), int(b))
	if compress {
		return shortHex(hex)
	}
	return hex
}

func formatValue(value expr, compress bool) string {
	switch value := value.(type) {
	case *dimension:
		return formatNumber(value.value, compress) + value.unit
	case *color:
		return formatColor(value, compress)
	case *keyword:
		return value.text
	case *quoted:
		if value.escaped {
			return value.value
		}
		return string(value.quote) + value.value + string(value.quote)
	case *rawValue:
		return value.text
	case *variable:
		if value.indirect {
			return "@@" + value.name
		}
		return "@" + value.name
	case *call:
		sep := ", "
		if compress {
			sep = ","
		}
		args := make([]string, 0, len(value.args))
		for _, arg := range value.args {
			args = append(args, formatValue(arg, compress))
		}
		return value.name + "(" + strings.Join(args, sep) + ")"
	case *operation:
		return formatValue(value.left, compress) + " " + string(value.op) + " " + formatValue(value.right, compress)
	case *negative:
		return "-" + formatValue(value.value, compress)
	case *paren:
		return "(" + formatValue(value.value, compress) + ")"
	case *list:
		sep := value.sep
		if sep == "," && !compress {
			sep = ", "
		}
		items := make([]string, 0, len(value.items))
		for _, item := range value.items {
			items = append(items, formatValue(item, compress))
		}
		return strings.Join(items, sep)
	case *concat:
		var buf strings.Builder
		for _, part := range value.parts {
			buf.WriteString(formatValue(part, compress))
		}
		return buf.String()
	}
	return ""
}

package less

import (
	"regexp"
	"strings"
)

var (
	interpolationRe = regexp.MustCompile(`@\{([\w-]+)\}`)
	bareVariableRe  = regexp.MustCompile(`@@?[\w-]+`)
)

type binding struct {
	value expr
	// scope the value is evaluated in, nil once evaluated
	scope *scope
	pos   pos
	done  bool
	busy  bool
}

type mixinEntry struct {
	rs    *ruleset
	scope *scope
}

type scope struct {
	parent *scope
	vars   map[string]*binding
	mixins map[string][]mixinEntry
}

// newScope creates a child of parent with all variables and mixins declared in nodes. Variables
// are lazy and the last declaration wins.
func newScope(parent *scope, nodes []node) *scope {
	sc := &scope{
		parent: parent,
		vars:   make(map[string]*binding),
		mixins: make(map[string][]mixinEntry),
	}

	for _, item := range nodes {
		switch item := item.(type) {
		case *varDecl:
			sc.vars[item.name] = &binding{value: item.value, scope: sc, pos: item.pos}
		case *ruleset:
			if name := mixinKey(item); name != "" {
				sc.mixins[name] = append(sc.mixins[name], mixinEntry{rs: item, scope: sc})
			}
		}
	}
	return sc
}

func (s *scope) bind(name string, value expr, evaluated bool) {
	b := &binding{value: value, done: evaluated}
	if !evaluated {
		b.scope = s
	}
	s.vars[name] = b
}

func (s *scope) lookup(name string) *binding {
	for sc := s; sc != nil; sc = sc.parent {
		if b, ok := sc.vars[name]; ok {
			return b
		}
	}
	return nil
}

func (s *scope) lookupMixins(name string) []mixinEntry {
	for sc := s; sc != nil; sc = sc.parent {
		if entries := sc.mixins[name]; len(entries) > 0 {
			return entries
		}
	}
	return nil
}

func mixinKey(rs *ruleset) string {
	if rs.isMixinDef() {
		return rs.mixinName
	}
	if len(rs.selectors) == 1 && mixinNameRe.MatchString(rs.selectors[0]) {
		return rs.selectors[0]
	}
	return ""
}

type condition struct {
	name    string
	prelude string
}

type frame struct {
	scope     *scope
	selectors []string
	// rule receives declarations, nil outside of rulesets
	rule *cssRule
	// out receives rules and blocks
	out *[]outNode
	// root receives bubbled @media and @supports blocks
	root *[]outNode
	cond *condition
	// condOut is the container of the innermost conditional block
	condOut   *[]outNode
	important bool
	reference bool
	expanding bool
}

// isReference reports whether output for a node with the given flag is suppressed
func (f *frame) isReference(flag bool) bool {
	return f.reference || (flag && !f.expanding)
}

func discard() *[]outNode {
	nodes := make([]outNode, 0)
	return &nodes
}

const maxMixinDepth = 256

type evaluator struct {
	strict bool
	active map[*ruleset]bool
	depth  int
}

func (e *evaluator) evaluate(nodes []node) ([]outNode, error) {
	out := make([]outNode, 0)
	f := frame{
		scope: newScope(nil, nodes),
		out:   &out,
		root:  &out,
	}

	if err := e.evalBody(f, nodes); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *evaluator) evalBody(f frame, nodes []node) error {
	for _, item := range nodes {
		var err error

		switch item := item.(type) {
		case *varDecl:
			// hoisted by newScope
		case *comment:
			if f.isReference(item.reference) {
				continue
			}
			if f.rule != nil {
				f.rule.items = append(f.rule.items, &cssComment{text: item.text})
			} else {
				*f.out = append(*f.out, &cssComment{text: item.text})
			}
		case *declaration:
			err = e.evalDeclaration(f, item)
		case *ruleset:
			if !item.isMixinDef() {
				err = e.evalRuleset(f, item)
			}
		case *mixinCall:
			err = e.evalMixinCall(f, item)
		case *atRule:
			err = e.evalAtRule(f, item)
		case *cssImport:
			if !f.isReference(item.reference) {
				*f.root = append(*f.root, &cssStatement{text: item.text, isImport: true})
			}
		case *rawCSS:
			if !f.isReference(item.reference) {
				*f.out = append(*f.out, &cssRaw{text: item.text})
			}
		}

		if err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) evalDeclaration(f frame, decl *declaration) error {
	if f.rule == nil {
		return decl.pos.errorf(SyntaxError, "declaration %s outside of a ruleset", decl.name)
	}

	name, err := e.interpolate(decl.name, f.scope, decl.pos)
	if err != nil {
		return err
	}

	value, err := e.eval(decl.value, f.scope, decl.pos)
	if err != nil {
		return err
	}

	f.rule.items = append(f.rule.items, &cssDecl{
		name:      name,
		value:     value,
		important: decl.important || f.important,
	})
	return nil
}

func (e *evaluator) evalRuleset(f frame, rs *ruleset) error {
	selectors := make([]string, 0, len(rs.selectors))
	for _, sel := range rs.selectors {
		sel, err := e.interpolate(sel, f.scope, rs.pos)
		if err != nil {
			return err
		}
		selectors = append(selectors, strings.Join(strings.Fields(sel), " "))
	}

	child := f
	child.scope = newScope(f.scope, rs.body)
	child.selectors = joinSelectors(f.selectors, selectors)
	child.rule = &cssRule{selectors: child.selectors}

	if f.isReference(rs.reference) {
		child.reference = true
		child.out = discard()
		child.root = child.out
		child.condOut = child.out
	}

	*child.out = append(*child.out, child.rule)
	return e.evalBody(child, rs.body)
}

// joinSelectors combines each parent with each child. `&` is replaced with the parent, otherwise
// the child becomes a descendant.
func joinSelectors(parents, children []string) []string {
	if len(parents) == 0 {
		result := make([]string, 0, len(children))
		for _, child := range children {
			child = strings.TrimSpace(strings.ReplaceAll(child, "&", ""))
			result = append(result, child)
		}
		return result
	}

	result := make([]string, 0, len(parents)*len(children))
	for _, parent := range parents {
		for _, child := range children {
			if strings.Contains(child, "&") {
				result = append(result, strings.ReplaceAll(child, "&", parent))
			} else {
				result = append(result, parent+" "+child)
			}
		}
	}
	return result
}

func (e *evaluator) evalAtRule(f frame, rule *atRule) error {
	prelude, err := e.interpolateRaw(rule.prelude, f.scope, rule.pos)
	if err != nil {
		return err
	}
	prelude = strings.Join(strings.Fields(prelude), " ")

	if !rule.hasBody {
		if !f.isReference(rule.reference) {
			text := "@" + rule.name
			if prelude != "" {
				text += " " + prelude
			}
			*f.out = append(*f.out, &cssStatement{text: text})
		}
		return nil
	}

	block := &cssBlock{name: rule.name, prelude: prelude}
	child := f
	child.scope = newScope(f.scope, rule.body)
	child.out = &block.body

	switch rule.name {
	case "media", "supports":
		var container *[]outNode
		switch {
		case f.cond != nil && f.cond.name == rule.name:
			if prelude != "" {
				block.prelude = f.cond.prelude + " and " + prelude
			} else {
				block.prelude = f.cond.prelude
			}
			container = f.condOut
		case f.cond != nil:
			container = f.out
		default:
			container = f.root
		}

		if f.isReference(rule.reference) {
			child.reference = true
			container = discard()
			child.root = container
		}

		*container = append(*container, block)
		child.cond = &condition{name: rule.name, prelude: block.prelude}
		child.condOut = container
		child.rule = nil
		if len(f.selectors) > 0 {
			child.rule = &cssRule{selectors: f.selectors}
			block.body = append(block.body, child.rule)
		}
	default:
		// @font-face, @keyframes, @page and friends keep their content as-is
		container := f.out
		if f.isReference(rule.reference) {
			child.reference = true
			container = discard()
			child.root = container
		}

		*container = append(*container, block)
		child.selectors = nil
		child.cond = nil
		child.condOut = nil
		child.rule = &cssRule{}
		block.body = append(block.body, child.rule)
	}

	return e.evalBody(child, rule.body)
}

// * mixins

func (e *evaluator) findMixins(sc *scope, call *mixinCall) []mixinEntry {
	entries := sc.lookupMixins(call.path[0])
	for _, segment := range call.path[1:] {
		next := make([]mixinEntry, 0)
		for _, entry := range entries {
			ns := newScope(entry.scope, entry.rs.body)
			next = append(next, ns.mixins[segment]...)
		}
		entries = next
	}
	return entries
}

func mixinAccepts(rs *ruleset, call *mixinCall) bool {
	if !rs.isMixinDef() {
		return len(call.args) == 0
	}

	positional := 0
	named := make(map[string]bool)
	for _, arg := range call.args {
		if arg.name == "" {
			positional++
			continue
		}

		known := false
		for _, param := range rs.params {
			if param.name == arg.name {
				known = true
				break
			}
		}
		if !known {
			return false
		}
		named[arg.name] = true
	}

	idx := 0
	for _, param := range rs.params {
		switch {
		case named[param.name]:
		case idx < positional:
			idx++
		case !param.hasDefault:
			return false
		}
	}
	return idx == positional || rs.variadic
}

func (e *evaluator) evalMixinCall(f frame, call *mixinCall) error {
	name := strings.Join(call.path, " > ")
	entries := e.findMixins(f.scope, call)
	if len(entries) == 0 {
		return call.pos.errorf(NameError, "%s is undefined", name)
	}

	matched := 0
	for _, entry := range entries {
		if !mixinAccepts(entry.rs, call) {
			continue
		}

		matched++
		if err := e.expandMixin(f, call, entry); err != nil {
			return err
		}
	}

	if matched == 0 {
		return call.pos.errorf(ArgumentError, "no matching definition was found for %s with %d arguments", name, len(call.args))
	}
	return nil
}

func (e *evaluator) expandMixin(f frame, call *mixinCall, entry mixinEntry) error {
	rs := entry.rs
	if e.active[rs] {
		return call.pos.errorf(OperationError, "recursive mixin call %s", strings.Join(call.path, " > "))
	}
	if e.depth >= maxMixinDepth {
		return call.pos.errorf(OperationError, "mixin calls nested too deeply at %s", strings.Join(call.path, " > "))
	}

	e.active[rs] = true
	e.depth++
	defer func() {
		delete(e.active, rs)
		e.depth--
	}()

	params := newScope(entry.scope, nil)
	if rs.isMixinDef() {
		if err := e.bindParams(f, call, rs, params); err != nil {
			return err
		}
	}

	child := f
	child.scope = newScope(params, rs.body)
	child.important = f.important || call.important
	child.expanding = true
	return e.evalBody(child, rs.body)
}

func (e *evaluator) bindParams(f frame, call *mixinCall, rs *ruleset, params *scope) error {
	named := make(map[string]expr)
	positional := make([]expr, 0)
	for _, arg := range call.args {
		value, err := e.eval(arg.value, f.scope, call.pos)
		if err != nil {
			return err
		}

		if arg.name != "" {
			named[arg.name] = value
		} else {
			positional = append(positional, value)
		}
	}

	arguments := make([]expr, 0, len(rs.params))
	idx := 0
	for _, param := range rs.params {
		if value, ok := named[param.name]; ok {
			params.bind(param.name, value, true)
		} else if idx < len(positional) {
			params.bind(param.name, positional[idx], true)
			idx++
		} else {
			params.bind(param.name, param.def, false)
		}
		arguments = append(arguments, &variable{name: param.name})
	}

	rest := positional[idx:]
	if rs.restName != "" {
		if len(rest) > 0 {
			params.bind(rs.restName, &list{items: rest, sep: " "}, true)
		} else {
			params.bind(rs.restName, &keyword{}, true)
		}
	}
	arguments = append(arguments, rest...)

	if len(arguments) > 0 {
		params.bind("arguments", &list{items: arguments, sep: " "}, false)
	} else {
		params.bind("arguments", &keyword{}, true)
	}
	return nil
}

// * values

func (e *evaluator) variable(sc *scope, name string, at pos) (expr, error) {
	b := sc.lookup(name)
	if b == nil {
		return nil, at.errorf(NameError, "variable @%s is undefined", name)
	}

	if b.done {
		return b.value, nil
	}
	if b.busy {
		return nil, at.errorf(NameError, "recursive variable definition for @%s", name)
	}

	evalAt := b.pos
	if evalAt.src == nil {
		evalAt = at
	}

	b.busy = true
	value, err := e.eval(b.value, b.scope, evalAt)
	b.busy = false
	if err != nil {
		return nil, err
	}

	b.value = value
	b.scope = nil
	b.done = true
	return value, nil
}

func (e *evaluator) eval(value expr, sc *scope, at pos) (expr, error) {
	switch value := value.(type) {
	case *dimension, *color:
		return value, nil
	case *keyword:
		if !strings.Contains(value.text, "@{") {
			return value, nil
		}
		text, err := e.interpolate(value.text, sc, at)
		if err != nil {
			return nil, err
		}
		return &keyword{text: text}, nil
	case *quoted:
		text, err := e.interpolate(value.value, sc, at)
		if err != nil {
			return nil, err
		}
		return &quoted{value: text, quote: value.quote, escaped: value.escaped}, nil
	case *rawValue:
		text, err := e.interpolateRaw(value.text, sc, at)
		if err != nil {
			return nil, err
		}
		return &rawValue{text: text}, nil
	case *variable:
		name := value.name
		if value.indirect {
			ref, err := e.variable(sc, name, at)
			if err != nil {
				return nil, err
			}
			name = interpolationValue(ref)
		}
		return e.variable(sc, name, at)
	case *call:
		return e.evalCall(value, sc, at)
	case *operation:
		left, err := e.eval(value.left, sc, at)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(value.right, sc, at)
		if err != nil {
			return nil, err
		}
		return operate(at, value.op, unwrapParen(left), unwrapParen(right), e.strict)
	case *negative:
		inner, err := e.eval(value.value, sc, at)
		if err != nil {
			return nil, err
		}
		if dim, ok := unwrapParen(inner).(*dimension); ok {
			return &dimension{value: -dim.value, unit: dim.unit}, nil
		}
		return &concat{parts: []expr{&keyword{text: "-"}, inner}}, nil
	case *paren:
		inner, err := e.eval(value.value, sc, at)
		if err != nil {
			return nil, err
		}
		switch inner.(type) {
		case *dimension, *color:
			return inner, nil
		}
		return &paren{value: inner}, nil
	case *list:
		items := make([]expr, 0, len(value.items))
		for _, item := range value.items {
			evaluated, err := e.eval(item, sc, at)
			if err != nil {
				return nil, err
			}
			items = append(items, evaluated)
		}
		return &list{items: items, sep: value.sep}, nil
	case *concat:
		parts := make([]expr, 0, len(value.parts))
		for _, part := range value.parts {
			evaluated, err := e.eval(part, sc, at)
			if err != nil {
				return nil, err
			}
			parts = append(parts, evaluated)
		}
		return &concat{parts: parts}, nil
	}

	return nil, at.errorf(OperationError, "can't evaluate %T", value)
}

func unwrapParen(value expr) expr {
	for {
		p, ok := value.(*paren)
		if !ok {
			return value
		}
		value = p.value
	}
}

func (e *evaluator) evalCall(fn *call, sc *scope, at pos) (expr, error) {
	args := make([]expr, 0, len(fn.args))
	for _, arg := range fn.args {
		value, err := e.eval(arg, sc, at)
		if err != nil {
			return nil, err
		}
		args = append(args, unwrapParen(value))
	}

	impl, ok := builtins[strings.ToLower(fn.name)]
	if !ok {
		return &call{name: fn.name, args: args}, nil
	}

	result, err := impl(at, args)
	if err != nil {
		// plain CSS like rgb(var(--x)) or rgb(0 0 0 / 50%) is passed through
		if lessErr, ok := err.(*Error); ok && lessErr.Kind == ArgumentError && !allNumeric(args) {
			return &call{name: fn.name, args: args}, nil
		}
		return nil, err
	}
	return result, nil
}

func allNumeric(args []expr) bool {
	for _, arg := range args {
		switch arg := arg.(type) {
		case *dimension, *color:
		case *keyword:
			if _, ok := namedColors[strings.ToLower(arg.text)]; !ok {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// interpolationValue formats a value for use inside selectors and strings
func interpolationValue(value expr) string {
	if str, ok := value.(*quoted); ok {
		return str.value
	}
	return formatValue(value, false)
}

// interpolate replaces @{name} references in text
func (e *evaluator) interpolate(text string, sc *scope, at pos) (string, error) {
	if !strings.Contains(text, "@{") {
		return text, nil
	}

	var firstErr error
	result := interpolationRe.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}

		value, err := e.variable(sc, match[2:len(match)-1], at)
		if err != nil {
			firstErr = err
			return match
		}
		return interpolationValue(value)
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// interpolateRaw additionally replaces bare @name references outside of strings
func (e *evaluator) interpolateRaw(text string, sc *scope, at pos) (string, error) {
	text, err := e.interpolate(text, sc, at)
	if err != nil || !strings.Contains(text, "@") {
		return text, err
	}

	var buf strings.Builder
	for idx := 0; idx < len(text); {
		c := text[idx]
		if c == '"' || c == '\'' {
			end := idx + 1
			for end < len(text) && text[end] != c {
				if text[end] == '\\' {
					end++
				}
				end++
			}
			if end < len(text) {
				end++
			}
			buf.WriteString(text[idx:end])
			idx = end
			continue
		}

		if c == '@' {
			if match := bareVariableRe.FindString(text[idx:]); match != "" {
				ref := &variable{name: strings.TrimLeft(match, "@"), indirect: strings.HasPrefix(match, "@@")}
				value, err := e.eval(ref, sc, at)
				if err != nil {
					return "", err
				}

				buf.WriteString(formatValue(value, false))
				idx += len(match)
				continue
			}
		}

		buf.WriteByte(c)
		idx++
	}
	return buf.String(), nil
}

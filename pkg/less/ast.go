package less

// Statements produced by the parser

type node interface{}

type ruleset struct {
	pos       pos
	selectors []string
	// mixinName and params are set for parametric mixin definitions like .m(@a; @b: 2) {}
	mixinName string
	params    []mixinParam
	variadic  bool
	restName  string
	body      []node
	reference bool
}

func (r *ruleset) isMixinDef() bool {
	return r.mixinName != ""
}

type mixinParam struct {
	name       string
	def        expr
	hasDefault bool
}

type declaration struct {
	pos       pos
	name      string
	value     expr
	important bool
}

type varDecl struct {
	pos   pos
	name  string
	value expr
}

type mixinArg struct {
	name  string
	value expr
}

type mixinCall struct {
	pos       pos
	path      []string
	args      []mixinArg
	hasParens bool
	important bool
}

type atRule struct {
	pos     pos
	name    string
	prelude string
	// body is nil for statements like @charset
	body      []node
	hasBody   bool
	reference bool
}

type comment struct {
	text      string
	reference bool
}

// cssImport is kept as a plain @import in the output
type cssImport struct {
	text      string
	reference bool
}

// rawCSS is the content of an (inline) import
type rawCSS struct {
	text      string
	reference bool
}

func markReference(nodes []node) {
	for _, item := range nodes {
		switch item := item.(type) {
		case *ruleset:
			item.reference = true
			markReference(item.body)
		case *atRule:
			item.reference = true
			markReference(item.body)
		case *comment:
			item.reference = true
		case *cssImport:
			item.reference = true
		case *rawCSS:
			item.reference = true
		}
	}
}

// Package less compiles a practical subset of the LESS stylesheet language to CSS.
//
// Supported are variables, interpolation, nesting, mixins with parameters and namespaces, imports,
// @media bubbling, arithmetic with unit checks and a small set of builtin functions. Guards,
// :extend, detached rulesets, plugins and JavaScript evaluation are not.
package less

import (
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Options control a single compilation
type Options struct {
	// Compress removes all optional whitespace and comments (except /*! ones)
	Compress bool
	// StrictMath rejects operations mixing incompatible units
	StrictMath bool
	// Paths are searched for imports that can't be found relative to the importing file
	Paths []string
	// GlobalVars are declared before the source and can be overridden by it
	GlobalVars map[string]string
	// ModifyVars are declared after the source and override its declarations
	ModifyVars map[string]string
}

// Result holds the compiled CSS and every file that was read to produce it
type Result struct {
	CSS     []byte
	Imports []string
}

func varNodes(filename string, vars map[string]string, imp *importer) ([]node, error) {
	if len(vars) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf strings.Builder
	for _, name := range names {
		buf.WriteString("@" + strings.TrimPrefix(name, "@") + ": " + vars[name] + ";\n")
	}

	return newParser(filename, buf.String(), imp).parseStylesheet()
}

// Compile compiles src. filename is used for error messages and to resolve relative imports.
func Compile(filename string, src []byte, opts Options) (*Result, error) {
	imp := &importer{
		paths: opts.Paths,
		seen:  make(map[string]bool),
	}

	if abs, err := filepath.Abs(filename); err == nil {
		imp.seen[abs] = true
	}

	globals, err := varNodes("<globalVars>", opts.GlobalVars, imp)
	if err != nil {
		return nil, err
	}

	nodes, err := newParser(filename, string(src), imp).parseStylesheet()
	if err != nil {
		return nil, err
	}

	modify, err := varNodes("<modifyVars>", opts.ModifyVars, imp)
	if err != nil {
		return nil, err
	}

	all := make([]node, 0, len(globals)+len(nodes)+len(modify))
	all = append(all, globals...)
	all = append(all, nodes...)
	all = append(all, modify...)

	e := &evaluator{
		strict: opts.StrictMath,
		active: make(map[*ruleset]bool),
	}
	out, err := e.evaluate(all)
	if err != nil {
		return nil, err
	}

	return &Result{
		CSS:     render(out, opts.Compress),
		Imports: imp.imports,
	}, nil
}

// CompileFile reads and compiles the file at path
func CompileFile(path string, opts Options) (*Result, error) {
	src, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	return Compile(path, src, opts)
}

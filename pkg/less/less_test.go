package less_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/stylebuild/pkg/less"
)

func compile(t *testing.T, src string, opts less.Options) string {
	t.Helper()
	result, err := less.Compile("test.less", []byte(src), opts)
	require.NoError(t, err)
	return string(result.CSS)
}

func compileError(t *testing.T, src string, opts less.Options) *less.Error {
	t.Helper()
	_, err := less.Compile("test.less", []byte(src), opts)
	require.Error(t, err)

	var lessErr *less.Error
	require.True(t, errors.As(err, &lessErr), "unexpected error type %T", err)
	return lessErr
}

const nestingSource = `
@color: #336699;
.a {
  color: @color;
  .b { margin: 0; }
  &:hover { color: red; }
}
`

func TestCompile_Nesting(t *testing.T) {
	t.Run("Should expand nested rules with variables", func(t *testing.T) {
		css := compile(t, nestingSource, less.Options{})
		assert.Equal(t, ".a {\n  color: #336699;\n}\n.a .b {\n  margin: 0;\n}\n.a:hover {\n  color: red;\n}\n", css)
	})

	t.Run("Should remove optional whitespace when compressing", func(t *testing.T) {
		css := compile(t, nestingSource, less.Options{Compress: true})
		assert.Equal(t, ".a{color:#369}.a .b{margin:0}.a:hover{color:red}", css)
	})

	t.Run("Should combine selector lists", func(t *testing.T) {
		css := compile(t, ".a, .b { > .c { top: 0; } }", less.Options{Compress: true})
		assert.Equal(t, ".a>.c,.b>.c{top:0}", css)
	})

	t.Run("Should resolve variables declared later", func(t *testing.T) {
		css := compile(t, ".a { width: @w; } @w: @base * 2; @base: 5px;", less.Options{Compress: true})
		assert.Equal(t, ".a{width:10px}", css)
	})

	t.Run("Should interpolate selectors and properties", func(t *testing.T) {
		src := "@name: banner;\n.@{name} { @{prop}: 1px; background: url(\"@{file}\"); }\n@prop: width;\n@file: \"a.png\";"
		css := compile(t, src, less.Options{})
		assert.Equal(t, ".banner {\n  width: 1px;\n  background: url(\"a.png\");\n}\n", css)
	})

	t.Run("Should keep slashes outside of parentheses", func(t *testing.T) {
		css := compile(t, ".a { font: 12px/1.5 sans-serif; width: (10px / 2); }", less.Options{Compress: true})
		assert.Equal(t, ".a{font:12px/1.5 sans-serif;width:5px}", css)
	})
}

func TestCompile_Mixins(t *testing.T) {
	t.Run("Should expand parametric and namespaced mixins", func(t *testing.T) {
		src := `
.bordered(@width: 2px; @style: solid) {
  border: @width @style black;
}
#ns {
  .m() { color: blue; }
}
.box {
  .bordered(4px);
  #ns > .m();
}
`
		css := compile(t, src, less.Options{})
		assert.Equal(t, ".box {\n  border: 4px solid black;\n  color: blue;\n}\n", css)
	})

	t.Run("Should bind named arguments and @arguments", func(t *testing.T) {
		src := ".shadow(@x; @y: 0) { box-shadow: @arguments; } .a { .shadow(@y: 2px; @x: 1px); }"
		css := compile(t, src, less.Options{Compress: true})
		assert.Equal(t, ".a{box-shadow:1px 2px}", css)
	})

	t.Run("Should mark declarations important", func(t *testing.T) {
		src := ".base { color: red; } .a { .base() !important; }"
		css := compile(t, src, less.Options{Compress: true})
		assert.Equal(t, ".base{color:red}.a{color:red!important}", css)
	})

	t.Run("Should reject undefined mixins", func(t *testing.T) {
		err := compileError(t, ".a { .missing(); }", less.Options{})
		assert.Equal(t, less.NameError, err.Kind)
	})

	t.Run("Should reject calls without a matching arity", func(t *testing.T) {
		err := compileError(t, ".m(@a) { x: @a; } .a { .m(1; 2); }", less.Options{})
		assert.Equal(t, less.ArgumentError, err.Kind)
	})

	t.Run("Should detect recursive mixins", func(t *testing.T) {
		err := compileError(t, ".a { .a; }", less.Options{})
		assert.Equal(t, less.OperationError, err.Kind)
	})
}

func TestCompile_Media(t *testing.T) {
	t.Run("Should bubble and merge media queries", func(t *testing.T) {
		src := `
.a {
  color: red;
  @media screen {
    color: blue;
    @media (min-width: 768px) {
      color: green;
    }
  }
}
`
		css := compile(t, src, less.Options{})
		assert.Equal(t, ".a {\n  color: red;\n}\n"+
			"@media screen {\n  .a {\n    color: blue;\n  }\n}\n"+
			"@media screen and (min-width: 768px) {\n  .a {\n    color: green;\n  }\n}\n", css)
	})

	t.Run("Should keep other blocks as they are", func(t *testing.T) {
		src := "@font-face { font-family: x; src: url(x.woff); }\n@keyframes spin { from { top: 0; } to { top: 10px; } }"
		css := compile(t, src, less.Options{Compress: true})
		assert.Equal(t, "@font-face{font-family:x;src:url(x.woff)}@keyframes spin{from{top:0}to{top:10px}}", css)
	})
}

func TestCompile_StrictMath(t *testing.T) {
	src := ".a { width: 1px + 1em; }"

	t.Run("Should reject incompatible units", func(t *testing.T) {
		err := compileError(t, src, less.Options{StrictMath: true})
		assert.Equal(t, less.UnitError, err.Kind)
		assert.Equal(t, "test.less", err.Filename)
		assert.Equal(t, 1, err.Line)
	})

	t.Run("Should use the left unit without strict math", func(t *testing.T) {
		css := compile(t, src, less.Options{Compress: true})
		assert.Equal(t, ".a{width:2px}", css)
	})

	t.Run("Should convert compatible units", func(t *testing.T) {
		css := compile(t, ".a { width: 1in + 96px; delay: 1s + 500ms; }", less.Options{StrictMath: true, Compress: true})
		assert.Equal(t, ".a{width:2in;delay:1.5s}", css)
	})

	t.Run("Should allow unitless numbers", func(t *testing.T) {
		css := compile(t, ".a { width: 2 * 3px + 1; }", less.Options{StrictMath: true, Compress: true})
		assert.Equal(t, ".a{width:7px}", css)
	})

	t.Run("Should reject division by zero", func(t *testing.T) {
		err := compileError(t, ".a { width: (1px / 0); }", less.Options{})
		assert.Equal(t, less.OperationError, err.Kind)
	})
}

func TestCompile_Functions(t *testing.T) {
	src := `.a {
  a: percentage(0.5);
  b: lighten(#000, 10%);
  c: fade(#ff0000, 50%);
  d: mix(#ff0000, #0000ff);
  e: round(1.67px);
  f: round(1.234, 2);
  g: unit(5px);
  h: e("calc(1px)");
  i: translate(1px, 2px);
}`

	css := compile(t, src, less.Options{})
	assert.Equal(t, ".a {\n"+
		"  a: 50%;\n"+
		"  b: #1a1a1a;\n"+
		"  c: rgba(255, 0, 0, 0.5);\n"+
		"  d: #800080;\n"+
		"  e: 2px;\n"+
		"  f: 1.23;\n"+
		"  g: 5;\n"+
		"  h: calc(1px);\n"+
		"  i: translate(1px, 2px);\n"+
		"}\n", css)
}

func TestCompile_Comments(t *testing.T) {
	src := "/* normal */\n/*! keep */\n// dropped\n.a { color: red; }"

	t.Run("Should keep block comments", func(t *testing.T) {
		css := compile(t, src, less.Options{})
		assert.Equal(t, "/* normal */\n/*! keep */\n.a {\n  color: red;\n}\n", css)
	})

	t.Run("Should only keep important comments when compressing", func(t *testing.T) {
		css := compile(t, src, less.Options{Compress: true})
		assert.Equal(t, "/*! keep */.a{color:red}", css)
	})
}

func TestCompile_Vars(t *testing.T) {
	src := "@color: red; .a { color: @color; border-color: @base; }"
	css := compile(t, src, less.Options{
		Compress:   true,
		GlobalVars: map[string]string{"base": "blue"},
		ModifyVars: map[string]string{"@color": "green"},
	})
	assert.Equal(t, ".a{color:green;border-color:blue}", css)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestCompileFile_Imports(t *testing.T) {
	t.Run("Should resolve, reference and hoist imports", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{
			"main.less": ".a { width: @base * 2; }\n" +
				"@import \"theme.css\";\n" +
				"@import \"vars\";\n" +
				"@import (reference) \"lib\";\n" +
				".b { .hidden; }\n",
			"vars.less": "@base: 10px;\n",
			"lib.less":  ".hidden { display: none; }\n.lib-only { top: 0; }\n",
		})

		result, err := less.CompileFile(filepath.Join(dir, "main.less"), less.Options{})
		require.NoError(t, err)
		assert.Equal(t, "@import \"theme.css\";\n.a {\n  width: 20px;\n}\n.b {\n  display: none;\n}\n", string(result.CSS))
		assert.Equal(t, []string{filepath.Join(dir, "vars.less"), filepath.Join(dir, "lib.less")}, result.Imports)
	})

	t.Run("Should search include paths", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{
			"src/main.less":       "@import \"shared\";\n.a { color: @c; }\n",
			"include/shared.less": "@c: #fff;\n",
		})

		result, err := less.CompileFile(filepath.Join(dir, "src", "main.less"), less.Options{
			Compress: true,
			Paths:    []string{filepath.Join(dir, "include")},
		})
		require.NoError(t, err)
		assert.Equal(t, ".a{color:#fff}", string(result.CSS))
	})

	t.Run("Should report missing imports", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{
			"main.less": "@import (optional) \"maybe\";\n@import \"missing\";\n",
		})

		_, err := less.CompileFile(filepath.Join(dir, "main.less"), less.Options{})
		var lessErr *less.Error
		require.True(t, errors.As(err, &lessErr))
		assert.Equal(t, less.ImportError, lessErr.Kind)
		assert.Equal(t, 2, lessErr.Line)
	})
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind less.ErrorKind
		line int
	}{
		{"unclosed block", ".a {\n  color: red;\n", less.SyntaxError, 1},
		{"stray brace", ".a { color: red; }\n}", less.SyntaxError, 2},
		{"missing colon", ".a {\n  color red;\n}", less.SyntaxError, 2},
		{"undefined variable", ".a {\n  color: @nope;\n}", less.NameError, 2},
		{"recursive variable", "@a: @b; @b: @a; .x { y: @a; }", less.NameError, 1},
		{"guards", ".m() when (true) { x: y; }", less.SyntaxError, 1},
		{"detached ruleset", "@r: { color: red; }", less.SyntaxError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := compileError(t, tt.src, less.Options{})
			assert.Equal(t, tt.kind, err.Kind, err.Error())
			assert.Equal(t, tt.line, err.Line, err.Error())
		})
	}
}

func TestCompile_Properties(t *testing.T) {
	sources := []string{nestingSource, `
@import "base.css";
/* header */
.nav {
  > li { float: left; padding: 0.5em 1em; }
  a { color: lighten(#336699, 20%); &:hover { color: #ffffff; } }
  @media print { display: none; }
}
`}

	for idx, src := range sources {
		pretty := compile(t, src, less.Options{})
		compressed := compile(t, src, less.Options{Compress: true})

		assert.Equal(t, compressed, compile(t, src, less.Options{Compress: true}), "source %d is not idempotent", idx)
		assert.LessOrEqual(t, len(compressed), len(pretty), "source %d", idx)
	}
}

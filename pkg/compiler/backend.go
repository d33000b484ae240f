package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/stylebuild/pkg/config"
	"github.com/ngld/stylebuild/pkg/less"
)

// Output is the result of compiling a single source file
type Output struct {
	CSS []byte
	// Imports lists every additional file that was read
	Imports []string
}

// Backend turns one LESS source into CSS
type Backend interface {
	Name() string
	Compile(ctx context.Context, source string, opts config.CompileOptions) (*Output, error)
}

// Native compiles with the builtin engine
type Native struct{}

func (Native) Name() string {
	return "native"
}

func (Native) Compile(ctx context.Context, source string, opts config.CompileOptions) (*Output, error) {
	result, err := less.CompileFile(source, less.Options{
		Compress:   opts.Compress,
		StrictMath: opts.StrictMath,
		Paths:      opts.Paths,
		GlobalVars: opts.GlobalVars,
		ModifyVars: opts.ModifyVars,
	})
	if err != nil {
		return nil, err
	}

	return &Output{CSS: result.CSS, Imports: result.Imports}, nil
}

// Lessc runs the reference lessc binary
type Lessc struct {
	Binary string
}

func (l Lessc) Name() string {
	return "lessc:" + l.Binary
}

// Args returns the command line used to compile source
func (l Lessc) Args(source string, opts config.CompileOptions) []string {
	binary := l.Binary
	if binary == "" {
		binary = "lessc"
	}

	args := []string{binary, "--no-color"}
	if opts.Compress {
		args = append(args, "--compress")
	}
	// lessc's --strict-math would stop evaluating operations outside of parentheses. StrictMath
	// only rejects unit coercions, which is --strict-units.
	if opts.StrictMath {
		args = append(args, "--strict-units=on")
	}
	if len(opts.Paths) > 0 {
		args = append(args, "--include-path="+strings.Join(opts.Paths, string(filepath.ListSeparator)))
	}
	for _, name := range sortedKeys(opts.GlobalVars) {
		args = append(args, fmt.Sprintf("--global-var=%s=%s", strings.TrimPrefix(name, "@"), opts.GlobalVars[name]))
	}
	for _, name := range sortedKeys(opts.ModifyVars) {
		args = append(args, fmt.Sprintf("--modify-var=%s=%s", strings.TrimPrefix(name, "@"), opts.ModifyVars[name]))
	}

	return append(args, source)
}

// buildCall turns args into a call expression. Arguments the shell would expand are quoted.
func buildCall(args []string) *syntax.CallExpr {
	cmd := new(syntax.CallExpr)
	cmd.Args = make([]*syntax.Word, len(args))
	for idx, arg := range args {
		var part syntax.WordPart
		switch {
		case strings.Contains(arg, "'"):
			escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(arg)
			part = &syntax.SglQuoted{Value: escaped, Dollar: true}
		case strings.ContainsAny(arg, " $\"\\*?[~"):
			part = &syntax.SglQuoted{Value: arg}
		default:
			part = &syntax.Lit{Value: arg}
		}

		cmd.Args[idx] = &syntax.Word{Parts: []syntax.WordPart{part}}
	}
	return cmd
}

func (l Lessc) Compile(ctx context.Context, source string, opts config.CompileOptions) (*Output, error) {
	var stdout, stderr bytes.Buffer

	runner, err := interp.New(
		interp.Dir(filepath.Dir(source)),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(nil, &stdout, &stderr),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	stmt := &syntax.Stmt{Cmd: buildCall(l.Args(source, opts))}
	err = runner.Run(ctx, stmt)
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			return nil, eris.Wrapf(err, "%s failed", l.Name())
		}
		return nil, eris.New(msg)
	}

	return &Output{CSS: stdout.Bytes()}, nil
}

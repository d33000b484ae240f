package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/stylebuild/pkg/config"
)

func getTaskEnv(env map[string]string) expand.Environ {
	envVars := os.Environ()

	for name, value := range env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		// always use our cross-platform implementation for these operations to make sure
		// they behave consistently
		if helper, ok := posixHelpers[args[0]]; ok {
			hc := interp.HandlerCtx(ctx)
			return helper(hc.Dir, args[1:])
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// RunShell parses and executes script in dir. Execution stops at the first failing command.
func RunShell(ctx context.Context, name, dir, script string, env map[string]string, stdout, stderr io.Writer) error {
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(getTaskEnv(env)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), name)
	if err != nil {
		return eris.Wrapf(err, "failed to parse command %s", script)
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, stmt := range file.Stmts {
		strBuffer.Reset()
		if err := printer.Print(&strBuffer, stmt); err == nil {
			log(ctx).Info().
				Str("task", name).
				Bool("command", true).
				Msg(strBuffer.String())
		}

		if err := runner.Run(ctx, stmt); err != nil {
			return eris.Wrapf(err, "command %s failed", strBuffer.String())
		}

		if runner.Exited() {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

func shellAction(task config.ShellTask, stdout, stderr io.Writer) Action {
	return func(ctx context.Context) error {
		for idx, cmd := range task.Cmds {
			name := fmt.Sprintf("shell:%s:%d", task.Name, idx)
			if err := RunShell(ctx, name, task.Dir, cmd, task.Env, stdout, stderr); err != nil {
				return err
			}
		}
		return nil
	}
}

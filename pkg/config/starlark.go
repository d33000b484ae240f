package config

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

// ScriptOption describes an option declared by a build script through option()
type ScriptOption struct {
	DefaultValue string
	Help         string
}

type parserCtx struct {
	ctx          context.Context
	filepath     string
	optionValues map[string]string
	options      map[string]ScriptOption
	doc          Document
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

// ParseStarlark executes a Starlark build script and returns the document it declared
func ParseStarlark(ctx context.Context, filename string, options map[string]string) (Document, error) {
	doc, _, err := RunScript(ctx, filename, options)
	return doc, err
}

// RunScript executes a Starlark build script and returns the declared document and options
func RunScript(ctx context.Context, filename string, options map[string]string) (Document, map[string]ScriptOption, error) {
	script, err := ioutil.ReadFile(filename)
	if err != nil {
		return Document{}, nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	builtins := starlark.StringDict{
		"OS":     starlark.String(runtime.GOOS),
		"ARCH":   starlark.String(runtime.GOARCH),
		"info":   starlark.NewBuiltin("info", starInfo),
		"warn":   starlark.NewBuiltin("warn", starWarn),
		"error":  starlark.NewBuiltin("error", starError),
		"getenv": starlark.NewBuiltin("getenv", getenv),
		"option": starlark.NewBuiltin("option", option),
		"less":   starlark.NewBuiltin("less", declareLess),
		"watch":  starlark.NewBuiltin("watch", declareWatch),
		"shell":  starlark.NewBuiltin("shell", declareShell),
		"alias":  starlark.NewBuiltin("alias", declareAlias),
	}

	if options == nil {
		options = map[string]string{}
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			zerolog.Ctx(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		optionValues: options,
		options:      make(map[string]ScriptOption),
	}
	thread.SetLocal("parserCtx", &threadCtx)

	_, err = starlark.ExecFile(thread, filename, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return Document{}, nil, &ConfigError{Pos: filename, Msg: evalError.Backtrace()}
		}
		return Document{}, nil, &ConfigError{Pos: filename, Msg: err.Error()}
	}

	return threadCtx.doc, threadCtx.options, nil
}

// * Helpers

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

// stringOrList converts a string or a list/tuple of strings
func stringOrList(value starlark.Value, field string) ([]string, error) {
	switch value := value.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.String:
		return []string{value.GoString()}, nil
	case starlarkIterable:
		return starlarkIterable2stringSlice(value, field)
	default:
		return nil, eris.Errorf("expected %s to be a string or a list of strings but found %s", field, value.Type())
	}
}

func dict2stringMap(dict *starlark.Dict, field string) (map[string]string, error) {
	if dict == nil {
		return nil, nil
	}

	result := make(map[string]string, dict.Len())
	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in %s but only strings are supported", item[0].Type(), field)
		}

		value, ok := item[1].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found value of type %s for key %s in %s but only strings are supported", item[1].Type(), key.GoString(), field)
		}

		result[key.GoString()] = value.GoString()
	}
	return result, nil
}

func logPos(thread *starlark.Thread) string {
	pos := thread.CallFrame(1).Pos
	return fmt.Sprintf("%s:%d:%d", pos.Filename(), pos.Line, pos.Col)
}

// * Builtin functions

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	zerolog.Ctx(getCtx(thread).ctx).Info().Msgf("%s: %s", logPos(thread), message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	zerolog.Ctx(getCtx(thread).ctx).Warn().Msgf("%s: %s", logPos(thread), message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var defaultValue string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &defaultValue); err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(key)
	if !ok {
		value = defaultValue
	}
	return starlark.String(value), nil
}

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue string
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}
	return starlark.String(defaultValue), nil
}

func declareLess(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var files *starlark.Dict
	var paths *starlark.List
	var globalVars *starlark.Dict
	var modifyVars *starlark.Dict

	target := LessTarget{}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &target.Name, "files", &files,
		"compress?", &target.Options.Compress, "strict_math?", &target.Options.StrictMath, "paths?", &paths,
		"banner?", &target.Options.Banner, "global_vars?", &globalVars, "modify_vars?", &modifyVars,
		"brotli?", &target.Options.Brotli)
	if err != nil {
		return nil, err
	}

	for _, item := range files.Items() {
		dest, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: files keys must be strings but found %s", fn.Name(), item[0].Type())
		}

		sources, err := stringOrList(item[1], "files["+dest.GoString()+"]")
		if err != nil {
			return nil, eris.Wrapf(err, "%s", fn.Name())
		}

		target.Files = append(target.Files, FileMap{Target: dest.GoString(), Sources: sources})
	}

	if paths != nil {
		target.Options.Paths, err = starlarkIterable2stringSlice(paths, "paths")
		if err != nil {
			return nil, err
		}
	}

	target.Options.GlobalVars, err = dict2stringMap(globalVars, "global_vars")
	if err != nil {
		return nil, err
	}

	target.Options.ModifyVars, err = dict2stringMap(modifyVars, "modify_vars")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.doc.Less = append(ctx.doc.Less, target)
	return starlark.String("less:" + target.Name), nil
}

func declareWatch(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var files starlark.Value
	var tasks starlark.Value
	var debounce starlark.Value = starlark.None
	var events starlark.Value = starlark.None

	spec := WatchSpec{
		Name: "default",
		Options: WatchOptions{
			Debounce: DefaultDebounce,
		},
	}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "files", &files, "tasks", &tasks, "name?", &spec.Name,
		"debounce?", &debounce, "at_begin?", &spec.Options.AtBegin, "events?", &events)
	if err != nil {
		return nil, err
	}

	spec.Files, err = stringOrList(files, "files")
	if err != nil {
		return nil, err
	}

	spec.Tasks, err = stringOrList(tasks, "tasks")
	if err != nil {
		return nil, err
	}

	spec.Options.Events, err = stringOrList(events, "events")
	if err != nil {
		return nil, err
	}

	switch value := debounce.(type) {
	case starlark.NoneType:
	case starlark.String:
		spec.Options.Debounce, err = time.ParseDuration(value.GoString())
		if err != nil {
			return nil, eris.Wrapf(err, "%s: invalid debounce", fn.Name())
		}
	case starlark.Int:
		ms, ok := value.Int64()
		if !ok {
			return nil, eris.Errorf("%s: debounce out of range", fn.Name())
		}
		spec.Options.Debounce = time.Duration(ms) * time.Millisecond
	default:
		return nil, eris.Errorf("%s: debounce must be a duration string or milliseconds but found %s", fn.Name(), debounce.Type())
	}

	ctx := getCtx(thread)
	ctx.doc.Watch = append(ctx.doc.Watch, spec)
	return starlark.String("watch:" + spec.Name), nil
}

func declareShell(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cmds starlark.Value
	var env *starlark.Dict

	task := ShellTask{}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &task.Name, "cmds", &cmds, "desc?", &task.Desc,
		"dir?", &task.Dir, "env?", &env)
	if err != nil {
		return nil, err
	}

	task.Cmds, err = stringOrList(cmds, "cmds")
	if err != nil {
		return nil, err
	}

	task.Env, err = dict2stringMap(env, "env")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.doc.Shell = append(ctx.doc.Shell, task)
	return starlark.String("shell:" + task.Name), nil
}

func declareAlias(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tasks starlark.Value

	alias := Alias{}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &alias.Name, "tasks", &tasks, "desc?", &alias.Desc)
	if err != nil {
		return nil, err
	}

	alias.Tasks, err = stringOrList(tasks, "tasks")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.doc.Aliases = append(ctx.doc.Aliases, alias)
	return starlark.String(alias.Name), nil
}

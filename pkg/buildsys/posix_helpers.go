package buildsys

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
)

// posixHelper replaces an external command inside shell tasks. dir is the shell's working directory.
type posixHelper func(dir string, args []string) error

var posixHelpers = map[string]posixHelper{
	"mv":    mvHelper,
	"rm":    rmHelper,
	"mkdir": mkdirHelper,
}

func resolveArg(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}

// resolveItems turns the operands of a helper into absolute paths. Windows shells don't expand globs
// so the helpers do it themselves there.
func resolveItems(dir string, args []string, allowEmpty bool) ([]string, error) {
	items := make([]string, 0, len(args))
	for _, arg := range args {
		arg = resolveArg(dir, arg)
		if runtime.GOOS != "windows" {
			items = append(items, arg)
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid pattern %s", arg)
		}
		if len(matches) == 0 && !allowEmpty {
			return nil, eris.Errorf("%s: no such file or directory", arg)
		}
		items = append(items, matches...)
	}
	return items, nil
}

func mvHelper(dir string, args []string) error {
	flags := pflag.NewFlagSet("mv", pflag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "mv")
	}

	operands := flags.Args()
	if len(operands) < 2 {
		return eris.New("mv: missing destination operand")
	}

	dest := resolveArg(dir, operands[len(operands)-1])
	if info, err := os.Stat(filepath.Dir(dest)); err != nil || !info.IsDir() {
		return eris.Errorf("mv: destination directory %s doesn't exist", filepath.Dir(dest))
	}

	destInfo, err := os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "mv: failed to check %s", dest)
	}
	intoDir := err == nil && destInfo.IsDir()

	if len(operands) > 2 && !intoDir {
		return eris.Errorf("mv: target %s is not a directory", dest)
	}

	items, err := resolveItems(dir, operands[:len(operands)-1], false)
	if err != nil {
		return eris.Wrap(err, "mv")
	}

	for _, item := range items {
		itemDest := dest
		if intoDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		if err := os.Rename(item, itemDest); err != nil {
			return eris.Wrapf(err, "mv: failed to move %s to %s", item, itemDest)
		}
	}
	return nil
}

func rmHelper(dir string, args []string) error {
	flags := pflag.NewFlagSet("rm", pflag.ContinueOnError)
	recursive := flags.BoolP("recursive", "r", false, "remove directories and their contents")
	force := flags.BoolP("force", "f", false, "ignore missing files")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "rm")
	}

	items, err := resolveItems(dir, flags.Args(), *force)
	if err != nil {
		return eris.Wrap(err, "rm")
	}

	// check everything first so that a bad operand doesn't leave a half deleted tree behind
	for _, item := range items {
		info, err := os.Stat(item)
		switch {
		case err != nil && *force && eris.Is(err, os.ErrNotExist):
		case err != nil:
			return eris.Wrapf(err, "rm: cannot remove %s", item)
		case info.IsDir() && !*recursive:
			return eris.Errorf("rm: cannot remove %s: is a directory", item)
		}
	}

	for _, item := range items {
		if err := os.RemoveAll(item); err != nil {
			return eris.Wrapf(err, "rm: failed to remove %s", item)
		}
	}
	return nil
}

func mkdirHelper(dir string, args []string) error {
	flags := pflag.NewFlagSet("mkdir", pflag.ContinueOnError)
	parents := flags.BoolP("parents", "p", false, "create parent directories as needed")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "mkdir")
	}

	mkdir := os.Mkdir
	if *parents {
		mkdir = os.MkdirAll
	}

	for _, item := range flags.Args() {
		item = resolveArg(dir, item)
		if err := mkdir(item, 0o755); err != nil {
			return eris.Wrapf(err, "mkdir: cannot create %s", item)
		}
	}
	return nil
}

// Package cmd implements the stylebuild command line interface
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ngld/stylebuild/pkg/buildsys"
	"github.com/ngld/stylebuild/pkg/compiler"
	"github.com/ngld/stylebuild/pkg/config"
	"github.com/ngld/stylebuild/pkg/watcher"
)

var RootCmd = &cobra.Command{
	Use:   "stylebuild [tasks...] [key=value...]",
	Short: "Compiles LESS stylesheets and re-runs build tasks when files change",
	Long: `This command parses the first stylebuild.{yaml,yml,json,star} file it finds and executes the given
tasks. Without tasks, the "default" alias is run. Arguments containing "=" are passed to Starlark
build files as options.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// watchAdapter exposes *watcher.Watcher through the buildsys.Watcher interface
type watchAdapter struct {
	w *watcher.Watcher
}

func (a watchAdapter) Watch(ctx context.Context, spec config.WatchSpec, onChange func(context.Context, []string) error) (buildsys.WatchHandle, error) {
	handle, err := a.w.Watch(ctx, spec, onChange)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}
	return taskArgs, options
}

// loadSettings reads the settings file and applies the flags the user passed explicitly
func loadSettings(flags *pflag.FlagSet) (*config.Settings, error) {
	settings, loader := config.Loader(config.SettingsFile)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load settings")
	}

	var err error
	if flags.Changed("log-level") {
		settings.Log.Level, err = flags.GetString("log-level")
		if err != nil {
			return nil, err
		}
	}
	if flags.Changed("log-json") {
		settings.Log.JSON, err = flags.GetBool("log-json")
		if err != nil {
			return nil, err
		}
	}
	if flags.Changed("compiler") {
		settings.Compiler.Backend, err = flags.GetString("compiler")
		if err != nil {
			return nil, err
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func newLogger(settings *config.Settings, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if settings.Log.JSON {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter(out))
	}
	return logger.Level(settings.LogLevel())
}

func newBackend(settings *config.Settings) compiler.Backend {
	if settings.Compiler.Backend == "lessc" {
		return compiler.Lessc{Binary: settings.Compiler.Lessc}
	}
	return compiler.Native{}
}

func printTasks(out io.Writer, registry *buildsys.Registry) {
	tasks := registry.Tasks()
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Name < tasks[j].Name
	})

	maxNameLen := 0
	for _, task := range tasks {
		if !task.Hidden && len(task.Name) > maxNameLen {
			maxNameLen = len(task.Name)
		}
	}

	fmt.Fprintln(out, "Available tasks:")
	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, task := range tasks {
		if task.Hidden {
			continue
		}
		fmt.Fprintf(out, lineFmt, task.Name+":", task.Desc)
	}
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	taskArgs, options := splitArgs(args)

	settings, err := loadSettings(flags)
	if err != nil {
		return err
	}

	dryRun, err := flags.GetBool("dry")
	if err != nil {
		return err
	}
	force, err := flags.GetBool("force")
	if err != nil {
		return err
	}
	list, err := flags.GetBool("list")
	if err != nil {
		return err
	}
	watch, err := flags.GetBool("watch")
	if err != nil {
		return err
	}
	buildFile, err := flags.GetString("config")
	if err != nil {
		return err
	}

	logger := newLogger(settings, cmd.ErrOrStderr())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = buildsys.WithLogger(ctx, &logger)

	if buildFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			return eris.Wrap(err, "failed to retrieve the current working directory")
		}

		buildFile, err = config.Find(wd)
		if err != nil {
			return err
		}
	}
	logger.Debug().Str("path", buildFile).Msgf("reading %s", buildFile)

	doc, err := config.ParseFile(ctx, buildFile, options)
	if err != nil {
		return err
	}

	store, err := config.Load(doc)
	if err != nil {
		return err
	}

	var cache *compiler.Cache
	if settings.Cache.File != "" {
		cache, err = compiler.OpenCache(settings.Cache.File)
		if err != nil {
			logger.Warn().Err(err).Str("path", settings.Cache.File).Msg("ignoring unreadable build cache")
		}
	}

	adapter := compiler.NewAdapter(newBackend(settings), cache)
	adapter.Force = force

	orch, err := buildsys.Build(store, adapter, watchAdapter{w: watcher.New()}, buildsys.Options{
		DryRun: dryRun,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	if list {
		printTasks(cmd.OutOrStdout(), orch.Registry())
		return nil
	}

	if len(taskArgs) == 0 {
		taskArgs = []string{"default"}
	}
	if watch {
		taskArgs = append(taskArgs, "watch")
	}

	err = orch.RunAll(ctx, taskArgs)
	if err != nil && ctx.Err() != nil {
		logger.Info().Msg("interrupted")
		return nil
	}
	return err
}

func init() {
	flags := RootCmd.Flags()
	flags.StringP("config", "c", "", "build file to use instead of searching the current directory and its parents")
	flags.BoolP("dry", "n", false, "dry run; only print the tasks, don't execute anything")
	flags.BoolP("force", "f", false, "force build; always compile stylesheets even if they're up to date")
	flags.BoolP("list", "l", false, "list the available tasks and exit")
	flags.BoolP("watch", "w", false, "run the watch task after the given tasks")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output JSONND instead of pretty console messages")
	flags.String("compiler", "native", "stylesheet compiler (native or lessc)")
}

// Execute runs the root command and exits with status 1 on failure
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		logger := zerolog.New(NewConsoleWriter(RootCmd.ErrOrStderr()))
		logger.Error().Err(err).Msg("build failed")
		os.Exit(1)
	}
}

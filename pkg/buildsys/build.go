package buildsys

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/stylebuild/pkg/config"
)

// Options configures the tasks created by Build
type Options struct {
	DryRun bool
	// Stdout and Stderr receive the output of shell tasks (defaults to os.Stdout / os.Stderr)
	Stdout io.Writer
	Stderr io.Writer
}

// Build registers the tasks declared in store and returns an orchestrator for them.
// Every less target becomes less:<name>, shell tasks become shell:<name> and watch specs become
// watch:<name>. The bare kinds (less, shell, watch) run all of their targets.
func Build(store *config.Store, compiler Compiler, watcher Watcher, opts Options) (*Orchestrator, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	registry := NewRegistry()
	orch := NewOrchestrator(registry)
	orch.DryRun = opts.DryRun

	lessTargets := store.LessTargets()
	if len(lessTargets) > 0 && compiler == nil {
		return nil, eris.New("less targets are configured but no compiler was passed")
	}

	names := make([]string, 0, len(lessTargets))
	for _, target := range lessTargets {
		outputs := make([]string, len(target.Files))
		for idx, mapping := range target.Files {
			outputs[idx] = mapping.Target
		}

		task := &Task{
			Name:   "less:" + target.Name,
			Desc:   "Compile " + strings.Join(outputs, ", "),
			Action: lessAction(compiler, target),
		}
		if err := registry.Register(task); err != nil {
			return nil, err
		}
		names = append(names, task.Name)
	}
	if err := registerGroup(registry, "less", "Compile all stylesheets", names); err != nil {
		return nil, err
	}

	shellTasks := store.ShellTasks()
	names = make([]string, 0, len(shellTasks))
	for _, shellTask := range shellTasks {
		desc := shellTask.Desc
		if desc == "" {
			desc = "Run " + strings.Join(shellTask.Cmds, "; ")
		}

		task := &Task{
			Name:   "shell:" + shellTask.Name,
			Desc:   desc,
			Action: shellAction(shellTask, opts.Stdout, opts.Stderr),
		}
		if err := registry.Register(task); err != nil {
			return nil, err
		}
		names = append(names, task.Name)
	}
	if err := registerGroup(registry, "shell", "Run all shell tasks", names); err != nil {
		return nil, err
	}

	specs := store.WatchSpecs()
	if len(specs) > 0 {
		if watcher == nil {
			return nil, eris.New("watch specs are configured but no watcher was passed")
		}

		for _, spec := range specs {
			task := &Task{
				Name:     "watch:" + spec.Name,
				Desc:     "Run " + strings.Join(spec.Tasks, ", ") + " when " + strings.Join(spec.Files, ", ") + " change",
				Action:   orch.watchAction(watcher, []config.WatchSpec{spec}),
				Triggers: spec.Tasks,
			}
			if err := registry.Register(task); err != nil {
				return nil, err
			}
		}

		triggers := make([]string, 0)
		for _, spec := range specs {
			triggers = append(triggers, spec.Tasks...)
		}

		err := registry.Register(&Task{
			Name:     "watch",
			Desc:     "Watch all files and re-run tasks on change",
			Action:   orch.watchAction(watcher, specs),
			Triggers: triggers,
			Hidden:   len(specs) == 1,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, alias := range store.Aliases() {
		desc := alias.Desc
		if desc == "" {
			desc = "Alias for " + strings.Join(alias.Tasks, ", ")
		}

		err := registry.Register(&Task{
			Name:     alias.Name,
			Desc:     desc,
			Subtasks: alias.Tasks,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := registry.Validate(); err != nil {
		return nil, err
	}

	return orch, nil
}

func registerGroup(registry *Registry, name, desc string, subtasks []string) error {
	if len(subtasks) == 0 {
		return nil
	}

	// with a single target the group is just another name for it
	return registry.Register(&Task{
		Name:     name,
		Desc:     desc,
		Subtasks: subtasks,
		Hidden:   len(subtasks) == 1,
	})
}

func lessAction(compiler Compiler, target config.LessTarget) Action {
	return func(ctx context.Context) error {
		for _, mapping := range target.Files {
			if err := compiler.Compile(ctx, mapping, target.Options); err != nil {
				return err
			}
		}
		return nil
	}
}

func (o *Orchestrator) watchAction(watcher Watcher, specs []config.WatchSpec) Action {
	return func(ctx context.Context) error {
		handles := make([]WatchHandle, 0, len(specs))
		defer func() {
			for _, handle := range handles {
				handle.Cancel()
			}
		}()

		for _, spec := range specs {
			spec := spec
			onChange := func(ctx context.Context, changed []string) error {
				o.watchLock.Lock()
				defer o.watchLock.Unlock()

				if len(changed) > 0 {
					log(ctx).Info().
						Str("task", "watch:"+spec.Name).
						Strs("files", changed).
						Msgf("%d file(s) changed", len(changed))
				}
				return o.runAll(ctx, spec.Tasks, false)
			}

			if spec.Options.AtBegin {
				if err := onChange(ctx, nil); err != nil {
					log(ctx).Error().Err(err).Str("task", "watch:"+spec.Name).Msg("initial run failed")
				}
			}

			handle, err := watcher.Watch(ctx, spec, onChange)
			if err != nil {
				return eris.Wrapf(err, "failed to watch %s", strings.Join(spec.Files, ", "))
			}
			handles = append(handles, handle)

			log(ctx).Info().
				Str("task", "watch:"+spec.Name).
				Msgf("waiting for changes to %s", strings.Join(spec.Files, ", "))
		}

		<-ctx.Done()
		return nil
	}
}

package buildsys_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/stylebuild/pkg/buildsys"
	"github.com/ngld/stylebuild/pkg/config"
)

type fakeCompiler struct {
	lock     sync.Mutex
	compiled []string
	fail     map[string]error
}

func (c *fakeCompiler) Compile(ctx context.Context, mapping config.FileMap, opts config.CompileOptions) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.compiled = append(c.compiled, mapping.Target)
	return c.fail[mapping.Target]
}

func (c *fakeCompiler) targets() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.compiled...)
}

type fakeHandle struct {
	cancelled chan struct{}
}

func (h *fakeHandle) Cancel() {
	close(h.cancelled)
}

type fakeWatcher struct {
	lock      sync.Mutex
	callbacks map[string]func(context.Context, []string) error
	handles   []*fakeHandle
	started   chan string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		callbacks: make(map[string]func(context.Context, []string) error),
		started:   make(chan string, 8),
	}
}

func (w *fakeWatcher) Watch(ctx context.Context, spec config.WatchSpec, onChange func(context.Context, []string) error) (buildsys.WatchHandle, error) {
	w.lock.Lock()
	handle := &fakeHandle{cancelled: make(chan struct{})}
	w.callbacks[spec.Name] = onChange
	w.handles = append(w.handles, handle)
	w.lock.Unlock()

	w.started <- spec.Name
	return handle, nil
}

func (w *fakeWatcher) trigger(ctx context.Context, name string, changed ...string) error {
	w.lock.Lock()
	cb := w.callbacks[name]
	w.lock.Unlock()
	return cb(ctx, changed)
}

func lessTarget(name string, targets ...string) config.LessTarget {
	target := config.LessTarget{Name: name}
	for _, item := range targets {
		target.Files = append(target.Files, config.FileMap{Target: item, Sources: []string{item + ".less"}})
	}
	return target
}

func load(t *testing.T, doc config.Document) *config.Store {
	t.Helper()
	store, err := config.Load(doc)
	require.NoError(t, err)
	return store
}

func TestRegistry(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	t.Run("Should reject duplicate names", func(t *testing.T) {
		registry := buildsys.NewRegistry()
		require.NoError(t, registry.Register(&buildsys.Task{Name: "a", Action: noop}))

		err := registry.Register(&buildsys.Task{Name: "a", Action: noop})
		var dupErr *buildsys.DuplicateTaskError
		require.True(t, errors.As(err, &dupErr))
		assert.Equal(t, "a", dupErr.Name)
	})

	t.Run("Should reject tasks that are neither primitive nor composite", func(t *testing.T) {
		registry := buildsys.NewRegistry()
		assert.Error(t, registry.Register(&buildsys.Task{Name: "a"}))
		assert.Error(t, registry.Register(&buildsys.Task{Name: "b", Action: noop, Subtasks: []string{"a"}}))
		assert.Error(t, registry.Register(&buildsys.Task{Action: noop}))
		assert.Error(t, registry.Register(&buildsys.Task{Name: "c", Subtasks: []string{"a"}, Triggers: []string{"a"}}))
	})

	t.Run("Should keep registration order", func(t *testing.T) {
		registry := buildsys.NewRegistry()
		for _, name := range []string{"c", "a", "b"} {
			require.NoError(t, registry.Register(&buildsys.Task{Name: name, Action: noop}))
		}

		names := []string{}
		for _, task := range registry.Tasks() {
			names = append(names, task.Name)
		}
		assert.Equal(t, []string{"c", "a", "b"}, names)
	})

	t.Run("Should detect unknown subtasks", func(t *testing.T) {
		registry := buildsys.NewRegistry()
		require.NoError(t, registry.Register(&buildsys.Task{Name: "default", Subtasks: []string{"missing"}}))

		var unknownErr *buildsys.UnknownTaskError
		require.True(t, errors.As(registry.Validate(), &unknownErr))
		assert.Equal(t, "missing", unknownErr.Name)
		assert.Equal(t, "default", unknownErr.Ref)
	})

	t.Run("Should follow triggers", func(t *testing.T) {
		registry := buildsys.NewRegistry()
		require.NoError(t, registry.Register(&buildsys.Task{Name: "watch", Action: noop, Triggers: []string{"build"}}))
		require.NoError(t, registry.Register(&buildsys.Task{Name: "build", Subtasks: []string{"watch"}}))

		var cycleErr *buildsys.CycleError
		require.True(t, errors.As(registry.Validate(), &cycleErr))
		assert.Equal(t, []string{"watch", "build", "watch"}, cycleErr.Path)
	})

	t.Run("Should detect cycles", func(t *testing.T) {
		registry := buildsys.NewRegistry()
		require.NoError(t, registry.Register(&buildsys.Task{Name: "a", Subtasks: []string{"b"}}))
		require.NoError(t, registry.Register(&buildsys.Task{Name: "b", Subtasks: []string{"a"}}))

		var cycleErr *buildsys.CycleError
		require.True(t, errors.As(registry.Validate(), &cycleErr))
		assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
	})
}

func TestOrchestrator(t *testing.T) {
	newOrchestrator := func(t *testing.T, log *[]string, fail string) *buildsys.Orchestrator {
		registry := buildsys.NewRegistry()
		for _, name := range []string{"a", "b", "c"} {
			name := name
			require.NoError(t, registry.Register(&buildsys.Task{
				Name: name,
				Action: func(ctx context.Context) error {
					*log = append(*log, name)
					if name == fail {
						return errors.New("boom")
					}
					return nil
				},
			}))
		}
		require.NoError(t, registry.Register(&buildsys.Task{Name: "ab", Subtasks: []string{"a", "b"}}))
		require.NoError(t, registry.Register(&buildsys.Task{Name: "default", Subtasks: []string{"ab", "c", "a"}}))
		require.NoError(t, registry.Validate())
		return buildsys.NewOrchestrator(registry)
	}

	t.Run("Should run subtasks in order and only once", func(t *testing.T) {
		log := []string{}
		orch := newOrchestrator(t, &log, "")
		require.NoError(t, orch.Run(context.Background(), "default"))
		assert.Equal(t, []string{"a", "b", "c"}, log)
		assert.Equal(t, buildsys.StateDone, orch.State())
	})

	t.Run("Should stop at the first failure", func(t *testing.T) {
		log := []string{}
		orch := newOrchestrator(t, &log, "b")
		err := orch.Run(context.Background(), "default")

		var execErr *buildsys.TaskExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, "b", execErr.Task)
		assert.EqualError(t, execErr.Cause, "boom")
		assert.Equal(t, []string{"a", "b"}, log)
		assert.Equal(t, buildsys.StateFailed, orch.State())
	})

	t.Run("Should reject unknown tasks before running anything", func(t *testing.T) {
		log := []string{}
		orch := newOrchestrator(t, &log, "")
		err := orch.RunAll(context.Background(), []string{"a", "nope"})

		var unknownErr *buildsys.UnknownTaskError
		require.True(t, errors.As(err, &unknownErr))
		assert.Equal(t, "nope", unknownErr.Name)
		assert.Empty(t, log)
	})

	t.Run("Should not execute actions in dry-run mode", func(t *testing.T) {
		log := []string{}
		orch := newOrchestrator(t, &log, "a")
		orch.DryRun = true
		require.NoError(t, orch.Run(context.Background(), "default"))
		assert.Empty(t, log)
	})

	t.Run("Should stop when the context is cancelled", func(t *testing.T) {
		log := []string{}
		orch := newOrchestrator(t, &log, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, orch.Run(ctx, "default"), context.Canceled)
		assert.Empty(t, log)
	})
}

func TestBuild(t *testing.T) {
	t.Run("Should register tasks for every target", func(t *testing.T) {
		store := load(t, config.Document{
			Less: []config.LessTarget{
				lessTarget("app", "out/app.css"),
				lessTarget("print", "out/print.css", "out/print-extra.css"),
			},
			Shell:   []config.ShellTask{{Name: "clean", Cmds: []string{"true"}}},
			Watch:   []config.WatchSpec{{Name: "styles", Files: []string{"src/*.less"}, Tasks: []string{"less"}}},
			Aliases: []config.Alias{{Name: "default", Tasks: []string{"shell:clean", "less"}}},
		})

		orch, err := buildsys.Build(store, &fakeCompiler{}, newFakeWatcher(), buildsys.Options{})
		require.NoError(t, err)

		names := []string{}
		for _, task := range orch.Registry().Tasks() {
			names = append(names, task.Name)
		}
		assert.Equal(t, []string{
			"less:app", "less:print", "less",
			"shell:clean", "shell",
			"watch:styles", "watch",
			"default",
		}, names)

		hidden := []string{}
		for _, task := range orch.Registry().Tasks() {
			if task.Hidden {
				hidden = append(hidden, task.Name)
			}
		}
		assert.Equal(t, []string{"shell", "watch"}, hidden)
	})

	t.Run("Should compile every mapping of a target and stop on errors", func(t *testing.T) {
		store := load(t, config.Document{
			Less: []config.LessTarget{
				lessTarget("app", "out/app.css"),
				lessTarget("print", "out/print.css", "out/print-extra.css"),
			},
			Aliases: []config.Alias{{Name: "default", Tasks: []string{"less:print", "less:app"}}},
		})

		compiler := &fakeCompiler{fail: map[string]error{"out/print-extra.css": errors.New("syntax error")}}
		orch, err := buildsys.Build(store, compiler, nil, buildsys.Options{})
		require.NoError(t, err)

		err = orch.Run(context.Background(), "default")
		var execErr *buildsys.TaskExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, "less:print", execErr.Task)
		assert.Equal(t, []string{"out/print.css", "out/print-extra.css"}, compiler.targets())
	})

	t.Run("Should fail for aliases referencing unknown tasks", func(t *testing.T) {
		store := load(t, config.Document{
			Aliases: []config.Alias{{Name: "default", Tasks: []string{"less:missing"}}},
		})

		_, err := buildsys.Build(store, &fakeCompiler{}, nil, buildsys.Options{})
		var unknownErr *buildsys.UnknownTaskError
		require.True(t, errors.As(err, &unknownErr))
		assert.Equal(t, "less:missing", unknownErr.Name)
	})

	t.Run("Should fail for watch specs referencing unknown tasks", func(t *testing.T) {
		store := load(t, config.Document{
			Less:  []config.LessTarget{lessTarget("app", "out/app.css")},
			Watch: []config.WatchSpec{{Name: "styles", Files: []string{"src/*.less"}, Tasks: []string{"lesss"}}},
		})

		_, err := buildsys.Build(store, &fakeCompiler{}, newFakeWatcher(), buildsys.Options{})
		var unknownErr *buildsys.UnknownTaskError
		require.True(t, errors.As(err, &unknownErr))
		assert.Equal(t, "lesss", unknownErr.Name)
		assert.Equal(t, "watch:styles", unknownErr.Ref)
	})

	t.Run("Should fail for watch specs that re-run themselves", func(t *testing.T) {
		for _, tasks := range [][]string{{"watch:styles"}, {"watch"}, {"again"}} {
			store := load(t, config.Document{
				Watch:   []config.WatchSpec{{Name: "styles", Files: []string{"src/*.less"}, Tasks: tasks}},
				Aliases: []config.Alias{{Name: "again", Tasks: []string{"watch:styles"}}},
			})

			_, err := buildsys.Build(store, nil, newFakeWatcher(), buildsys.Options{})
			var cycleErr *buildsys.CycleError
			require.True(t, errors.As(err, &cycleErr), "tasks %v: expected a cycle error but got %v", tasks, err)
			assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
		}
	})

	t.Run("Should fail for aliases shadowing generated tasks", func(t *testing.T) {
		store := load(t, config.Document{
			Less:    []config.LessTarget{lessTarget("app", "out/app.css")},
			Aliases: []config.Alias{{Name: "less", Tasks: []string{"less:app"}}},
		})

		_, err := buildsys.Build(store, &fakeCompiler{}, nil, buildsys.Options{})
		var dupErr *buildsys.DuplicateTaskError
		assert.True(t, errors.As(err, &dupErr))
	})
}

func TestWatchTask(t *testing.T) {
	store := load(t, config.Document{
		Less: []config.LessTarget{lessTarget("app", "out/app.css")},
		Watch: []config.WatchSpec{{
			Name:    "styles",
			Files:   []string{"src/*.less"},
			Tasks:   []string{"less"},
			Options: config.WatchOptions{AtBegin: true},
		}},
	})

	compiler := &fakeCompiler{}
	watcher := newFakeWatcher()
	orch, err := buildsys.Build(store, compiler, watcher, buildsys.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- orch.Run(ctx, "watch")
	}()

	select {
	case name := <-watcher.started:
		assert.Equal(t, "styles", name)
	case <-time.After(5 * time.Second):
		t.Fatal("watch wasn't started")
	}

	t.Run("Should run the tasks at the beginning", func(t *testing.T) {
		assert.Equal(t, []string{"out/app.css"}, compiler.targets())
	})

	t.Run("Should re-run the tasks on change", func(t *testing.T) {
		require.NoError(t, watcher.trigger(ctx, "styles", "src/app.less"))
		assert.Equal(t, []string{"out/app.css", "out/app.css"}, compiler.targets())
		assert.Equal(t, buildsys.StateExecuting, orch.State())
	})

	t.Run("Should report failures to the watcher", func(t *testing.T) {
		compiler.lock.Lock()
		compiler.fail = map[string]error{"out/app.css": errors.New("syntax error")}
		compiler.lock.Unlock()

		assert.Error(t, watcher.trigger(ctx, "styles", "src/app.less"))
		assert.Equal(t, buildsys.StateExecuting, orch.State())
	})

	t.Run("Should cancel the watches on shutdown", func(t *testing.T) {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("watch task didn't return")
		}
		assert.Equal(t, buildsys.StateDone, orch.State())

		for _, handle := range watcher.handles {
			select {
			case <-handle.cancelled:
			default:
				t.Fatal("handle wasn't cancelled")
			}
		}
	})
}

func TestShellTask(t *testing.T) {
	root := t.TempDir()
	store := load(t, config.Document{
		Shell: []config.ShellTask{{
			Name: "prepare",
			Dir:  root,
			Env:  map[string]string{"GREETING": "hello"},
			Cmds: []string{
				"mkdir -p out/nested",
				"echo $GREETING > out/nested/a.txt",
				"mv out/nested/a.txt out/b.txt",
				"rm -r out/nested",
			},
		}},
	})

	var stdout, stderr bytes.Buffer
	orch, err := buildsys.Build(store, nil, nil, buildsys.Options{Stdout: &stdout, Stderr: &stderr})
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background(), "shell"))

	content, err := os.ReadFile(filepath.Join(root, "out", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	_, err = os.Stat(filepath.Join(root, "out", "nested"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunShell(t *testing.T) {
	t.Run("Should stop at the first failing command", func(t *testing.T) {
		root := t.TempDir()
		var stdout bytes.Buffer
		err := buildsys.RunShell(context.Background(), "test", root, "echo one\nfalse\necho two", nil, &stdout, &stdout)
		assert.Error(t, err)
		assert.Equal(t, "one\n", stdout.String())
	})

	t.Run("Should refuse to remove directories without -r", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, "keep"), 0o755))

		var out bytes.Buffer
		err := buildsys.RunShell(context.Background(), "test", root, "rm keep", nil, &out, &out)
		assert.Error(t, err)
		assert.DirExists(t, filepath.Join(root, "keep"))
	})
}

package buildsys

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ngld/stylebuild/pkg/config"
)

// Action is the body of a primitive task
type Action func(ctx context.Context) error

// Task is either a primitive (Action is set) or a composite of other tasks (Subtasks is set)
type Task struct {
	Name     string
	Desc     string
	Action   Action
	Subtasks []string
	// Triggers lists the tasks a primitive starts on its own (i.e. watch tasks re-running their
	// tasks). They're part of the task graph for validation but aren't run as subtasks.
	Triggers []string
	// Hidden tasks are omitted from task listings
	Hidden bool
}

// IsComposite returns true if the task only runs other tasks
func (t *Task) IsComposite() bool {
	return t.Action == nil
}

// Compiler compiles the sources of a FileMap into its target
type Compiler interface {
	Compile(ctx context.Context, mapping config.FileMap, opts config.CompileOptions) error
}

// WatchHandle stops an active watch. No callbacks fire after Cancel returns.
type WatchHandle interface {
	Cancel()
}

// Watcher calls onChange for every batch of changes to files matching spec.Files
type Watcher interface {
	Watch(ctx context.Context, spec config.WatchSpec, onChange func(ctx context.Context, changed []string) error) (WatchHandle, error)
}

// Registry maps task names to tasks
type Registry struct {
	tasks map[string]*Task
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Register adds a task to the registry
func (r *Registry) Register(task *Task) error {
	if task == nil || task.Name == "" {
		return eris.New("can't register a task without name")
	}

	if task.Action != nil && len(task.Subtasks) > 0 {
		return eris.Errorf("task %s has both an action and subtasks", task.Name)
	}

	if task.Action == nil && len(task.Subtasks) == 0 {
		return eris.Errorf("task %s has neither an action nor subtasks", task.Name)
	}

	if task.Action == nil && len(task.Triggers) > 0 {
		return eris.Errorf("task %s has triggers but no action", task.Name)
	}

	if _, ok := r.tasks[task.Name]; ok {
		return &DuplicateTaskError{Name: task.Name}
	}

	r.tasks[task.Name] = task
	r.order = append(r.order, task.Name)
	return nil
}

// Lookup returns the named task
func (r *Registry) Lookup(name string) (*Task, bool) {
	task, ok := r.tasks[name]
	return task, ok
}

// Tasks returns all tasks in registration order
func (r *Registry) Tasks() []*Task {
	result := make([]*Task, len(r.order))
	for idx, name := range r.order {
		result[idx] = r.tasks[name]
	}
	return result
}

// Validate checks that every referenced subtask or trigger exists and that there are no cycles
func (r *Registry) Validate() error {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[string]int, len(r.tasks))
	stack := make([]string, 0)

	var visit func(name, ref string) error
	visit = func(name, ref string) error {
		task, ok := r.tasks[name]
		if !ok {
			return &UnknownTaskError{Name: name, Ref: ref}
		}

		switch state[name] {
		case visited:
			return nil
		case visiting:
			start := 0
			for idx, item := range stack {
				if item == name {
					start = idx
					break
				}
			}

			path := append(append([]string{}, stack[start:]...), name)
			return &CycleError{Path: path}
		}

		state[name] = visiting
		stack = append(stack, name)
		for _, refs := range [][]string{task.Subtasks, task.Triggers} {
			for _, sub := range refs {
				if err := visit(sub, name); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = visited
		return nil
	}

	for _, name := range r.order {
		if err := visit(name, ""); err != nil {
			return err
		}
	}
	return nil
}

package buildsys

import (
	"context"
	"sync"
)

// State describes the progress of the most recent run
type State int

const (
	StateIdle State = iota
	StateResolving
	StateExecuting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type runtimeCtx struct {
	// runTasks is false while a task is running and true once it finished
	runTasks map[string]bool
	stack    []string
}

// Orchestrator resolves task names and executes them
type Orchestrator struct {
	registry *Registry
	// DryRun only logs primitive tasks instead of executing them
	DryRun bool

	stateLock sync.Mutex
	state     State
	// watchLock makes sure that only one watch callback runs at a time
	watchLock sync.Mutex
}

func NewOrchestrator(registry *Registry) *Orchestrator {
	return &Orchestrator{registry: registry}
}

// Registry returns the registry this orchestrator runs tasks from
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// State returns the state of the most recent top-level run
func (o *Orchestrator) State() State {
	o.stateLock.Lock()
	defer o.stateLock.Unlock()
	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.stateLock.Lock()
	o.state = state
	o.stateLock.Unlock()
}

// Run executes the named task. Composite tasks run their subtasks in order and stop at the first
// failure. Errors returned by primitive actions are wrapped in a TaskExecutionError.
func (o *Orchestrator) Run(ctx context.Context, name string) error {
	return o.RunAll(ctx, []string{name})
}

// RunAll executes the named tasks in order within a single run; a task shared between them only
// runs once.
func (o *Orchestrator) RunAll(ctx context.Context, names []string) error {
	return o.runAll(ctx, names, true)
}

// runAll does the work of RunAll. Runs started by watch callbacks pass track = false so they don't
// overwrite the state of the run that owns the watch.
func (o *Orchestrator) runAll(ctx context.Context, names []string, track bool) error {
	rctx := &runtimeCtx{
		runTasks: make(map[string]bool),
	}
	setState := func(state State) {
		if track {
			o.setState(state)
		}
	}

	setState(StateResolving)
	for _, name := range names {
		if _, ok := o.registry.Lookup(name); !ok {
			setState(StateFailed)
			return &UnknownTaskError{Name: name}
		}
	}

	setState(StateExecuting)
	for _, name := range names {
		if err := o.runTaskInternal(ctx, rctx, name, ""); err != nil {
			setState(StateFailed)
			return err
		}
	}

	setState(StateDone)
	return nil
}

func (o *Orchestrator) runTaskInternal(ctx context.Context, rctx *runtimeCtx, name, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	task, ok := o.registry.Lookup(name)
	if !ok {
		return &UnknownTaskError{Name: name, Ref: ref}
	}

	status, ok := rctx.runTasks[name]
	if ok {
		if status {
			log(ctx).Debug().Str("task", name).Msg("already run")
			return nil
		}

		path := append(append([]string{}, rctx.stack...), name)
		return &CycleError{Path: path}
	}

	rctx.runTasks[name] = false
	rctx.stack = append(rctx.stack, name)
	defer func() {
		rctx.stack = rctx.stack[:len(rctx.stack)-1]
	}()

	if task.IsComposite() {
		for _, sub := range task.Subtasks {
			if err := o.runTaskInternal(ctx, rctx, sub, name); err != nil {
				return err
			}
		}
	} else {
		if o.DryRun {
			log(ctx).Info().Str("task", name).Msg("skipped (dry run)")
		} else {
			log(ctx).Info().Str("task", name).Msg("running")
			if err := task.Action(ctx); err != nil {
				return &TaskExecutionError{Task: name, Cause: err}
			}
		}
	}

	rctx.runTasks[name] = true
	return nil
}

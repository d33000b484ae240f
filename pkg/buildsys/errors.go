package buildsys

import (
	"fmt"
	"strings"
)

// UnknownTaskError is returned when a task name isn't registered
type UnknownTaskError struct {
	Name string
	// Ref is the task that referenced Name, empty for top-level requests
	Ref string
}

func (e *UnknownTaskError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("task %s (referenced by %s) not found", e.Name, e.Ref)
	}
	return fmt.Sprintf("task %s not found", e.Name)
}

// DuplicateTaskError is returned when a task name is registered twice
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s is already registered", e.Name)
}

// TaskExecutionError wraps the error returned by a primitive task's action
type TaskExecutionError struct {
	Task  string
	Cause error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.Task, e.Cause)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Cause
}

// CycleError is returned for task graphs that reference themselves
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "task cycle: " + strings.Join(e.Path, " -> ")
}

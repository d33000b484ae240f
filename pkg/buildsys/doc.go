// Package buildsys implements the task registry and the orchestrator that runs build tasks.
// Tasks are either primitive actions (compile a less target, run shell commands, watch files) or
// ordered lists of other tasks. The compiler and watcher are passed in by the caller.
package buildsys

package config

import "time"

// CompileOptions controls how a stylesheet is compiled
type CompileOptions struct {
	// Compress minifies the output
	Compress bool
	// StrictMath rejects operations between incompatible units instead of coercing them
	StrictMath bool
	// Paths lists additional directories searched for @import
	Paths []string
	// Banner is prepended to the compiled output
	Banner string
	// GlobalVars are defined before the source and can be overridden by it
	GlobalVars map[string]string
	// ModifyVars are defined after the source and override it
	ModifyVars map[string]string
	// Brotli writes a precompressed <target>.br next to each output
	Brotli bool
}

// FileMap maps a single output file to the sources compiled into it
type FileMap struct {
	Target  string
	Sources []string
}

// FileMapping is an ordered list of FileMaps
type FileMapping []FileMap

// LessTarget is one named target of the less task
type LessTarget struct {
	Name    string
	Options CompileOptions
	Files   FileMapping
}

// Watch events
const (
	EventAll     = "all"
	EventChanged = "changed"
	EventAdded   = "added"
	EventDeleted = "deleted"
)

// DefaultDebounce is used if a watch spec doesn't specify a debounce delay
const DefaultDebounce = 500 * time.Millisecond

type WatchOptions struct {
	Debounce time.Duration
	AtBegin  bool
	Events   []string
}

// WatchSpec re-runs Tasks whenever a file matching one of the Files globs changes
type WatchSpec struct {
	Name    string
	Files   []string
	Tasks   []string
	Options WatchOptions
}

// Wants reports whether the spec is interested in the given event kind
func (s WatchSpec) Wants(event string) bool {
	if len(s.Options.Events) == 0 {
		return true
	}

	for _, item := range s.Options.Events {
		if item == EventAll || item == event {
			return true
		}
	}
	return false
}

// ShellTask runs a list of shell commands
type ShellTask struct {
	Name string
	Desc string
	Dir  string
	Env  map[string]string
	Cmds []string
}

// Alias names an ordered list of other tasks
type Alias struct {
	Name  string
	Desc  string
	Tasks []string
}

// Document is the static build configuration as read from a build file
type Document struct {
	Less    []LessTarget
	Watch   []WatchSpec
	Shell   []ShellTask
	Aliases []Alias
}

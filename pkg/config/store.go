package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Store holds a validated build configuration. It is never modified after Load; all accessors
// return copies.
type Store struct {
	doc     Document
	less    map[string]int
	watches map[string]int
}

var validEvents = map[string]bool{
	EventAll:     true,
	EventChanged: true,
	EventAdded:   true,
	EventDeleted: true,
}

// Load validates the passed document and returns a Store for it
func Load(doc Document) (*Store, error) {
	store := &Store{
		doc:     copyDocument(doc),
		less:    make(map[string]int),
		watches: make(map[string]int),
	}

	for idx, target := range store.doc.Less {
		if err := validateLessTarget(target); err != nil {
			return nil, err
		}

		if _, dup := store.less[target.Name]; dup {
			return nil, configErrorf("less."+target.Name, "defined twice")
		}
		store.less[target.Name] = idx
	}

	for idx, spec := range store.doc.Watch {
		key := "watch." + spec.Name
		if spec.Name == "" {
			return nil, configErrorf("watch", "spec #%d has no name", idx)
		}
		if _, dup := store.watches[spec.Name]; dup {
			return nil, configErrorf(key, "defined twice")
		}
		if len(spec.Files) == 0 {
			return nil, configErrorf(key, "no files to watch")
		}
		for _, pattern := range spec.Files {
			if strings.TrimSpace(pattern) == "" {
				return nil, configErrorf(key+".files", "empty pattern")
			}
		}
		if len(spec.Tasks) == 0 {
			return nil, configErrorf(key, "no tasks to run")
		}
		if spec.Options.Debounce < 0 {
			return nil, configErrorf(key+".options", "negative debounce delay %s", spec.Options.Debounce)
		}
		for _, event := range spec.Options.Events {
			if !validEvents[event] {
				return nil, configErrorf(key+".options", "unknown event %q", event)
			}
		}
		store.watches[spec.Name] = idx
	}

	seen := make(map[string]bool)
	for idx, task := range store.doc.Shell {
		if task.Name == "" {
			return nil, configErrorf("shell", "task #%d has no name", idx)
		}
		if seen[task.Name] {
			return nil, configErrorf("shell."+task.Name, "defined twice")
		}
		if len(task.Cmds) == 0 {
			return nil, configErrorf("shell."+task.Name, "no commands")
		}
		seen[task.Name] = true
	}

	seen = make(map[string]bool)
	for idx, alias := range store.doc.Aliases {
		if alias.Name == "" {
			return nil, configErrorf("tasks", "alias #%d has no name", idx)
		}
		if seen[alias.Name] {
			return nil, configErrorf("tasks."+alias.Name, "defined twice")
		}
		if len(alias.Tasks) == 0 {
			return nil, configErrorf("tasks."+alias.Name, "empty task list")
		}
		for _, name := range alias.Tasks {
			if name == "" {
				return nil, configErrorf("tasks."+alias.Name, "empty task name")
			}
		}
		seen[alias.Name] = true
	}

	return store, nil
}

func validateLessTarget(target LessTarget) error {
	if target.Name == "" {
		return configErrorf("less", "target without name")
	}

	key := "less." + target.Name
	if len(target.Files) == 0 {
		return configErrorf(key+".files", "no files")
	}

	for _, mapping := range target.Files {
		if mapping.Target == "" {
			return configErrorf(key+".files", "empty target path")
		}
		if strings.HasSuffix(mapping.Target, "/") || strings.HasSuffix(mapping.Target, string(os.PathSeparator)) {
			return configErrorf(key+".files", "target %s is a directory, expected a file", mapping.Target)
		}
		if len(mapping.Sources) == 0 {
			return configErrorf(key+".files", "no sources for %s", mapping.Target)
		}
		for _, src := range mapping.Sources {
			if src == "" {
				return configErrorf(key+".files", "empty source path for %s", mapping.Target)
			}
		}
	}

	for name := range target.Options.GlobalVars {
		if name == "" {
			return configErrorf(key+".options.globalVars", "empty variable name")
		}
	}
	for name := range target.Options.ModifyVars {
		if name == "" {
			return configErrorf(key+".options.modifyVars", "empty variable name")
		}
	}

	return nil
}

// Document returns a copy of the complete configuration
func (s *Store) Document() Document {
	return copyDocument(s.doc)
}

// LessTargets returns all less targets in declaration order
func (s *Store) LessTargets() []LessTarget {
	return copyDocument(Document{Less: s.doc.Less}).Less
}

// LessTarget returns the named less target
func (s *Store) LessTarget(name string) (LessTarget, bool) {
	idx, ok := s.less[name]
	if !ok {
		return LessTarget{}, false
	}
	return copyLessTarget(s.doc.Less[idx]), true
}

// CompileOptions returns the options of the named less target
func (s *Store) CompileOptions(name string) (CompileOptions, error) {
	target, ok := s.LessTarget(name)
	if !ok {
		return CompileOptions{}, eris.Errorf("less target %s not found", name)
	}
	return target.Options, nil
}

// Files returns the file mapping of the named less target
func (s *Store) Files(name string) (FileMapping, error) {
	target, ok := s.LessTarget(name)
	if !ok {
		return nil, eris.Errorf("less target %s not found", name)
	}
	return target.Files, nil
}

func (s *Store) WatchSpecs() []WatchSpec {
	return copyDocument(Document{Watch: s.doc.Watch}).Watch
}

func (s *Store) WatchSpec(name string) (WatchSpec, bool) {
	idx, ok := s.watches[name]
	if !ok {
		return WatchSpec{}, false
	}
	return copyDocument(Document{Watch: s.doc.Watch[idx : idx+1]}).Watch[0], true
}

func (s *Store) ShellTasks() []ShellTask {
	return copyDocument(Document{Shell: s.doc.Shell}).Shell
}

func (s *Store) Aliases() []Alias {
	return copyDocument(Document{Aliases: s.doc.Aliases}).Aliases
}

// * copy helpers

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	result := make(map[string]string, len(in))
	for k, v := range in {
		result[k] = v
	}
	return result
}

func copyLessTarget(in LessTarget) LessTarget {
	out := in
	out.Options.Paths = copyStrings(in.Options.Paths)
	out.Options.GlobalVars = copyStringMap(in.Options.GlobalVars)
	out.Options.ModifyVars = copyStringMap(in.Options.ModifyVars)
	if in.Files != nil {
		out.Files = make(FileMapping, len(in.Files))
		for idx, mapping := range in.Files {
			out.Files[idx] = FileMap{Target: mapping.Target, Sources: copyStrings(mapping.Sources)}
		}
	}
	return out
}

func copyDocument(in Document) Document {
	var out Document

	if in.Less != nil {
		out.Less = make([]LessTarget, len(in.Less))
		for idx, target := range in.Less {
			out.Less[idx] = copyLessTarget(target)
		}
	}

	if in.Watch != nil {
		out.Watch = make([]WatchSpec, len(in.Watch))
		for idx, spec := range in.Watch {
			out.Watch[idx] = spec
			out.Watch[idx].Files = copyStrings(spec.Files)
			out.Watch[idx].Tasks = copyStrings(spec.Tasks)
			out.Watch[idx].Options.Events = copyStrings(spec.Options.Events)
		}
	}

	if in.Shell != nil {
		out.Shell = make([]ShellTask, len(in.Shell))
		for idx, task := range in.Shell {
			out.Shell[idx] = task
			out.Shell[idx].Cmds = copyStrings(task.Cmds)
			out.Shell[idx].Env = copyStringMap(task.Env)
		}
	}

	if in.Aliases != nil {
		out.Aliases = make([]Alias, len(in.Aliases))
		for idx, alias := range in.Aliases {
			out.Aliases[idx] = alias
			out.Aliases[idx].Tasks = copyStrings(alias.Tasks)
		}
	}

	return out
}

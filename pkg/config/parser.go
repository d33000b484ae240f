package config

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// BuildFiles lists the file names Find looks for, in order of preference
var BuildFiles = []string{
	"stylebuild.yaml",
	"stylebuild.yml",
	"stylebuild.json",
	"stylebuild.star",
}

// Find searches dir and its parents for the first build file
func Find(dir string) (string, error) {
	path, err := filepath.Abs(dir)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", dir)
	}

	for {
		for _, name := range BuildFiles {
			candidate := filepath.Join(path, name)
			_, err := os.Stat(candidate)
			if err == nil {
				return candidate, nil
			}
			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrapf(err, "failed to check %s", candidate)
			}
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no build file (%s) found", strings.Join(BuildFiles, ", "))
		}
		path = parent
	}
}

// ParseFile reads a build file and returns its document. The format is chosen by extension.
// Relative paths inside the file are resolved against the file's directory. options is only used by
// Starlark scripts (see option()).
func ParseFile(ctx context.Context, path string, options map[string]string) (Document, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return Document{}, eris.Wrapf(err, "failed to resolve %s", path)
	}

	var doc Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return Document{}, eris.Wrapf(err, "failed to read %s", path)
		}

		doc, err = ParseYAML(filepath.Base(path), data)
		if err != nil {
			return Document{}, err
		}
	case ".star":
		doc, err = ParseStarlark(ctx, path, options)
		if err != nil {
			return Document{}, err
		}
	default:
		return Document{}, eris.Errorf("unsupported build file format %s", filepath.Ext(path))
	}

	return ResolvePaths(doc, filepath.Dir(path)), nil
}

// ResolvePaths returns a copy of doc with all relative paths joined to base
func ResolvePaths(doc Document, base string) Document {
	doc = copyDocument(doc)

	for idx := range doc.Less {
		target := &doc.Less[idx]
		for pIdx, path := range target.Options.Paths {
			target.Options.Paths[pIdx] = normalizePath(base, path)
		}

		for mIdx := range target.Files {
			mapping := &target.Files[mIdx]
			mapping.Target = normalizePath(base, mapping.Target)
			for sIdx, src := range mapping.Sources {
				mapping.Sources[sIdx] = normalizePath(base, src)
			}
		}
	}

	for idx := range doc.Watch {
		for fIdx, pattern := range doc.Watch[idx].Files {
			doc.Watch[idx].Files[fIdx] = normalizePath(base, pattern)
		}
	}

	for idx := range doc.Shell {
		if doc.Shell[idx].Dir == "" {
			doc.Shell[idx].Dir = base
		} else {
			doc.Shell[idx].Dir = normalizePath(base, doc.Shell[idx].Dir)
		}
	}

	return doc
}

// normalizePath resolves path relative to base. Paths starting with // are relative to base as well
// which allows scripts to spell out that a path is project relative.
func normalizePath(base, path string) string {
	if strings.HasPrefix(path, "//") {
		return filepath.Join(base, path[2:])
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlParser struct {
	name string
}

// ParseYAML parses a YAML (or JSON) build file. Mapping order is preserved so that targets and file
// mappings keep their declaration order.
func ParseYAML(name string, data []byte) (Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Document{}, &ConfigError{Pos: name, Msg: err.Error()}
	}

	p := yamlParser{name: name}
	doc := Document{}
	if root.Kind == 0 {
		// empty file
		return doc, nil
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 {
		return doc, p.errorf(&root, "", "expected a single document")
	}

	top := root.Content[0]
	if top.Kind == yaml.ScalarNode && top.Tag == "!!null" {
		return doc, nil
	}

	err := p.eachPair(top, "", func(key string, value *yaml.Node) error {
		var err error
		switch key {
		case "less":
			doc.Less, err = p.parseLess(value)
		case "watch":
			doc.Watch, err = p.parseWatch(value)
		case "shell":
			doc.Shell, err = p.parseShell(value)
		case "tasks":
			doc.Aliases, err = p.parseAliases(value)
		default:
			err = p.errorf(value, key, "unknown section")
		}
		return err
	})
	if err != nil {
		return Document{}, err
	}

	return doc, nil
}

func (p yamlParser) errorf(node *yaml.Node, key, format string, args ...interface{}) error {
	return &ConfigError{
		Key: key,
		Pos: fmt.Sprintf("%s:%d", p.name, node.Line),
		Msg: fmt.Sprintf(format, args...),
	}
}

func (p yamlParser) eachPair(node *yaml.Node, key string, cb func(string, *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return p.errorf(node, key, "expected a mapping")
	}

	for idx := 0; idx+1 < len(node.Content); idx += 2 {
		keyNode := node.Content[idx]
		if keyNode.Kind != yaml.ScalarNode {
			return p.errorf(keyNode, key, "expected a string key")
		}

		if err := cb(keyNode.Value, node.Content[idx+1]); err != nil {
			return err
		}
	}
	return nil
}

func (p yamlParser) hasKey(node *yaml.Node, name string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for idx := 0; idx+1 < len(node.Content); idx += 2 {
		if node.Content[idx].Value == name {
			return true
		}
	}
	return false
}

func (p yamlParser) str(node *yaml.Node, key string) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", p.errorf(node, key, "expected a string")
	}
	return node.Value, nil
}

func (p yamlParser) boolean(node *yaml.Node, key string) (bool, error) {
	var value bool
	if node.Kind != yaml.ScalarNode || node.Decode(&value) != nil {
		return false, p.errorf(node, key, "expected a boolean but found %q", node.Value)
	}
	return value, nil
}

// stringList accepts a single string or a sequence of strings
func (p yamlParser) stringList(node *yaml.Node, key string) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		result := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			value, err := p.str(item, key)
			if err != nil {
				return nil, err
			}
			result = append(result, value)
		}
		return result, nil
	default:
		return nil, p.errorf(node, key, "expected a string or a list of strings")
	}
}

func (p yamlParser) stringMap(node *yaml.Node, key string) (map[string]string, error) {
	result := make(map[string]string)
	err := p.eachPair(node, key, func(name string, value *yaml.Node) error {
		str, err := p.str(value, key+"."+name)
		if err != nil {
			return err
		}
		result[name] = str
		return nil
	})
	return result, err
}

func (p yamlParser) parseLess(node *yaml.Node) ([]LessTarget, error) {
	targets := make([]LessTarget, 0)
	err := p.eachPair(node, "less", func(name string, value *yaml.Node) error {
		key := "less." + name
		target := LessTarget{Name: name}

		err := p.eachPair(value, key, func(field string, value *yaml.Node) error {
			var err error
			switch field {
			case "options":
				target.Options, err = p.parseCompileOptions(value, key+".options")
			case "files":
				target.Files, err = p.parseFiles(value, key+".files")
			default:
				err = p.errorf(value, key, "unknown field %s", field)
			}
			return err
		})
		if err != nil {
			return err
		}

		targets = append(targets, target)
		return nil
	})
	return targets, err
}

func (p yamlParser) parseCompileOptions(node *yaml.Node, key string) (CompileOptions, error) {
	opts := CompileOptions{}
	err := p.eachPair(node, key, func(field string, value *yaml.Node) error {
		var err error
		fieldKey := key + "." + field
		switch field {
		case "compress":
			opts.Compress, err = p.boolean(value, fieldKey)
		case "strictMath":
			opts.StrictMath, err = p.boolean(value, fieldKey)
		case "brotli":
			opts.Brotli, err = p.boolean(value, fieldKey)
		case "paths":
			opts.Paths, err = p.stringList(value, fieldKey)
		case "banner":
			opts.Banner, err = p.str(value, fieldKey)
		case "globalVars":
			opts.GlobalVars, err = p.stringMap(value, fieldKey)
		case "modifyVars":
			opts.ModifyVars, err = p.stringMap(value, fieldKey)
		default:
			err = p.errorf(value, key, "unknown option %s", field)
		}
		return err
	})
	return opts, err
}

func (p yamlParser) parseFiles(node *yaml.Node, key string) (FileMapping, error) {
	mapping := FileMapping{}
	err := p.eachPair(node, key, func(target string, value *yaml.Node) error {
		sources, err := p.stringList(value, key+"."+target)
		if err != nil {
			return err
		}

		mapping = append(mapping, FileMap{Target: target, Sources: sources})
		return nil
	})
	return mapping, err
}

func (p yamlParser) parseWatch(node *yaml.Node) ([]WatchSpec, error) {
	// A mapping with a files key is a single unnamed spec
	if p.hasKey(node, "files") {
		spec, err := p.parseWatchSpec("default", node)
		if err != nil {
			return nil, err
		}
		return []WatchSpec{spec}, nil
	}

	specs := make([]WatchSpec, 0)
	err := p.eachPair(node, "watch", func(name string, value *yaml.Node) error {
		spec, err := p.parseWatchSpec(name, value)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	})
	return specs, err
}

func (p yamlParser) parseWatchSpec(name string, node *yaml.Node) (WatchSpec, error) {
	key := "watch." + name
	spec := WatchSpec{
		Name: name,
		Options: WatchOptions{
			Debounce: DefaultDebounce,
		},
	}

	err := p.eachPair(node, key, func(field string, value *yaml.Node) error {
		var err error
		switch field {
		case "files":
			spec.Files, err = p.stringList(value, key+".files")
		case "tasks":
			spec.Tasks, err = p.stringList(value, key+".tasks")
		case "options":
			err = p.eachPair(value, key+".options", func(option string, value *yaml.Node) error {
				var err error
				optionKey := key + ".options." + option
				switch option {
				case "debounceDelay":
					spec.Options.Debounce, err = p.duration(value, optionKey)
				case "atBegin":
					spec.Options.AtBegin, err = p.boolean(value, optionKey)
				case "event":
					spec.Options.Events, err = p.stringList(value, optionKey)
				default:
					err = p.errorf(value, key+".options", "unknown option %s", option)
				}
				return err
			})
		default:
			err = p.errorf(value, key, "unknown field %s", field)
		}
		return err
	})
	return spec, err
}

// duration accepts Go duration strings ("250ms") or plain integers (milliseconds)
func (p yamlParser) duration(node *yaml.Node, key string) (time.Duration, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, p.errorf(node, key, "expected a duration")
	}

	var ms int64
	if node.Tag == "!!int" && node.Decode(&ms) == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	value, err := time.ParseDuration(node.Value)
	if err != nil {
		return 0, p.errorf(node, key, "invalid duration %q", node.Value)
	}
	return value, nil
}

func (p yamlParser) parseShell(node *yaml.Node) ([]ShellTask, error) {
	tasks := make([]ShellTask, 0)
	err := p.eachPair(node, "shell", func(name string, value *yaml.Node) error {
		key := "shell." + name
		task := ShellTask{Name: name}

		var err error
		if value.Kind != yaml.MappingNode {
			// shorthand: shell: {clean: "rm -rf out"}
			task.Cmds, err = p.stringList(value, key)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
			return nil
		}

		err = p.eachPair(value, key, func(field string, value *yaml.Node) error {
			var err error
			switch field {
			case "desc":
				task.Desc, err = p.str(value, key+".desc")
			case "dir":
				task.Dir, err = p.str(value, key+".dir")
			case "env":
				task.Env, err = p.stringMap(value, key+".env")
			case "cmds":
				task.Cmds, err = p.stringList(value, key+".cmds")
			default:
				err = p.errorf(value, key, "unknown field %s", field)
			}
			return err
		})
		if err != nil {
			return err
		}

		tasks = append(tasks, task)
		return nil
	})
	return tasks, err
}

func (p yamlParser) parseAliases(node *yaml.Node) ([]Alias, error) {
	aliases := make([]Alias, 0)
	err := p.eachPair(node, "tasks", func(name string, value *yaml.Node) error {
		key := "tasks." + name
		alias := Alias{Name: name}

		var err error
		if value.Kind != yaml.MappingNode {
			alias.Tasks, err = p.stringList(value, key)
		} else {
			err = p.eachPair(value, key, func(field string, value *yaml.Node) error {
				var err error
				switch field {
				case "desc":
					alias.Desc, err = p.str(value, key+".desc")
				case "tasks":
					alias.Tasks, err = p.stringList(value, key+".tasks")
				default:
					err = p.errorf(value, key, "unknown field %s", field)
				}
				return err
			})
		}
		if err != nil {
			return err
		}

		aliases = append(aliases, alias)
		return nil
	})
	return aliases, err
}

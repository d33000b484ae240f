package config

import "fmt"

// ConfigError is returned for structurally malformed build configurations
type ConfigError struct {
	// Key is the dotted path of the offending entry, i.e. less.bootstrap.files
	Key string
	// Pos is the file position (file:line) if the document came from a file
	Pos string
	Msg string
}

func (e *ConfigError) Error() string {
	msg := e.Msg
	if e.Key != "" {
		msg = fmt.Sprintf("%s: %s", e.Key, msg)
	}
	if e.Pos != "" {
		msg = fmt.Sprintf("%s: %s", e.Pos, msg)
	}
	return "invalid config: " + msg
}

func configErrorf(key, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Key: key, Msg: fmt.Sprintf(format, args...)}
}

package compiler

import "fmt"

// CompileError is returned when a source file couldn't be compiled. The previous output is left
// untouched.
type CompileError struct {
	Source string
	Cause  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s: %s", e.Source, e.Cause)
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

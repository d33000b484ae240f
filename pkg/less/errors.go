package less

import (
	"fmt"
	"strings"
)

// ErrorKind classifies compile errors
type ErrorKind int

const (
	SyntaxError ErrorKind = iota
	ImportError
	UnitError
	NameError
	ArgumentError
	OperationError
)

func (k ErrorKind) String() string {
	switch k {
	case SyntaxError:
		return "SyntaxError"
	case ImportError:
		return "ImportError"
	case UnitError:
		return "UnitError"
	case NameError:
		return "NameError"
	case ArgumentError:
		return "ArgumentError"
	case OperationError:
		return "OperationError"
	}
	return "Error"
}

// Error is returned for any problem with the compiled source
type Error struct {
	Kind     ErrorKind
	Filename string
	Line     int
	Col      int
	Message  string
}

func (e *Error) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s:%d:%d: %s", e.Kind, e.Filename, e.Line, e.Col, e.Message)
}

// source is a single parsed file
type source struct {
	name string
	text string
}

// pos points into a source
type pos struct {
	src    *source
	offset int
}

func (p pos) errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	err := &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}

	if p.src != nil {
		err.Filename = p.src.name
		offset := p.offset
		if offset > len(p.src.text) {
			offset = len(p.src.text)
		}

		before := p.src.text[:offset]
		err.Line = strings.Count(before, "\n") + 1
		err.Col = offset - strings.LastIndex(before, "\n")
	}
	return err
}

package vm

import (
	"errors"
	"fmt"
)

// Internal fault sentinels. These indicate an upstream contract
// violation (a malformed program), abort the current execution, and are
// never produced by a conformant generator.
var (
	ErrUnknownOpcode   = errors.New("vm: unknown opcode")
	ErrCorruptProgram  = errors.New("vm: corrupt program")
	ErrUnknownFunction = errors.New("vm: unknown function id")
)

// ErrorKind classifies a language-level thrown error.
type ErrorKind uint8

const (
	TypeError ErrorKind = iota
	RangeError
	ReferenceError
)

func (k ErrorKind) String() string {
	switch k {
	case TypeError:
		return "TypeError"
	case RangeError:
		return "RangeError"
	case ReferenceError:
		return "ReferenceError"
	}
	return "Error"
}

// ThrownError is a language-level error value. It unwinds call frames
// like an ordinary exception and is catchable at the language level by
// the handler-table collaborator; it is not an internal fault.
type ThrownError struct {
	Kind    ErrorKind
	Message string
}

func (e *ThrownError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewTypeError creates a thrown TypeError.
func NewTypeError(format string, args ...any) *ThrownError {
	return &ThrownError{Kind: TypeError, Message: fmt.Sprintf(format, args...)}
}

// NewRangeError creates a thrown RangeError.
func NewRangeError(format string, args ...any) *ThrownError {
	return &ThrownError{Kind: RangeError, Message: fmt.Sprintf(format, args...)}
}

// NewReferenceError creates a thrown ReferenceError.
func NewReferenceError(format string, args ...any) *ThrownError {
	return &ThrownError{Kind: ReferenceError, Message: fmt.Sprintf(format, args...)}
}

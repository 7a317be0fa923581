package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a file could not be stored.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindFilter     ErrorKind = "filter"
	KindIO         ErrorKind = "io"
	KindRemote     ErrorKind = "remote_storage"
	KindConfig     ErrorKind = "config"
)

var (
	ErrFieldRequired    = errors.New("field required")
	ErrMaxCountExceeded = errors.New("max count exceeded")
	ErrFileTooLarge     = errors.New("file too large")
)

// Error is a classified storage error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

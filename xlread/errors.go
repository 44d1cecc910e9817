package xlread

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these through errors.Is.
var (
	ErrNotFound                 = errors.New("file not found")
	ErrUnrecognizedContainer    = errors.New("unrecognized workbook container")
	ErrPassword                 = errors.New("workbook is password protected")
	ErrCorruption               = errors.New("workbook is corrupt")
	ErrWorksheetNotFound        = errors.New("worksheet not found")
	ErrTableNotFound            = errors.New("table not found")
	ErrTablesNotSupported       = errors.New("tables are only supported for xlsx workbooks")
	ErrTablesNotLoaded          = errors.New("tables were not loaded; open the workbook with LoadTables")
	ErrFormulaIterationDisabled = errors.New("formula iteration is disabled; open the workbook with ReadFormulas")
	ErrWorkbookClosed           = errors.New("workbook is closed")
	ErrInvalidArgument          = errors.New("invalid argument")
)

// Error represents an error that occurred while reading a workbook.
// Kind is one of the Err* sentinels; Err is the underlying cause, if any.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Kind.Error()
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// newError creates an *Error of the given kind with a formatted message.
func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapError creates an *Error of the given kind around cause. An error that
// already carries a kind is returned unchanged.
func wrapError(kind error, cause error, format string, args ...interface{}) error {
	var xe *Error
	if errors.As(cause, &xe) {
		return cause
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func corruptf(format string, args ...interface{}) *Error {
	return newError(ErrCorruption, format, args...)
}

package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure by its origin, not its internal type.
type ErrorCode string

const (
	// ErrRuntime: executor construction failed or the executor has shut
	// down. Fatal for the call; the node cannot serve it.
	ErrRuntime ErrorCode = "RUNTIME"
	// ErrNodeCreate: storage open, directory, bind, or spawn failure during
	// node construction. The node is not returned.
	ErrNodeCreate ErrorCode = "NODE_CREATE"
	// ErrDoc: any failure from a document operation. Recoverable.
	ErrDoc ErrorCode = "DOC"
	// ErrTicketParse: malformed ticket text. Recoverable.
	ErrTicketParse ErrorCode = "DOC_TICKET_PARSE"
	// ErrAuthor: author creation or lookup failure. Recoverable.
	ErrAuthor ErrorCode = "AUTHOR"
)

// CodedError is a stable error with a machine-readable code and a human
// message. It is the only error shape that crosses the facade boundary.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Errorf formats a new CodedError.
func Errorf(code ErrorCode, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err, preserving err for errors.Is/As chains.
// A nil err wraps to nil; an err already carrying a code is kept as is.
func Wrap(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return err
	}
	return &CodedError{Code: code, Message: err.Error(), Err: err}
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

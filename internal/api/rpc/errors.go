package rpc

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// JSON-RPC error codes. The -327xx range is the JSON-RPC 2.0 standard set;
// the -3200x range carries the host-error taxonomy.
const (
	ErrCodeParseError       = -32700 // Invalid JSON
	ErrCodeInvalidRequest   = -32600 // Invalid request envelope
	ErrCodeMethodNotFound   = -32601 // Method not found
	ErrCodeInvalidParams    = -32602 // Invalid method parameters
	ErrCodeInternalError    = -32603 // Uncaught fault
	ErrCodeFileNotFound     = -32001 // ENOENT
	ErrCodePermissionDenied = -32002 // EACCES, EPERM
	ErrCodeIOError          = -32003 // Any other OS failure
	ErrCodeProcessError     = -32004 // Process-lifecycle faults
)

// Error is a classified failure that maps directly onto a JSON-RPC error
// object. Handlers may only fail by returning one of these; anything else
// is wrapped as an internal error by the dispatch layer.
type Error struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	return e.Message
}

func invalidParams(format string, args ...interface{}) *Error {
	return &Error{Code: ErrCodeInvalidParams, Message: "Invalid params: " + fmt.Sprintf(format, args...)}
}

// processError classifies a registry or spawn failure, preserving an
// already-classified *Error untouched.
func processError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: ErrCodeProcessError, Message: err.Error()}
}

// mapOSError translates a host filesystem failure by errno. path fills the
// message template; when empty, the path is recovered from the error itself
// (PathError / LinkError) so messages still name the offending file.
func mapOSError(err error, path string) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if path == "" {
		path = pathFromError(err)
	}
	switch errnoOf(err) {
	case unix.ENOENT:
		return &Error{Code: ErrCodeFileNotFound, Message: fmt.Sprintf("File not found: %s", path)}
	case unix.EACCES, unix.EPERM:
		return &Error{Code: ErrCodePermissionDenied, Message: fmt.Sprintf("Permission denied: %s", path)}
	default:
		return &Error{Code: ErrCodeIOError, Message: err.Error()}
	}
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	// Portable sentinels from layers that do not preserve the errno.
	if errors.Is(err, os.ErrNotExist) {
		return unix.ENOENT
	}
	if errors.Is(err, os.ErrPermission) {
		return unix.EACCES
	}
	return 0
}

func pathFromError(err error) string {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Path
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.New
	}
	return ""
}

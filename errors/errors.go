package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorFilesystem
	ErrorInvalidArgument
)

// TransportError represents connection-level errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorListenFailure
	TransportErrorAcceptFailure
	TransportErrorConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorTimeout
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

// ProtocolError represents HTTP framing errors
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorLineTooLong
	ProtocolErrorInvalidStatusLine
	ProtocolErrorIncompleteResponse
	ProtocolErrorInvalidHeader
)

// FilesystemError represents errors while resolving or reading a file under the server root
type FilesystemError int

const (
	FilesystemErrorNone FilesystemError = iota
	FilesystemErrorInvalidRoot
	FilesystemErrorOutsideRoot
	FilesystemErrorOpenFailure
	FilesystemErrorNotRegular
	FilesystemErrorReadFailure
)

// HttpError is the main error type for the server
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	FilesystemErr FilesystemError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("Transport error (%d)", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("Protocol error (%d)", e.ProtocolErr)
	case ErrorFilesystem:
		typeStr = fmt.Sprintf("Filesystem error (%d)", e.FilesystemErr)
	case ErrorInvalidArgument:
		typeStr = "Invalid argument"
	default:
		typeStr = "Unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// IsTransport reports whether err is an *HttpError carrying the given transport code
func IsTransport(err error, code TransportError) bool {
	var e *HttpError
	return stderrors.As(err, &e) && e.Type == ErrorTransport && e.TransportErr == code
}

// IsFilesystem reports whether err is an *HttpError carrying the given filesystem code
func IsFilesystem(err error, code FilesystemError) bool {
	var e *HttpError
	return stderrors.As(err, &e) && e.Type == ErrorFilesystem && e.FilesystemErr == code
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// NewFilesystemError creates a new filesystem error
func NewFilesystemError(err FilesystemError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorFilesystem,
		FilesystemErr: err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *HttpError {
	return &HttpError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error
// code.
type DomainError struct {
	Code    string // Error code (e.g., "CY-NODE-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Node Errors (NODE)
// ============================================================================

var (
	// ErrNoNode indicates the path does not exist.
	ErrNoNode = NewDomainError("CY-NODE-4040", "node does not exist")

	// ErrNodeExists indicates the path already exists.
	ErrNodeExists = NewDomainError("CY-NODE-4090", "node already exists")

	// ErrBadVersion indicates an optimistic version check failed.
	ErrBadVersion = NewDomainError("CY-NODE-4091", "version conflict")

	// ErrNotEmpty indicates the node still has children.
	ErrNotEmpty = NewDomainError("CY-NODE-4092", "node has children")

	// ErrBadPath indicates the path is malformed.
	ErrBadPath = NewDomainError("CY-NODE-4000", "malformed path")
)

// ============================================================================
// ACL Errors (ACL)
// ============================================================================

var (
	// ErrNoACL indicates an ACL id is not present in the interning cache.
	ErrNoACL = NewDomainError("CY-ACL-4040", "acl id not found")
)

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrSessionNotFound indicates the session id is unknown.
	ErrSessionNotFound = NewDomainError("CY-SESS-4040", "session not found")
)

// ============================================================================
// Storage Errors (LOG, SNAP, DIR)
// ============================================================================

var (
	// ErrCorruptRecord indicates a log frame failed its integrity check.
	ErrCorruptRecord = NewDomainError("CY-LOG-5001", "corrupt log record")

	// ErrZxidOrder indicates an append with a non-increasing zxid.
	ErrZxidOrder = NewDomainError("CY-LOG-4090", "zxid not greater than last appended")

	// ErrNoValidSnapshot indicates no readable snapshot exists.
	ErrNoValidSnapshot = NewDomainError("CY-SNAP-4040", "no valid snapshot found")

	// ErrSnapshotIntegrity indicates a snapshot failed its digest check.
	ErrSnapshotIntegrity = NewDomainError("CY-SNAP-5001", "snapshot integrity check failed")

	// ErrDatadir indicates a data directory is missing or unusable.
	ErrDatadir = NewDomainError("CY-DIR-5000", "data directory unusable")

	// ErrLogDirContent indicates snapshot files were found in the log
	// directory.
	ErrLogDirContent = NewDomainError("CY-DIR-4001", "log directory contains foreign files")

	// ErrSnapDirContent indicates log files were found in the snapshot
	// directory.
	ErrSnapDirContent = NewDomainError("CY-DIR-4002", "snapshot directory contains foreign files")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("CY-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("CY-ARG-1002", "missing required argument")
)

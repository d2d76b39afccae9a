// errors.go: structured errors for request dispatch
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package protocol

import "github.com/agilira/go-errors"

const (
	ErrCodeUnauthenticated        errors.ErrorCode = "MIMORIA_UNAUTHENTICATED"
	ErrCodeProtocolVersionMismatch errors.ErrorCode = "MIMORIA_PROTOCOL_VERSION_MISMATCH"
	ErrCodeUnknownOperation        errors.ErrorCode = "MIMORIA_UNKNOWN_OPERATION"
	ErrCodeBulkOperationRejected   errors.ErrorCode = "MIMORIA_BULK_OPERATION_REJECTED"
	ErrCodeInvalidCredentials      errors.ErrorCode = "MIMORIA_INVALID_CREDENTIALS"
)

// NewErrUnauthenticated reports a non-Login operation on a connection
// that has not successfully logged in (spec.md Sec. 4.F).
func NewErrUnauthenticated(op Operation) error {
	return errors.NewWithField(ErrCodeUnauthenticated, "authentication required", "operation", op)
}

// NewErrProtocolVersionMismatch reports a Login carrying an unsupported
// protocol version.
func NewErrProtocolVersionMismatch(expected, got uint32) error {
	return errors.NewWithContext(ErrCodeProtocolVersionMismatch, "protocol version mismatch", map[string]interface{}{
		"expected": expected,
		"got":      got,
	})
}

// NewErrUnknownOperation reports an operation byte the dispatcher has no
// handler for.
func NewErrUnknownOperation(op byte) error {
	return errors.NewWithField(ErrCodeUnknownOperation, "unknown operation", "operation", op)
}

// NewErrBulkOperationRejected reports a sub-request inside a Bulk
// envelope whose operation is not in the allowed subset (spec.md Design
// Notes "Bulk operation partial implementation").
func NewErrBulkOperationRejected(op Operation) error {
	return errors.NewWithField(ErrCodeBulkOperationRejected, "operation not permitted inside bulk envelope", "operation", op)
}

// NewErrInvalidCredentials reports a Login carrying the wrong password.
func NewErrInvalidCredentials() error {
	return errors.New(ErrCodeInvalidCredentials, "invalid password")
}

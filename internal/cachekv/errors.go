// errors.go: structured errors for the cache engine
//
// Mirrors the teacher's errors.go: one ErrorCode constant and one
// NewErrXxx constructor per error kind, built on go-errors for rich
// context instead of bare fmt.Errorf strings.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for cache engine operations.
const (
	ErrCodeShapeMismatch   errors.ErrorCode = "MIMORIA_SHAPE_MISMATCH"
	ErrCodeEmptyKey        errors.ErrorCode = "MIMORIA_EMPTY_KEY"
	ErrCodeNullListElement errors.ErrorCode = "MIMORIA_NULL_LIST_ELEMENT"
	ErrCodeKeyTooLong      errors.ErrorCode = "MIMORIA_KEY_TOO_LONG"
)

// NewErrShapeMismatch reports that an operation expecting `expected` was
// invoked against a key currently holding `actual`. No state is mutated.
func NewErrShapeMismatch(key string, expected, actual Shape) error {
	return errors.NewWithContext(ErrCodeShapeMismatch, "value shape mismatch", map[string]interface{}{
		"key":      key,
		"expected": expected.String(),
		"actual":   actual.String(),
	})
}

// NewErrEmptyKey reports that an operation was invoked with an empty key.
func NewErrEmptyKey(operation string) error {
	return errors.NewWithField(ErrCodeEmptyKey, "key cannot be empty", "operation", operation)
}

// NewErrNullListElement reports a null add/remove against a list, which
// the source system rejects outright (spec.md Design Notes: "List null
// elements").
func NewErrNullListElement(operation string) error {
	return errors.NewWithField(ErrCodeNullListElement, "list elements cannot be null", "operation", operation)
}

// NewErrKeyTooLong reports a key exceeding the maximum accepted length.
func NewErrKeyTooLong(key string, max int) error {
	return errors.NewWithContext(ErrCodeKeyTooLong, "key exceeds maximum length", map[string]interface{}{
		"length": len(key),
		"max":    max,
	})
}

// IsShapeMismatch reports whether err is a ShapeMismatch error.
func IsShapeMismatch(err error) bool {
	return errors.HasCode(err, ErrCodeShapeMismatch)
}

// GetErrorCode extracts the error code from err, if any.
func GetErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}

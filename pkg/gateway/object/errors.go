// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"github.com/tidegate/tidegate/pkg/gateway/gwerr"
)

// ErrorCode classifies object service errors.
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeNotFound
	ErrCodeAccountNotFound
	ErrCodeDirectoryNotFound
	ErrCodeParentNotDirectory
	ErrCodePreconditionFailed
	ErrCodeConcurrent
	ErrCodeInvalidArgument
	ErrCodeInvalidDurability
	ErrCodeTooLarge
	ErrCodeNotEnoughSpace
	ErrCodeInternalError
)

// Error is an object service error with a classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ToAPIError converts an object error to its wire-level error code.
func (e *Error) ToAPIError() gwerr.ErrorCode {
	switch e.Code {
	case ErrCodeNotFound:
		return gwerr.ErrResourceNotFound
	case ErrCodeAccountNotFound:
		return gwerr.ErrAccountDoesNotExist
	case ErrCodeDirectoryNotFound:
		return gwerr.ErrDirectoryDoesNotExist
	case ErrCodeParentNotDirectory:
		return gwerr.ErrParentNotDirectory
	case ErrCodePreconditionFailed:
		return gwerr.ErrPreconditionFailed
	case ErrCodeConcurrent:
		return gwerr.ErrConcurrentRequest
	case ErrCodeInvalidArgument:
		return gwerr.ErrInvalidArgument
	case ErrCodeInvalidDurability:
		return gwerr.ErrInvalidDurabilityLevel
	case ErrCodeTooLarge:
		return gwerr.ErrMaxContentLengthExceeded
	case ErrCodeNotEnoughSpace:
		return gwerr.ErrNotEnoughSpace
	default:
		return gwerr.ErrInternalError
	}
}

// IsCode reports whether err is an object *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func internalError(msg string, err error) *Error {
	return &Error{Code: ErrCodeInternalError, Message: msg, Err: err}
}

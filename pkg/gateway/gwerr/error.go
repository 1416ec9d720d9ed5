// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package gwerr defines the wire-level error vocabulary of the gateway.
// Every domain error kind maps to exactly one code/status pair here;
// handlers never invent ad hoc statuses.
package gwerr

import (
	"encoding/json"
	"net/http"
)

// APIError is a wire-level error: the code string clients switch on,
// a human description, and the HTTP status it is served with.
type APIError struct {
	Code           string
	Description    string
	HTTPStatusCode int
}

// Error is the JSON error body returned to clients.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	HTTPCode int    `json:"-"`
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// ErrorCode is an enumeration of gateway error codes.
type ErrorCode int

const (
	ErrNone ErrorCode = iota

	// Resource errors
	ErrResourceNotFound
	ErrAccountDoesNotExist
	ErrDirectoryDoesNotExist
	ErrParentNotDirectory

	// Concurrency errors
	ErrPreconditionFailed
	ErrConcurrentRequest

	// Request shape errors
	ErrInvalidArgument
	ErrInvalidDurabilityLevel
	ErrMaxContentLengthExceeded

	// Multipart upload errors
	ErrMultipartUploadInvalidArgument
	ErrMultipartUploadAborted
	ErrInvalidUploadState
	ErrMultipartUploadMissingPart
	ErrMultipartUploadPartEtag
	ErrMultipartUploadPartSize
	ErrMultipartUploadContentLength
	ErrMultipartUploadPartLimit

	// Capacity errors
	ErrNotEnoughSpace

	ErrInternalError
)

var errorCodes = map[ErrorCode]APIError{
	ErrResourceNotFound: {
		Code:           "ResourceNotFoundError",
		Description:    "The requested resource does not exist",
		HTTPStatusCode: http.StatusNotFound,
	},
	ErrAccountDoesNotExist: {
		Code:           "AccountDoesNotExistError",
		Description:    "The account does not exist",
		HTTPStatusCode: http.StatusNotFound,
	},
	ErrDirectoryDoesNotExist: {
		Code:           "DirectoryDoesNotExistError",
		Description:    "The parent directory does not exist",
		HTTPStatusCode: http.StatusNotFound,
	},
	ErrParentNotDirectory: {
		Code:           "ParentNotDirectoryError",
		Description:    "The parent of the requested path is not a directory",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrPreconditionFailed: {
		Code:           "PreconditionFailedError",
		Description:    "A request precondition was not satisfied",
		HTTPStatusCode: http.StatusPreconditionFailed,
	},
	ErrConcurrentRequest: {
		Code:           "ConcurrentRequestError",
		Description:    "A concurrent request modified the resource; retry the request",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrInvalidArgument: {
		Code:           "InvalidArgumentError",
		Description:    "A request argument is missing or malformed",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrInvalidDurabilityLevel: {
		Code:           "InvalidDurabilityLevelError",
		Description:    "The requested durability level is out of range",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrMaxContentLengthExceeded: {
		Code:           "MaxContentLengthExceededError",
		Description:    "The request body exceeds the declared maximum size",
		HTTPStatusCode: http.StatusRequestEntityTooLarge,
	},
	ErrMultipartUploadInvalidArgument: {
		Code:           "MultipartUploadInvalidArgumentError",
		Description:    "A multipart upload argument is invalid",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrMultipartUploadAborted: {
		Code:           "MultipartUploadAbortedError",
		Description:    "The multipart upload has been aborted",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrInvalidUploadState: {
		Code:           "InvalidUploadStateError",
		Description:    "The operation is not valid for the upload's current state",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrMultipartUploadMissingPart: {
		Code:           "MultipartUploadMissingPartError",
		Description:    "A part referenced by the commit is missing",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrMultipartUploadPartEtag: {
		Code:           "MultipartUploadPartEtagError",
		Description:    "A part etag in the commit does not match the uploaded part",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrMultipartUploadPartSize: {
		Code:           "MultipartUploadPartSizeError",
		Description:    "A non-final part is below the minimum part size",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrMultipartUploadContentLength: {
		Code:           "MultipartUploadContentLengthError",
		Description:    "The sum of part sizes does not match the declared content length",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrMultipartUploadPartLimit: {
		Code:           "MultipartUploadPartLimitError",
		Description:    "The commit references more parts than an upload may hold",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrNotEnoughSpace: {
		Code:           "NotEnoughSpaceError",
		Description:    "Placement could not satisfy the requested durability",
		HTTPStatusCode: http.StatusInsufficientStorage,
	},
	ErrInternalError: {
		Code:           "InternalError",
		Description:    "An internal error occurred",
		HTTPStatusCode: http.StatusInternalServerError,
	},
}

// GetAPIError returns the wire-level error for a code.
func GetAPIError(code ErrorCode) APIError {
	if apiErr, ok := errorCodes[code]; ok {
		return apiErr
	}
	return errorCodes[ErrInternalError]
}

// NewError builds the JSON error body for a code, with an optional
// message override.
func NewError(code ErrorCode, message string) Error {
	apiErr := GetAPIError(code)
	if message == "" {
		message = apiErr.Description
	}
	return Error{
		Code:     apiErr.Code,
		Message:  message,
		HTTPCode: apiErr.HTTPStatusCode,
	}
}

// WriteErrorResponse writes the JSON error body and status for a code.
func WriteErrorResponse(w http.ResponseWriter, code ErrorCode, message string) {
	e := NewError(code, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	_ = json.NewEncoder(w).Encode(e)
}

package multipart

import (
	"github.com/tidegate/tidegate/pkg/gateway/gwerr"
)

// ErrorCode classifies multipart service errors.
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeUploadNotFound
	ErrCodeAccountNotFound
	ErrCodeInvalidArgument
	ErrCodeInvalidDurability
	ErrCodeUploadAborted
	ErrCodeInvalidState
	ErrCodeMissingPart
	ErrCodePartEtag
	ErrCodePartSize
	ErrCodeContentLength
	ErrCodePartLimit
	ErrCodeConcurrent
	ErrCodeDirectoryNotFound
	ErrCodeParentNotDirectory
	ErrCodeNotEnoughSpace
	ErrCodeInternalError
)

// Error is a multipart service error with a classification code.
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

// ToAPIError converts a multipart error to its wire-level error code.
func (e *Error) ToAPIError() gwerr.ErrorCode {
	switch e.Code {
	case ErrCodeUploadNotFound:
		return gwerr.ErrResourceNotFound
	case ErrCodeAccountNotFound:
		return gwerr.ErrAccountDoesNotExist
	case ErrCodeInvalidArgument:
		return gwerr.ErrMultipartUploadInvalidArgument
	case ErrCodeInvalidDurability:
		return gwerr.ErrInvalidDurabilityLevel
	case ErrCodeUploadAborted:
		return gwerr.ErrMultipartUploadAborted
	case ErrCodeInvalidState:
		return gwerr.ErrInvalidUploadState
	case ErrCodeMissingPart:
		return gwerr.ErrMultipartUploadMissingPart
	case ErrCodePartEtag:
		return gwerr.ErrMultipartUploadPartEtag
	case ErrCodePartSize:
		return gwerr.ErrMultipartUploadPartSize
	case ErrCodeContentLength:
		return gwerr.ErrMultipartUploadContentLength
	case ErrCodePartLimit:
		return gwerr.ErrMultipartUploadPartLimit
	case ErrCodeConcurrent:
		return gwerr.ErrConcurrentRequest
	case ErrCodeDirectoryNotFound:
		return gwerr.ErrDirectoryDoesNotExist
	case ErrCodeParentNotDirectory:
		return gwerr.ErrParentNotDirectory
	case ErrCodeNotEnoughSpace:
		return gwerr.ErrNotEnoughSpace
	default:
		return gwerr.ErrInternalError
	}
}

// IsCode reports whether err is a multipart *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}

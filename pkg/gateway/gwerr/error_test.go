// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package gwerr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every error kind maps to exactly one status/code pair.
func TestErrorCodeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code       ErrorCode
		wantStatus int
		wantCode   string
	}{
		{ErrResourceNotFound, http.StatusNotFound, "ResourceNotFoundError"},
		{ErrAccountDoesNotExist, http.StatusNotFound, "AccountDoesNotExistError"},
		{ErrDirectoryDoesNotExist, http.StatusNotFound, "DirectoryDoesNotExistError"},
		{ErrPreconditionFailed, http.StatusPreconditionFailed, "PreconditionFailedError"},
		{ErrConcurrentRequest, http.StatusConflict, "ConcurrentRequestError"},
		{ErrInvalidArgument, http.StatusBadRequest, "InvalidArgumentError"},
		{ErrInvalidDurabilityLevel, http.StatusBadRequest, "InvalidDurabilityLevelError"},
		{ErrParentNotDirectory, http.StatusBadRequest, "ParentNotDirectoryError"},
		{ErrMaxContentLengthExceeded, http.StatusRequestEntityTooLarge, "MaxContentLengthExceededError"},
		{ErrMultipartUploadAborted, http.StatusConflict, "MultipartUploadAbortedError"},
		{ErrInvalidUploadState, http.StatusConflict, "InvalidUploadStateError"},
		{ErrMultipartUploadMissingPart, http.StatusConflict, "MultipartUploadMissingPartError"},
		{ErrMultipartUploadPartEtag, http.StatusConflict, "MultipartUploadPartEtagError"},
		{ErrMultipartUploadPartSize, http.StatusConflict, "MultipartUploadPartSizeError"},
		{ErrMultipartUploadContentLength, http.StatusConflict, "MultipartUploadContentLengthError"},
		{ErrMultipartUploadPartLimit, http.StatusConflict, "MultipartUploadPartLimitError"},
		{ErrNotEnoughSpace, http.StatusInsufficientStorage, "NotEnoughSpaceError"},
		{ErrInternalError, http.StatusInternalServerError, "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			t.Parallel()
			apiErr := GetAPIError(tt.code)
			assert.Equal(t, tt.wantStatus, apiErr.HTTPStatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestGetAPIErrorUnknownCode(t *testing.T) {
	t.Parallel()
	apiErr := GetAPIError(ErrorCode(9999))
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatusCode)
}

func TestNewError(t *testing.T) {
	t.Parallel()

	e := NewError(ErrResourceNotFound, "")
	assert.Equal(t, "ResourceNotFoundError", e.Code)
	assert.NotEmpty(t, e.Message)

	e = NewError(ErrResourceNotFound, "/a/b does not exist")
	assert.Equal(t, "/a/b does not exist", e.Message)
}

func TestWriteErrorResponse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, ErrPreconditionFailed, "etag mismatch")

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PreconditionFailedError", body.Code)
	assert.Equal(t, "etag mismatch", body.Message)
}

// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/tidegate/tidegate/pkg/types"
)

// Service owns the multipart-upload state machine. The three request
// flows (create, upload-part, commit/abort) share nothing in process;
// all coordination goes through the persisted upload record.
type Service interface {
	// Create initiates an upload and persists it in state created.
	Create(ctx context.Context, req *CreateRequest) (*CreateResult, error)

	// UploadPart stores one part's content and metadata. Parts may be
	// resent any number of times before the upload is finalized.
	UploadPart(ctx context.Context, req *UploadPartRequest) (*UploadPartResult, error)

	// Commit validates the part-etag list against uploaded parts and
	// finalizes the upload into an object at its target path.
	Commit(ctx context.Context, req *CommitRequest) (*CommitResult, error)

	// Abort finalizes the upload as aborted and drops its parts.
	// Aborting an already-aborted upload succeeds.
	Abort(ctx context.Context, uploadID uuid.UUID) error

	// Get returns the current upload record.
	Get(ctx context.Context, uploadID uuid.UUID) (*types.UploadRecord, error)

	// Redirect resolves a live-object-path reference to an in-progress
	// upload into a permanent redirect at its canonical location. Valid
	// for any verb, not just GET.
	Redirect(ctx context.Context, uploadID uuid.UUID) (*RedirectResult, error)
}

// CreateRequest carries the create-upload parameters. Headers are the
// client-supplied metadata headers, captured verbatim (values) with
// keys normalized to lower case at persist time.
type CreateRequest struct {
	Owner      uuid.UUID
	OwnerLogin string
	TargetPath string
	Headers    map[string]string
}

// CreateResult reports the new upload's identity.
type CreateResult struct {
	ID             uuid.UUID
	PartsDirectory string
}

// UploadPartRequest carries one part's content and its request headers.
type UploadPartRequest struct {
	UploadID uuid.UUID
	PartNum  int
	Body     io.Reader
	Size     int64
	Headers  map[string]string
}

// UploadPartResult reports the stored part's etag.
type UploadPartResult struct {
	ETag string
}

// CommitRequest carries the ordered part-etag list to commit. Entry i
// names the required etag of part number i.
type CommitRequest struct {
	UploadID  uuid.UUID
	PartETags []string
}

// CommitResult reports the finalized object.
type CommitResult struct {
	TargetPath string
	ObjectETag string
	PartsMD5   string
	Size       int64
	ContentMD5 string
}

// RedirectResult is a permanent redirect to the canonical upload path.
type RedirectResult struct {
	StatusCode int // always http.StatusMovedPermanently
	Location   string
}

// redirectStatus is shared by every verb touching a live upload path.
const redirectStatus = http.StatusMovedPermanently

// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tidegate/tidegate/pkg/gateway/conditional"
	"github.com/tidegate/tidegate/pkg/types"
)

// Service orchestrates object and directory mutations. Each operation
// runs an ordered stage pipeline over an immutable request context;
// stages either continue, short-circuit with a response, or fail.
type Service interface {
	// PutObject writes object content and metadata at a path,
	// replacing any existing object there.
	PutObject(ctx context.Context, req *PutObjectRequest) (*WriteResult, error)

	// PutDirectory creates a directory record. Re-creating an existing
	// directory succeeds.
	PutDirectory(ctx context.Context, req *PutDirectoryRequest) (*WriteResult, error)

	// DeleteObject removes the record at a path. No tombstone remains.
	DeleteObject(ctx context.Context, req *DeleteObjectRequest) (*WriteResult, error)

	// HeadObject returns the record's metadata, honoring read
	// preconditions (304 short-circuit).
	HeadObject(ctx context.Context, req *HeadObjectRequest) (*HeadResult, error)
}

// PutObjectRequest carries one object write.
type PutObjectRequest struct {
	Owner uuid.UUID
	Path  string

	Body io.Reader

	// ContentLength is the declared body size; -1 means chunked
	// transfer with no declared length.
	ContentLength int64
	ContentType   string

	// Headers are the client-set metadata headers, including the
	// control headers (durability-level, max-content-length, role-tag)
	// which are consumed rather than stored.
	Headers map[string]string

	Preconditions conditional.Preconditions
}

// PutDirectoryRequest carries a directory creation.
type PutDirectoryRequest struct {
	Owner   uuid.UUID
	Path    string
	Headers map[string]string

	Preconditions conditional.Preconditions
}

// DeleteObjectRequest carries a record deletion.
type DeleteObjectRequest struct {
	Owner uuid.UUID
	Path  string

	Preconditions conditional.Preconditions
}

// HeadObjectRequest carries a metadata read.
type HeadObjectRequest struct {
	Owner uuid.UUID
	Path  string

	Preconditions conditional.Preconditions
}

// WriteResult is the response contract for a mutating operation.
// Status is 204 on success and 304 when a read-style precondition
// short-circuited the write.
type WriteResult struct {
	Status       int
	ETag         string
	LastModified time.Time
	ContentMD5   string
}

// HeadResult is the response contract for a metadata read. Record is
// nil when Status is 304.
type HeadResult struct {
	Status       int
	Record       *types.ObjectRecord
	ETag         string
	LastModified time.Time
}

// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/tidegate/tidegate/pkg/gateway/conditional"
	"github.com/tidegate/tidegate/pkg/storage/shark"
	"github.com/tidegate/tidegate/pkg/types"
)

// stageResult tags a stage's outcome. A pipeline stops at the first
// stage reporting done (the response is already on the context) or the
// first error; there are no continuation callbacks.
type stageResult int

const (
	stageContinue stageResult = iota
	stageDone
)

// stage is one step of an operation pipeline. Stages never mutate the
// context they receive; they return a derived copy.
type stage func(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error)

// requestContext is the immutable per-request state threaded through a
// pipeline. Later stages extend it through the with* copy helpers.
type requestContext struct {
	method string
	owner  uuid.UUID
	path   string

	body          io.Reader
	declaredLen   int64
	contentType   string
	rawHeaders    map[string]string
	preconditions conditional.Preconditions

	// set by loadResource
	current *types.ObjectRecord

	// set by resolveSize
	size      int64
	maxStream int64
	zeroByte  bool

	// set by later stages
	copies   int
	headers  map[string]string
	roles    []uuid.UUID
	replicas []types.Replica
	summary  *shark.WriteSummary
	record   *types.ObjectRecord

	response *WriteResult
	head     *HeadResult
}

func (rc *requestContext) clone() *requestContext {
	cp := *rc
	return &cp
}

func (rc *requestContext) withCurrent(rec *types.ObjectRecord) *requestContext {
	cp := rc.clone()
	cp.current = rec
	return cp
}

func (rc *requestContext) withSize(size, maxStream int64, zeroByte bool) *requestContext {
	cp := rc.clone()
	cp.size = size
	cp.maxStream = maxStream
	cp.zeroByte = zeroByte
	return cp
}

func (rc *requestContext) withCopies(copies int) *requestContext {
	cp := rc.clone()
	cp.copies = copies
	return cp
}

func (rc *requestContext) withHeaders(headers map[string]string) *requestContext {
	cp := rc.clone()
	cp.headers = headers
	return cp
}

func (rc *requestContext) withRoles(roles []uuid.UUID) *requestContext {
	cp := rc.clone()
	cp.roles = roles
	return cp
}

func (rc *requestContext) withReplicas(replicas []types.Replica) *requestContext {
	cp := rc.clone()
	cp.replicas = replicas
	return cp
}

func (rc *requestContext) withSummary(summary *shark.WriteSummary) *requestContext {
	cp := rc.clone()
	cp.summary = summary
	return cp
}

func (rc *requestContext) withRecord(rec *types.ObjectRecord) *requestContext {
	cp := rc.clone()
	cp.record = rec
	return cp
}

func (rc *requestContext) withResponse(res *WriteResult) *requestContext {
	cp := rc.clone()
	cp.response = res
	return cp
}

func (rc *requestContext) withHead(res *HeadResult) *requestContext {
	cp := rc.clone()
	cp.head = res
	return cp
}

// conditionalWrite reports whether the client pinned a version. The
// guard's two write paths have different race semantics; this picks one.
func (rc *requestContext) conditionalWrite() bool {
	return len(rc.preconditions.IfMatch) > 0 || len(rc.preconditions.IfNoneMatch) > 0
}

// expectedETag is the store-level condition for a conditional write: the
// etag observed at load time, or empty for create-only.
func (rc *requestContext) expectedETag() string {
	if rc.current != nil {
		return rc.current.ETag
	}
	return ""
}

// run executes the stages in order over an initial context.
func run(ctx context.Context, rc *requestContext, stages []stage) (*requestContext, error) {
	for _, st := range stages {
		next, res, err := st(ctx, rc)
		if err != nil {
			return nil, err
		}
		rc = next
		if res == stageDone {
			break
		}
	}
	return rc, nil
}

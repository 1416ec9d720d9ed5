// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/tidegate/tidegate/pkg/gateway/conditional"
	"github.com/tidegate/tidegate/pkg/gateway/guard"
	"github.com/tidegate/tidegate/pkg/iam"
	"github.com/tidegate/tidegate/pkg/logger"
	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/storage/placer"
	"github.com/tidegate/tidegate/pkg/storage/shark"
	"github.com/tidegate/tidegate/pkg/types"
)

// AccountGetter resolves account records. Satisfied by db.Store and by
// the redis-backed account cache.
type AccountGetter interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*types.Account, error)
}

// Config carries the service dependencies. Roles is optional; without
// it role-tag headers resolve to no roles.
type Config struct {
	Store    db.Store
	Accounts AccountGetter
	Placer   placer.Placer
	Sink     shark.Sink
	Guard    *guard.Guard
	Roles    iam.Resolver
}

type serviceImpl struct {
	store    db.Store
	accounts AccountGetter
	placer   placer.Placer
	sink     shark.Sink
	guard    *guard.Guard
	roles    iam.Resolver
}

// NewService creates the object service.
func NewService(cfg Config) (Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("object: store is required")
	}
	if cfg.Placer == nil {
		return nil, fmt.Errorf("object: placer is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("object: sink is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("object: guard is required")
	}
	accounts := cfg.Accounts
	if accounts == nil {
		accounts = cfg.Store
	}
	return &serviceImpl{
		store:    cfg.Store,
		accounts: accounts,
		placer:   cfg.Placer,
		sink:     cfg.Sink,
		guard:    cfg.Guard,
		roles:    cfg.Roles,
	}, nil
}

// ============================================================================
// Operations
// ============================================================================

func (s *serviceImpl) PutObject(ctx context.Context, req *PutObjectRequest) (*WriteResult, error) {
	if err := validatePath(req.Path); err != nil {
		return nil, err
	}
	rc := &requestContext{
		method:        http.MethodPut,
		owner:         req.Owner,
		path:          req.Path,
		body:          req.Body,
		declaredLen:   req.ContentLength,
		contentType:   req.ContentType,
		rawHeaders:    lowercaseKeys(req.Headers),
		preconditions: req.Preconditions,
	}
	rc, err := run(ctx, rc, []stage{
		s.stageCheckAccount,
		s.stageLoadResource,
		s.stageEvalPreconditions,
		s.stageResolveSize,
		s.stageValidateDurability,
		s.stageCheckParent,
		s.stageFilterHeaders,
		s.stageResolveRoles,
		s.stagePlaceReplicas,
		s.stageStreamContent,
		s.stageAssembleObject,
		s.stageWriteMetadata,
	})
	if err != nil {
		return nil, err
	}
	return rc.response, nil
}

func (s *serviceImpl) PutDirectory(ctx context.Context, req *PutDirectoryRequest) (*WriteResult, error) {
	if err := validatePath(req.Path); err != nil {
		return nil, err
	}
	rc := &requestContext{
		method:        http.MethodPut,
		owner:         req.Owner,
		path:          req.Path,
		rawHeaders:    lowercaseKeys(req.Headers),
		preconditions: req.Preconditions,
	}
	rc, err := run(ctx, rc, []stage{
		s.stageCheckAccount,
		s.stageLoadResource,
		s.stageEvalPreconditions,
		s.stageRejectObjectCollision,
		s.stageCheckParent,
		s.stageFilterHeaders,
		s.stageAssembleDirectory,
		s.stageWriteMetadata,
	})
	if err != nil {
		return nil, err
	}
	return rc.response, nil
}

func (s *serviceImpl) DeleteObject(ctx context.Context, req *DeleteObjectRequest) (*WriteResult, error) {
	if err := validatePath(req.Path); err != nil {
		return nil, err
	}
	rc := &requestContext{
		method:        http.MethodDelete,
		owner:         req.Owner,
		path:          req.Path,
		preconditions: req.Preconditions,
	}
	rc, err := run(ctx, rc, []stage{
		s.stageCheckAccount,
		s.stageLoadResource,
		s.stageRequireExists,
		s.stageEvalPreconditions,
		s.stageDelete,
	})
	if err != nil {
		return nil, err
	}
	return rc.response, nil
}

func (s *serviceImpl) HeadObject(ctx context.Context, req *HeadObjectRequest) (*HeadResult, error) {
	if err := validatePath(req.Path); err != nil {
		return nil, err
	}
	rc := &requestContext{
		method:        http.MethodHead,
		owner:         req.Owner,
		path:          req.Path,
		preconditions: req.Preconditions,
	}
	rc, err := run(ctx, rc, []stage{
		s.stageCheckAccount,
		s.stageLoadResource,
		s.stageRequireExists,
		s.stageEvalPreconditions,
		s.stageRespondHead,
	})
	if err != nil {
		return nil, err
	}
	return rc.head, nil
}

// ============================================================================
// Stages
// ============================================================================

func (s *serviceImpl) stageCheckAccount(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	if _, err := s.accounts.GetAccount(ctx, rc.owner); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, 0, newError(ErrCodeAccountNotFound,
				fmt.Sprintf("account %s does not exist", rc.owner))
		}
		return nil, 0, internalError("account lookup failed", err)
	}
	return rc, stageContinue, nil
}

func (s *serviceImpl) stageLoadResource(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	rec, err := s.store.GetObject(ctx, rc.owner, rc.path)
	if err != nil {
		if errors.Is(err, db.ErrObjectNotFound) {
			return rc.withCurrent(nil), stageContinue, nil
		}
		return nil, 0, internalError("resource lookup failed", err)
	}
	return rc.withCurrent(rec), stageContinue, nil
}

func (s *serviceImpl) stageRequireExists(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	if rc.current == nil {
		return nil, 0, newError(ErrCodeNotFound,
			fmt.Sprintf("%s does not exist", rc.path))
	}
	return rc, stageContinue, nil
}

func (s *serviceImpl) stageEvalPreconditions(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	state := conditional.ResourceState{}
	if rc.current != nil {
		state = conditional.ResourceState{
			Exists: true,
			ETag:   rc.current.ETag,
			MTime:  time.UnixMilli(rc.current.MTimeMs),
		}
	}
	switch conditional.Evaluate(rc.method, rc.preconditions, state) {
	case conditional.PreconditionFailed:
		return nil, 0, newError(ErrCodePreconditionFailed,
			fmt.Sprintf("precondition not met for %s", rc.path))
	case conditional.NotModified:
		if rc.method == http.MethodHead {
			return rc.withHead(&HeadResult{Status: http.StatusNotModified}), stageDone, nil
		}
		return rc.withResponse(&WriteResult{Status: http.StatusNotModified}), stageDone, nil
	}
	return rc, stageContinue, nil
}

// stageResolveSize decides how much content to expect: a declared
// content-length, a declared (or default) streaming cap for chunked
// bodies, or the zero-byte fast path.
func (s *serviceImpl) stageResolveSize(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	if raw, ok := rc.rawHeaders[types.HeaderMaxStreamSize]; ok {
		max, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || max < 0 {
			return nil, 0, newError(ErrCodeInvalidArgument,
				fmt.Sprintf("%s %q is not a non-negative integer", types.HeaderMaxStreamSize, raw))
		}
		if rc.declaredLen < 0 {
			return rc.withSize(0, max, max == 0), stageContinue, nil
		}
	}

	switch {
	case rc.declaredLen == 0:
		return rc.withSize(0, 0, true), stageContinue, nil
	case rc.declaredLen > 0:
		return rc.withSize(rc.declaredLen, rc.declaredLen, false), stageContinue, nil
	default:
		return rc.withSize(0, types.DefaultMaxStreamingSizeBytes, false), stageContinue, nil
	}
}

func (s *serviceImpl) stageValidateDurability(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	raw, ok := rc.rawHeaders[types.HeaderDurability]
	if !ok {
		raw, ok = rc.rawHeaders[types.HeaderDurabilityLegacy]
	}
	if !ok {
		return rc.withCopies(types.DefaultCopies), stageContinue, nil
	}
	copies, err := strconv.Atoi(raw)
	if err != nil || copies < types.MinCopies || copies > types.MaxCopies {
		return nil, 0, newError(ErrCodeInvalidDurability,
			fmt.Sprintf("durability level %q must be an integer between %d and %d",
				raw, types.MinCopies, types.MaxCopies))
	}
	return rc.withCopies(copies), stageContinue, nil
}

func (s *serviceImpl) stageCheckParent(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	parent := path.Dir(rc.path)
	if parent == "/" || parent == "." {
		return rc, stageContinue, nil
	}
	rec, err := s.store.GetObject(ctx, rc.owner, parent)
	if err != nil {
		if errors.Is(err, db.ErrObjectNotFound) {
			return nil, 0, newError(ErrCodeDirectoryNotFound,
				fmt.Sprintf("%s does not exist", parent))
		}
		return nil, 0, internalError("parent directory lookup failed", err)
	}
	if !rec.IsDirectory() {
		return nil, 0, newError(ErrCodeParentNotDirectory,
			fmt.Sprintf("%s is not a directory", parent))
	}
	return rc, stageContinue, nil
}

// stageFilterHeaders strips the control headers and caps what is left.
func (s *serviceImpl) stageFilterHeaders(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	headers := make(map[string]string, len(rc.rawHeaders))
	var total int
	for k, v := range rc.rawHeaders {
		switch k {
		case types.HeaderDurability, types.HeaderDurabilityLegacy,
			types.HeaderMaxStreamSize, types.HeaderRoleTag,
			"content-length", "content-type", "content-md5",
			"if-match", "if-none-match", "if-modified-since", "if-unmodified-since":
			continue
		}
		total += len(k) + len(v)
		headers[k] = v
	}
	if total > types.MaxHeadersSizeBytes {
		return nil, 0, newError(ErrCodeInvalidArgument,
			fmt.Sprintf("headers exceed %d bytes", types.MaxHeadersSizeBytes))
	}
	return rc.withHeaders(headers), stageContinue, nil
}

func (s *serviceImpl) stageResolveRoles(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	tag, ok := rc.rawHeaders[types.HeaderRoleTag]
	if !ok || s.roles == nil {
		return rc, stageContinue, nil
	}
	var names []string
	for _, n := range strings.Split(tag, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	roles, err := s.roles.ResolveRoles(ctx, rc.owner, names)
	if err != nil {
		return nil, 0, newError(ErrCodeInvalidArgument,
			fmt.Sprintf("cannot resolve role tag %q: %v", tag, err))
	}
	return rc.withRoles(roles), stageContinue, nil
}

func (s *serviceImpl) stagePlaceReplicas(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	if rc.zeroByte {
		return rc, stageContinue, nil
	}
	replicas, err := s.placer.Place(ctx, rc.copies, rc.maxStream)
	if err != nil {
		if errors.Is(err, placer.ErrInsufficientCapacity) {
			return nil, 0, newError(ErrCodeNotEnoughSpace,
				fmt.Sprintf("cannot place %d copies of up to %s",
					rc.copies, humanize.IBytes(uint64(rc.maxStream))))
		}
		return nil, 0, internalError("replica placement failed", err)
	}
	return rc.withReplicas(replicas), stageContinue, nil
}

// errTooLarge aborts a stream that outgrew the declared maximum.
var errTooLarge = errors.New("stream exceeds declared maximum size")

func (s *serviceImpl) stageStreamContent(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	if rc.zeroByte {
		return rc.withSummary(&shark.WriteSummary{ContentMD5: types.EmptyContentMD5}), stageContinue, nil
	}

	body := rc.body
	if body == nil {
		body = strings.NewReader("")
	}
	capped := &cappedReader{r: body, remaining: rc.maxStream}

	objectID := uuid.New().String()
	summary, err := s.sink.Write(ctx, objectID, capped, rc.declaredLen, rc.replicas)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, 0, newError(ErrCodeTooLarge,
				fmt.Sprintf("request exceeds the declared maximum of %s",
					humanize.IBytes(uint64(rc.maxStream))))
		}
		return nil, 0, internalError("streaming content failed", err)
	}
	return rc.withSummary(summary), stageContinue, nil
}

func (s *serviceImpl) stageAssembleObject(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	rec := &types.ObjectRecord{
		Owner:       rc.owner,
		Path:        rc.path,
		Type:        types.RecordTypeObject,
		Size:        rc.summary.Size,
		ContentType: rc.contentType,
		ContentMD5:  rc.summary.ContentMD5,
		Headers:     rc.headers,
		Durability:  rc.replicas,
		MTimeMs:     time.Now().UnixMilli(),
		Roles:       rc.roles,
	}
	return rc.withRecord(rec), stageContinue, nil
}

func (s *serviceImpl) stageAssembleDirectory(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	rec := &types.ObjectRecord{
		Owner:   rc.owner,
		Path:    rc.path,
		Type:    types.RecordTypeDirectory,
		Headers: rc.headers,
		MTimeMs: time.Now().UnixMilli(),
	}
	return rc.withRecord(rec), stageContinue, nil
}

// stageRejectObjectCollision refuses to turn an existing object into a
// directory. Re-creating a directory is fine.
func (s *serviceImpl) stageRejectObjectCollision(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	if rc.current != nil && !rc.current.IsDirectory() {
		return nil, 0, newError(ErrCodeInvalidArgument,
			fmt.Sprintf("%s already exists as an object", rc.path))
	}
	return rc, stageContinue, nil
}

func (s *serviceImpl) stageWriteMetadata(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	var (
		etag string
		err  error
	)
	if rc.conditionalWrite() {
		etag, err = s.guard.WriteConditional(ctx, rc.record, rc.expectedETag())
	} else {
		etag, err = s.guard.WriteUnconditional(ctx, rc.record)
	}
	if err != nil {
		if errors.Is(err, guard.ErrConcurrentRequest) {
			return nil, 0, newError(ErrCodeConcurrent,
				fmt.Sprintf("%s was modified concurrently", rc.path))
		}
		return nil, 0, internalError("metadata write failed", err)
	}

	logger.Ctx(ctx).Debug().
		Str("path", rc.path).
		Str("etag", etag).
		Int64("size", rc.record.Size).
		Msg("metadata written")

	return rc.withResponse(&WriteResult{
		Status:       http.StatusNoContent,
		ETag:         etag,
		LastModified: time.UnixMilli(rc.record.MTimeMs),
		ContentMD5:   rc.record.ContentMD5,
	}), stageDone, nil
}

func (s *serviceImpl) stageDelete(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	if err := s.store.DeleteObject(ctx, rc.owner, rc.path); err != nil {
		// A concurrent deletion got there first; the outcome the client
		// asked for holds either way.
		if !errors.Is(err, db.ErrObjectNotFound) {
			return nil, 0, internalError("deleting record failed", err)
		}
	}
	logger.Ctx(ctx).Info().
		Str("path", rc.path).
		Msg("record deleted")
	return rc.withResponse(&WriteResult{Status: http.StatusNoContent}), stageDone, nil
}

func (s *serviceImpl) stageRespondHead(ctx context.Context, rc *requestContext) (*requestContext, stageResult, error) {
	return rc.withHead(&HeadResult{
		Status:       http.StatusOK,
		Record:       rc.current.Clone(),
		ETag:         rc.current.ETag,
		LastModified: time.UnixMilli(rc.current.MTimeMs),
	}), stageDone, nil
}

// ============================================================================
// Helpers
// ============================================================================

func validatePath(p string) error {
	if p == "" || !strings.HasPrefix(p, "/") {
		return newError(ErrCodeInvalidArgument,
			fmt.Sprintf("%q is not an absolute object path", p))
	}
	return nil
}

func lowercaseKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// cappedReader fails the stream once more than remaining bytes arrive.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, errTooLarge
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return 0, errTooLarge
	}
	return n, err
}

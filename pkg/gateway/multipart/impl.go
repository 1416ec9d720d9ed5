// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/tidegate/tidegate/pkg/gateway/guard"
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

// Config carries the service dependencies.
type Config struct {
	Store    db.Store
	Accounts AccountGetter
	Placer   placer.Placer
	Sink     shark.Sink
	Guard    *guard.Guard
}

type serviceImpl struct {
	store    db.Store
	accounts AccountGetter
	placer   placer.Placer
	sink     shark.Sink
	guard    *guard.Guard
}

// NewService creates the multipart service. All dependencies are
// required except Accounts, which defaults to the store itself.
func NewService(cfg Config) (Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("multipart: store is required")
	}
	if cfg.Placer == nil {
		return nil, fmt.Errorf("multipart: placer is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("multipart: sink is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("multipart: guard is required")
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
	}, nil
}

// conditionalHeaders may not appear on a create-upload request: the
// upload record is new by construction and the final object write is
// unconditional, so a stored precondition could never be honored.
var conditionalHeaders = []string{
	"if-match",
	"if-none-match",
	"if-modified-since",
	"if-unmodified-since",
}

func (s *serviceImpl) Create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if req.TargetPath == "" || !strings.HasPrefix(req.TargetPath, "/") {
		return nil, newError(ErrCodeInvalidArgument,
			fmt.Sprintf("%q is not an absolute object path", req.TargetPath))
	}
	if req.OwnerLogin == "" {
		return nil, newError(ErrCodeInvalidArgument, "owner login is required")
	}

	if _, err := s.accounts.GetAccount(ctx, req.Owner); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, newError(ErrCodeAccountNotFound,
				fmt.Sprintf("account %s does not exist", req.Owner))
		}
		return nil, internalError("account lookup failed", err)
	}

	headers, err := normalizeHeaders(req.Headers)
	if err != nil {
		return nil, err
	}
	for _, h := range conditionalHeaders {
		if _, ok := headers[h]; ok {
			return nil, newError(ErrCodeInvalidArgument,
				fmt.Sprintf("conditional header %q is not allowed on upload creation", h))
		}
	}

	copies, err := durabilityFromHeaders(headers)
	if err != nil {
		return nil, err
	}
	contentLength, err := contentLengthFromHeaders(headers)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	up := &types.UploadRecord{
		ID:              id,
		Owner:           req.Owner,
		TargetPath:      req.TargetPath,
		Headers:         headers,
		PartsDirectory:  partsDirectory(req.OwnerLogin, id),
		CreationTimeMs:  time.Now().UnixMilli(),
		DurabilityLevel: copies,
		ContentLength:   contentLength,
		State:           types.UploadStateCreated,
	}
	if _, err := s.store.CreateUpload(ctx, up); err != nil {
		return nil, internalError("persisting upload record failed", err)
	}

	logger.Ctx(ctx).Info().
		Str("upload_id", id.String()).
		Str("target_path", req.TargetPath).
		Int("durability", copies).
		Msg("multipart upload created")

	return &CreateResult{ID: id, PartsDirectory: up.PartsDirectory}, nil
}

func (s *serviceImpl) UploadPart(ctx context.Context, req *UploadPartRequest) (*UploadPartResult, error) {
	if req.PartNum < types.MinPartNum || req.PartNum > types.MaxPartNum {
		return nil, newError(ErrCodeInvalidArgument,
			fmt.Sprintf("part number must be between %d and %d, got %d",
				types.MinPartNum, types.MaxPartNum, req.PartNum))
	}
	for _, h := range []string{types.HeaderDurability, types.HeaderDurabilityLegacy} {
		if _, ok := req.Headers[h]; ok {
			return nil, newError(ErrCodeInvalidArgument,
				fmt.Sprintf("header %q is fixed at upload creation", h))
		}
	}

	up, err := s.getUpload(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	if err := requireAcceptingParts(up); err != nil {
		return nil, err
	}

	replicas, err := s.placer.Place(ctx, up.DurabilityLevel, req.Size)
	if err != nil {
		if errors.Is(err, placer.ErrInsufficientCapacity) {
			return nil, newError(ErrCodeNotEnoughSpace,
				fmt.Sprintf("cannot place %d copies of %s",
					up.DurabilityLevel, humanize.IBytes(uint64(req.Size))))
		}
		return nil, internalError("replica placement failed", err)
	}

	objectID := partObjectID(req.UploadID, req.PartNum)
	summary, err := s.sink.Write(ctx, objectID, req.Body, req.Size, replicas)
	if err != nil {
		return nil, internalError("streaming part content failed", err)
	}

	part := &types.PartRecord{
		UploadID:   req.UploadID,
		PartNum:    req.PartNum,
		ETag:       uuid.New().String(),
		Size:       summary.Size,
		ContentMD5: summary.ContentMD5,
		Replicas:   replicas,
		MTimeMs:    time.Now().UnixMilli(),
	}
	if err := s.store.PutPart(ctx, part); err != nil {
		return nil, internalError("persisting part record failed", err)
	}

	logger.Ctx(ctx).Debug().
		Str("upload_id", req.UploadID.String()).
		Int("part_num", req.PartNum).
		Int64("size", summary.Size).
		Msg("part stored")

	return &UploadPartResult{ETag: part.ETag}, nil
}

func (s *serviceImpl) Commit(ctx context.Context, req *CommitRequest) (*CommitResult, error) {
	if len(req.PartETags) > types.MaxPartNum+1 {
		return nil, newError(ErrCodePartLimit,
			fmt.Sprintf("%d parts exceed the limit of %d",
				len(req.PartETags), types.MaxPartNum+1))
	}

	up, err := s.getUpload(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	partsMD5 := computePartsMD5(req.PartETags)
	finalizeRetry := false

	switch {
	case up.State == types.UploadStateAborted,
		up.State == types.UploadStateFinalizing && up.FinalizeType == types.FinalizeTypeAbort:
		return nil, newError(ErrCodeUploadAborted,
			fmt.Sprintf("upload %s was aborted", up.ID))

	case up.State == types.UploadStateCommitted:
		if up.PartsMD5 != partsMD5 {
			return nil, newError(ErrCodeMissingPart,
				"part list differs from the committed one")
		}
		return s.committedResult(ctx, up)

	case up.State == types.UploadStateFinalizing:
		// A commit is already in flight. The retry must name the same
		// parts; with that settled it drives the finalize to completion.
		if up.PartsMD5 != partsMD5 {
			return nil, newError(ErrCodeMissingPart,
				"part list differs from the one being committed")
		}
		finalizeRetry = true

	default: // created
		up.State = types.UploadStateFinalizing
		up.FinalizeType = types.FinalizeTypeCommit
		up.PartsMD5 = partsMD5
		if _, err := s.store.UpdateUpload(ctx, up, up.ETag); err != nil {
			return nil, transitionError(up.ID, err)
		}
	}

	size, contentMD5, err := s.validateParts(ctx, up, req.PartETags)
	if err != nil {
		return nil, err
	}

	rec := s.finalObjectRecord(up, size, contentMD5)
	if err := s.checkParentDirectory(ctx, up.Owner, up.TargetPath); err != nil {
		return nil, err
	}
	objectETag, err := s.guard.WriteUnconditional(ctx, rec)
	if err != nil {
		return nil, internalError("writing final object record failed", err)
	}

	// A retried commit settles the state machine. The first commit
	// intentionally leaves the record finalizing so the client can see
	// the finalize in flight and drive it to completion.
	if finalizeRetry {
		if err := s.settleCommit(ctx, up, partsMD5); err != nil {
			return nil, err
		}
	}

	logger.Ctx(ctx).Info().
		Str("upload_id", up.ID.String()).
		Str("target_path", up.TargetPath).
		Int64("size", size).
		Str("parts_md5", partsMD5).
		Msg("multipart upload committed")

	return &CommitResult{
		TargetPath: up.TargetPath,
		ObjectETag: objectETag,
		PartsMD5:   partsMD5,
		Size:       size,
		ContentMD5: contentMD5,
	}, nil
}

func (s *serviceImpl) Abort(ctx context.Context, uploadID uuid.UUID) error {
	up, err := s.getUpload(ctx, uploadID)
	if err != nil {
		return err
	}

	switch up.State {
	case types.UploadStateAborted:
		return nil
	case types.UploadStateCommitted:
		return newError(ErrCodeInvalidState,
			fmt.Sprintf("upload %s is already committed", up.ID))
	}

	if up.FinalizeType != types.FinalizeTypeAbort {
		up.State = types.UploadStateFinalizing
		up.FinalizeType = types.FinalizeTypeAbort
		up.PartsMD5 = ""
		etag, err := s.store.UpdateUpload(ctx, up, up.ETag)
		if err != nil {
			return transitionError(up.ID, err)
		}
		up.ETag = etag
	}

	if err := s.store.DeleteParts(ctx, uploadID); err != nil {
		return internalError("dropping upload parts failed", err)
	}

	up.State = types.UploadStateAborted
	if _, err := s.store.UpdateUpload(ctx, up, up.ETag); err != nil {
		return transitionError(up.ID, err)
	}

	logger.Ctx(ctx).Info().
		Str("upload_id", uploadID.String()).
		Msg("multipart upload aborted")
	return nil
}

func (s *serviceImpl) Get(ctx context.Context, uploadID uuid.UUID) (*types.UploadRecord, error) {
	return s.getUpload(ctx, uploadID)
}

func (s *serviceImpl) Redirect(ctx context.Context, uploadID uuid.UUID) (*RedirectResult, error) {
	up, err := s.getUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return &RedirectResult{
		StatusCode: redirectStatus,
		Location:   up.PartsDirectory,
	}, nil
}

// ---- commit internals ----

// validateParts reconciles the client's ordered etag list against the
// stored parts and returns the final object size and content md5.
func (s *serviceImpl) validateParts(ctx context.Context, up *types.UploadRecord, partETags []string) (int64, string, error) {
	var (
		size    int64
		md5s    = make([]string, 0, len(partETags))
		lastIdx = len(partETags) - 1
	)
	for i, want := range partETags {
		if want == "" {
			return 0, "", newError(ErrCodeMissingPart,
				fmt.Sprintf("no etag supplied for part %d", i))
		}
		part, err := s.store.GetPart(ctx, up.ID, i)
		if err != nil {
			if errors.Is(err, db.ErrPartNotFound) {
				return 0, "", newError(ErrCodeMissingPart,
					fmt.Sprintf("part %d was never uploaded", i))
			}
			return 0, "", internalError("part lookup failed", err)
		}
		if part.ETag != want {
			return 0, "", newError(ErrCodePartEtag,
				fmt.Sprintf("part %d etag %q does not match stored %q", i, want, part.ETag))
		}
		if i < lastIdx && part.Size < types.MinPartSizeBytes {
			return 0, "", newError(ErrCodePartSize,
				fmt.Sprintf("part %d is %s, below the %s minimum for non-final parts",
					i, humanize.IBytes(uint64(part.Size)),
					humanize.IBytes(uint64(types.MinPartSizeBytes))))
		}
		size += part.Size
		md5s = append(md5s, part.ContentMD5)
	}

	if up.ContentLength >= 0 && size != up.ContentLength {
		return 0, "", newError(ErrCodeContentLength,
			fmt.Sprintf("parts sum to %d bytes, create declared %d", size, up.ContentLength))
	}

	return size, objectContentMD5(md5s), nil
}

// finalObjectRecord assembles the committed object's metadata. The
// create-time headers carry over minus the upload control headers.
func (s *serviceImpl) finalObjectRecord(up *types.UploadRecord, size int64, contentMD5 string) *types.ObjectRecord {
	headers := make(map[string]string, len(up.Headers))
	for k, v := range up.Headers {
		switch k {
		case types.HeaderDurability, types.HeaderDurabilityLegacy, "content-length", "content-type":
			continue
		}
		headers[k] = v
	}
	rec := &types.ObjectRecord{
		Owner:      up.Owner,
		Path:       up.TargetPath,
		Type:       types.RecordTypeObject,
		Size:       size,
		ContentMD5: contentMD5,
		Headers:    headers,
		MTimeMs:    time.Now().UnixMilli(),
	}
	if ct, ok := up.Headers["content-type"]; ok {
		rec.ContentType = ct
	}
	return rec
}

func (s *serviceImpl) checkParentDirectory(ctx context.Context, owner uuid.UUID, objPath string) error {
	parent := path.Dir(objPath)
	if parent == "/" || parent == "." {
		return nil
	}
	rec, err := s.store.GetObject(ctx, owner, parent)
	if err != nil {
		if errors.Is(err, db.ErrObjectNotFound) {
			return newError(ErrCodeDirectoryNotFound,
				fmt.Sprintf("%s does not exist", parent))
		}
		return internalError("parent directory lookup failed", err)
	}
	if !rec.IsDirectory() {
		return newError(ErrCodeParentNotDirectory,
			fmt.Sprintf("%s is not a directory", parent))
	}
	return nil
}

// settleCommit moves a finalizing upload to committed. Losing the
// conditional write to another identical retry is a success as long as
// the winner committed the same part list.
func (s *serviceImpl) settleCommit(ctx context.Context, up *types.UploadRecord, partsMD5 string) error {
	up.State = types.UploadStateCommitted
	if _, err := s.store.UpdateUpload(ctx, up, up.ETag); err == nil {
		return nil
	} else if !errors.Is(err, db.ErrETagMismatch) {
		return internalError("upload state transition failed", err)
	}

	current, err := s.getUpload(ctx, up.ID)
	if err != nil {
		return err
	}
	if current.State == types.UploadStateCommitted && current.PartsMD5 == partsMD5 {
		return nil
	}
	return newError(ErrCodeConcurrent,
		fmt.Sprintf("upload %s was finalized concurrently", up.ID))
}

// committedResult reconstructs the success response for an idempotent
// re-commit. The object may have been overwritten or deleted since; the
// upload record remains the source of truth for partsMD5.
func (s *serviceImpl) committedResult(ctx context.Context, up *types.UploadRecord) (*CommitResult, error) {
	res := &CommitResult{
		TargetPath: up.TargetPath,
		PartsMD5:   up.PartsMD5,
	}
	rec, err := s.store.GetObject(ctx, up.Owner, up.TargetPath)
	if err != nil {
		if errors.Is(err, db.ErrObjectNotFound) {
			return res, nil
		}
		return nil, internalError("committed object lookup failed", err)
	}
	res.ObjectETag = rec.ETag
	res.Size = rec.Size
	res.ContentMD5 = rec.ContentMD5
	return res, nil
}

// ---- shared helpers ----

func (s *serviceImpl) getUpload(ctx context.Context, id uuid.UUID) (*types.UploadRecord, error) {
	up, err := s.store.GetUpload(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrUploadNotFound) {
			return nil, newError(ErrCodeUploadNotFound,
				fmt.Sprintf("upload %s does not exist", id))
		}
		return nil, internalError("upload lookup failed", err)
	}
	return up, nil
}

func requireAcceptingParts(up *types.UploadRecord) error {
	switch {
	case up.State == types.UploadStateCreated:
		return nil
	case up.State == types.UploadStateAborted,
		up.State == types.UploadStateFinalizing && up.FinalizeType == types.FinalizeTypeAbort:
		return newError(ErrCodeUploadAborted,
			fmt.Sprintf("upload %s was aborted", up.ID))
	default:
		return newError(ErrCodeInvalidState,
			fmt.Sprintf("upload %s no longer accepts parts (state %s)", up.ID, up.State))
	}
}

// transitionError maps a failed conditional upload write. An etag
// mismatch means another finalizer moved the state machine first.
func transitionError(id uuid.UUID, err error) error {
	if errors.Is(err, db.ErrETagMismatch) {
		return newError(ErrCodeConcurrent,
			fmt.Sprintf("upload %s was finalized concurrently", id))
	}
	return internalError("upload state transition failed", err)
}

func normalizeHeaders(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	var total int
	for k, v := range in {
		key := strings.ToLower(k)
		total += len(key) + len(v)
		out[key] = v
	}
	if total > types.MaxHeadersSizeBytes {
		return nil, newError(ErrCodeInvalidArgument,
			fmt.Sprintf("headers exceed %d bytes", types.MaxHeadersSizeBytes))
	}
	return out, nil
}

func durabilityFromHeaders(headers map[string]string) (int, error) {
	raw, ok := headers[types.HeaderDurability]
	if !ok {
		raw, ok = headers[types.HeaderDurabilityLegacy]
	}
	if !ok {
		return types.DefaultCopies, nil
	}
	copies, err := strconv.Atoi(raw)
	if err != nil || copies < types.MinCopies || copies > types.MaxCopies {
		return 0, newError(ErrCodeInvalidDurability,
			fmt.Sprintf("durability level %q must be an integer between %d and %d",
				raw, types.MinCopies, types.MaxCopies))
	}
	return copies, nil
}

func contentLengthFromHeaders(headers map[string]string) (int64, error) {
	raw, ok := headers["content-length"]
	if !ok {
		return -1, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, newError(ErrCodeInvalidArgument,
			fmt.Sprintf("content-length %q is not a non-negative integer", raw))
	}
	return n, nil
}

// partsDirectory is the canonical storage location for an upload's
// parts, sharded by the first character of the upload id.
func partsDirectory(ownerLogin string, id uuid.UUID) string {
	s := id.String()
	return "/" + ownerLogin + "/uploads/" + s[:1] + "/" + s
}

func partObjectID(uploadID uuid.UUID, partNum int) string {
	return uploadID.String() + "/" + strconv.Itoa(partNum)
}

// computePartsMD5 digests the ordered part etag list. The digest is
// what makes re-delivered commits comparable without re-reading parts.
func computePartsMD5(partETags []string) string {
	sum := md5.Sum([]byte(strings.Join(partETags, ",")))
	return hex.EncodeToString(sum[:])
}

// objectContentMD5 derives the committed object's content-md5 from its
// parts' md5s. A single part passes its md5 through unchanged; multiple
// parts get a digest over the concatenated part md5 strings.
func objectContentMD5(partMD5s []string) string {
	switch len(partMD5s) {
	case 0:
		return types.EmptyContentMD5
	case 1:
		return partMD5s[0]
	default:
		sum := md5.Sum([]byte(strings.Join(partMD5s, "")))
		return base64.StdEncoding.EncodeToString(sum[:])
	}
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func internalError(msg string, err error) *Error {
	return &Error{Code: ErrCodeInternalError, Message: msg, Err: err}
}

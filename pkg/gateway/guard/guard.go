// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard wraps metadata writes with etag-based optimistic
// concurrency. It keeps two distinct code paths on purpose:
//
//   - WriteUnconditional: the client named no version. Two unguarded
//     writers racing is a benign, expected outcome; the last writer's
//     state is authoritative and both report success.
//   - WriteConditional: the client's precondition was already verified
//     by the evaluator. If the store's conditional check still fails, a
//     different writer won in the window after that verification - a
//     retryable race, not a wrong expectation, so it surfaces as
//     ErrConcurrentRequest rather than a precondition failure.
package guard

import (
	"context"
	"errors"

	"github.com/tidegate/tidegate/pkg/logger"
	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/types"
)

// ErrConcurrentRequest signals that a conditional write lost a race
// after its precondition had been observed satisfied. Clients own the
// retry decision.
var ErrConcurrentRequest = errors.New("concurrent request modified the resource")

// Guard mediates object writes against the metadata store.
type Guard struct {
	store db.Store
}

// New creates a Guard over the given store.
func New(store db.Store) *Guard {
	return &Guard{store: store}
}

// WriteUnconditional performs a last-write-wins upsert. A concurrent
// modification reported by the store is swallowed; the caller gets the
// etag of whichever write ended up authoritative.
func (g *Guard) WriteUnconditional(ctx context.Context, rec *types.ObjectRecord) (string, error) {
	etag, err := g.store.PutObject(ctx, rec)
	if err == nil {
		return etag, nil
	}

	var raced *db.ConcurrentUpdateError
	if !errors.As(err, &raced) {
		return "", err
	}

	logger.Ctx(ctx).Debug().
		Str("path", rec.Path).
		Msg("unconditional write raced, last writer wins")

	if raced.CurrentETag != "" {
		return raced.CurrentETag, nil
	}

	// The store did not report the winner; look it up. The record may
	// have been deleted by the winning writer in the meantime.
	current, getErr := g.store.GetObject(ctx, rec.Owner, rec.Path)
	if getErr != nil {
		if errors.Is(getErr, db.ErrObjectNotFound) {
			return "", nil
		}
		return "", getErr
	}
	return current.ETag, nil
}

// WriteConditional performs a write conditional on expectedETag. An
// empty expectedETag means the record must not exist yet.
func (g *Guard) WriteConditional(ctx context.Context, rec *types.ObjectRecord, expectedETag string) (string, error) {
	etag, err := g.store.PutObjectConditional(ctx, rec, expectedETag)
	if err == nil {
		return etag, nil
	}
	if errors.Is(err, db.ErrETagMismatch) {
		return "", ErrConcurrentRequest
	}
	return "", err
}

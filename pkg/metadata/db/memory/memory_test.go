// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/types"
)

func TestObjectConditionalWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	owner := uuid.New()

	rec := &types.ObjectRecord{Owner: owner, Path: "/p", Type: types.RecordTypeObject}

	t.Run("create-only", func(t *testing.T) {
		etag, err := store.PutObjectConditional(ctx, rec.Clone(), "")
		require.NoError(t, err)
		assert.NotEmpty(t, etag)

		// Second create-only write hits the existing row.
		_, err = store.PutObjectConditional(ctx, rec.Clone(), "")
		assert.ErrorIs(t, err, db.ErrETagMismatch)
	})

	t.Run("etag comparison", func(t *testing.T) {
		current, err := store.GetObject(ctx, owner, "/p")
		require.NoError(t, err)

		next, err := store.PutObjectConditional(ctx, rec.Clone(), current.ETag)
		require.NoError(t, err)
		assert.NotEqual(t, current.ETag, next)

		// The stale etag is no longer accepted.
		_, err = store.PutObjectConditional(ctx, rec.Clone(), current.ETag)
		assert.ErrorIs(t, err, db.ErrETagMismatch)
	})
}

func TestObjectDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	owner := uuid.New()

	_, err := store.PutObject(ctx, &types.ObjectRecord{Owner: owner, Path: "/p", Type: types.RecordTypeObject})
	require.NoError(t, err)

	require.NoError(t, store.DeleteObject(ctx, owner, "/p"))
	_, err = store.GetObject(ctx, owner, "/p")
	assert.ErrorIs(t, err, db.ErrObjectNotFound)
	assert.ErrorIs(t, store.DeleteObject(ctx, owner, "/p"), db.ErrObjectNotFound)
}

func TestUploadLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()

	up := &types.UploadRecord{
		ID:    uuid.New(),
		Owner: uuid.New(),
		State: types.UploadStateCreated,
	}
	etag, err := store.CreateUpload(ctx, up)
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	got, err := store.GetUpload(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, etag, got.ETag)

	got.State = types.UploadStateFinalizing
	got.FinalizeType = types.FinalizeTypeCommit
	next, err := store.UpdateUpload(ctx, got, etag)
	require.NoError(t, err)
	assert.NotEqual(t, etag, next)

	// The consumed etag no longer matches.
	_, err = store.UpdateUpload(ctx, got, etag)
	assert.ErrorIs(t, err, db.ErrETagMismatch)

	_, err = store.GetUpload(ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrUploadNotFound)
}

func TestParts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	uploadID := uuid.New()

	// Out-of-order arrival; the listing is ordered by part number.
	for _, num := range []int{2, 0, 1} {
		require.NoError(t, store.PutPart(ctx, &types.PartRecord{
			UploadID: uploadID,
			PartNum:  num,
			ETag:     uuid.New().String(),
			Size:     int64(num * 10),
		}))
	}

	parts, err := store.ListParts(ctx, uploadID)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	for i, p := range parts {
		assert.Equal(t, i, p.PartNum)
	}

	// Overwrite keeps one record per part number.
	require.NoError(t, store.PutPart(ctx, &types.PartRecord{
		UploadID: uploadID, PartNum: 1, ETag: "replaced", Size: 99,
	}))
	part, err := store.GetPart(ctx, uploadID, 1)
	require.NoError(t, err)
	assert.Equal(t, "replaced", part.ETag)
	assert.Equal(t, int64(99), part.Size)

	require.NoError(t, store.DeleteParts(ctx, uploadID))
	parts, err = store.ListParts(ctx, uploadID)
	require.NoError(t, err)
	assert.Empty(t, parts)

	_, err = store.GetPart(ctx, uploadID, 0)
	assert.ErrorIs(t, err, db.ErrPartNotFound)
}

func TestAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()

	id := uuid.New()
	store.AddAccount(&types.Account{ID: id, Login: "alice", Approved: true})

	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.Login)

	_, err = store.GetAccount(ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrAccountNotFound)
}

// Two guarded writers racing on one key: exactly one conditional write
// may win per observed etag.
func TestConditionalWriteRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	owner := uuid.New()

	rec := &types.ObjectRecord{Owner: owner, Path: "/raced", Type: types.RecordTypeObject}
	etag, err := store.PutObject(ctx, rec.Clone())
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.PutObjectConditional(ctx, rec.Clone(), etag); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/tidegate/pkg/gateway/conditional"
	"github.com/tidegate/tidegate/pkg/gateway/guard"
	"github.com/tidegate/tidegate/pkg/iam"
	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/metadata/db/memory"
	"github.com/tidegate/tidegate/pkg/storage/placer"
	"github.com/tidegate/tidegate/pkg/storage/shark"
	"github.com/tidegate/tidegate/pkg/types"
)

// ============================================================================
// Test Fixtures
// ============================================================================

type testEnv struct {
	svc   Service
	store *memory.Store
	iam   *iam.StaticResolver
	owner uuid.UUID
}

func newTestEnv(t *testing.T, sharks ...*types.Shark) *testEnv {
	t.Helper()

	if len(sharks) == 0 {
		sharks = []*types.Shark{
			{ID: "shark-1", Datacenter: "east-1", Addr: "shark1:8080", TotalBytes: 1 << 40},
			{ID: "shark-2", Datacenter: "east-2", Addr: "shark2:8080", TotalBytes: 1 << 40},
		}
	}

	store := memory.New()
	owner := uuid.New()
	store.AddAccount(&types.Account{ID: owner, Login: "alice", Approved: true})

	ctx := context.Background()
	for _, dir := range []string{"/alice", "/alice/stor"} {
		_, err := store.PutObject(ctx, &types.ObjectRecord{
			Owner: owner,
			Path:  dir,
			Type:  types.RecordTypeDirectory,
		})
		require.NoError(t, err)
	}

	resolver := iam.NewStaticResolver()
	svc, err := NewService(Config{
		Store:  store,
		Placer: placer.NewRoundRobinPlacer(sharks),
		Sink:   shark.NewFanoutSink(shark.NewMemoryClient()),
		Guard:  guard.New(store),
		Roles:  resolver,
	})
	require.NoError(t, err)

	return &testEnv{svc: svc, store: store, iam: resolver, owner: owner}
}

func (e *testEnv) put(t *testing.T, path string, data []byte) *WriteResult {
	t.Helper()
	res, err := e.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         e.owner,
		Path:          path,
		Body:          bytes.NewReader(data),
		ContentLength: int64(len(data)),
	})
	require.NoError(t, err)
	return res
}

// ============================================================================
// PutObject
// ============================================================================

func TestPutObject(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	res := env.put(t, "/alice/stor/obj.bin", []byte("some content"))
	assert.Equal(t, http.StatusNoContent, res.Status)
	assert.NotEmpty(t, res.ETag)
	assert.NotEmpty(t, res.ContentMD5)
	assert.False(t, res.LastModified.IsZero())

	rec, err := env.store.GetObject(context.Background(), env.owner, "/alice/stor/obj.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.Size)
	assert.Equal(t, res.ETag, rec.ETag)
	assert.Equal(t, res.ContentMD5, rec.ContentMD5)
	assert.Len(t, rec.Durability, types.DefaultCopies)

	// Overwrite replaces the etag.
	res2 := env.put(t, "/alice/stor/obj.bin", []byte("new content"))
	assert.NotEqual(t, res.ETag, res2.ETag)
}

func TestPutObjectZeroByte(t *testing.T) {
	t.Parallel()

	// No sharks at all: the zero-byte fast path must not reach
	// placement or content streaming.
	env := newTestEnv(t, &types.Shark{ID: "full", Datacenter: "east-1", ReadOnly: true})

	res, err := env.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/empty",
		ContentLength: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.Status)
	assert.Equal(t, types.EmptyContentMD5, res.ContentMD5)

	rec, err := env.store.GetObject(context.Background(), env.owner, "/alice/stor/empty")
	require.NoError(t, err)
	assert.Zero(t, rec.Size)
	assert.Empty(t, rec.Durability)
}

func TestPutObjectValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		path     string
		headers  map[string]string
		wantCode ErrorCode
	}{
		{
			name:     "relative path",
			path:     "alice/stor/x",
			wantCode: ErrCodeInvalidArgument,
		},
		{
			name:     "durability below minimum",
			path:     "/alice/stor/x",
			headers:  map[string]string{"durability-level": "0"},
			wantCode: ErrCodeInvalidDurability,
		},
		{
			name:     "durability above maximum",
			path:     "/alice/stor/x",
			headers:  map[string]string{"x-durability-level": "10"},
			wantCode: ErrCodeInvalidDurability,
		},
		{
			name:     "negative max streamed size",
			path:     "/alice/stor/x",
			headers:  map[string]string{"max-content-length": "-1"},
			wantCode: ErrCodeInvalidArgument,
		},
		{
			name:     "oversized metadata headers",
			path:     "/alice/stor/x",
			headers:  map[string]string{"m-notes": strings.Repeat("y", types.MaxHeadersSizeBytes+1)},
			wantCode: ErrCodeInvalidArgument,
		},
		{
			name:     "parent directory missing",
			path:     "/alice/stor/nosuchdir/x",
			wantCode: ErrCodeDirectoryNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := env.svc.PutObject(ctx, &PutObjectRequest{
				Owner:         env.owner,
				Path:          tt.path,
				Body:          bytes.NewReader([]byte("data")),
				ContentLength: 4,
				Headers:       tt.headers,
			})
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestPutObjectUnknownAccount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         uuid.New(),
		Path:          "/ghost/stor/x",
		Body:          bytes.NewReader([]byte("data")),
		ContentLength: 4,
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeAccountNotFound))
}

func TestPutObjectParentIsObject(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.put(t, "/alice/stor/plainfile", []byte("flat"))
	_, err := env.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/plainfile/child",
		Body:          bytes.NewReader([]byte("data")),
		ContentLength: 4,
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeParentNotDirectory), "got %v", err)
}

func TestPutObjectTooLarge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Chunked body with a declared streaming cap smaller than the body.
	_, err := env.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/big",
		Body:          bytes.NewReader(bytes.Repeat([]byte("z"), 64)),
		ContentLength: -1,
		Headers:       map[string]string{"max-content-length": "16"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTooLarge), "got %v", err)
}

func TestPutObjectChunked(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	res, err := env.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/streamed",
		Body:          bytes.NewReader([]byte("streamed body")),
		ContentLength: -1,
		Headers:       map[string]string{"max-content-length": "1024"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.Status)

	rec, err := env.store.GetObject(context.Background(), env.owner, "/alice/stor/streamed")
	require.NoError(t, err)
	assert.Equal(t, int64(13), rec.Size)
}

func TestPutObjectNoCapacity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &types.Shark{
		ID: "only-one", Datacenter: "east-1", Addr: "one:8080", TotalBytes: 1 << 30,
	})

	_, err := env.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/x",
		Body:          bytes.NewReader([]byte("data")),
		ContentLength: 4,
		Headers:       map[string]string{"durability-level": "3"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNotEnoughSpace), "got %v", err)
}

func TestPutObjectRoles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	roleID := uuid.New()
	env.iam.AddRole(env.owner, "ops", roleID)

	_, err := env.svc.PutObject(context.Background(), &PutObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/tagged",
		Body:          bytes.NewReader([]byte("data")),
		ContentLength: 4,
		Headers: map[string]string{
			"Role-Tag": "ops",
			"m-flavor": "vanilla",
		},
	})
	require.NoError(t, err)

	rec, err := env.store.GetObject(context.Background(), env.owner, "/alice/stor/tagged")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{roleID}, rec.Roles)

	// Control headers are consumed, metadata headers stored.
	assert.Equal(t, "vanilla", rec.Headers["m-flavor"])
	_, hasRoleTag := rec.Headers["role-tag"]
	assert.False(t, hasRoleTag)
}

// ============================================================================
// Preconditions
// ============================================================================

func TestPutObjectPreconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	res := env.put(t, "/alice/stor/guarded", []byte("v1"))

	t.Run("if-match current etag proceeds", func(t *testing.T) {
		res2, err := env.svc.PutObject(ctx, &PutObjectRequest{
			Owner:         env.owner,
			Path:          "/alice/stor/guarded",
			Body:          bytes.NewReader([]byte("v2")),
			ContentLength: 2,
			Preconditions: conditional.Preconditions{IfMatch: []string{res.ETag}},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, res2.Status)
	})

	t.Run("if-match stale etag fails", func(t *testing.T) {
		_, err := env.svc.PutObject(ctx, &PutObjectRequest{
			Owner:         env.owner,
			Path:          "/alice/stor/guarded",
			Body:          bytes.NewReader([]byte("v3")),
			ContentLength: 2,
			Preconditions: conditional.Preconditions{IfMatch: []string{res.ETag}},
		})
		require.Error(t, err)
		assert.True(t, IsCode(err, ErrCodePreconditionFailed), "got %v", err)
	})

	t.Run("if-none-match star create-only on existing fails", func(t *testing.T) {
		_, err := env.svc.PutObject(ctx, &PutObjectRequest{
			Owner:         env.owner,
			Path:          "/alice/stor/guarded",
			Body:          bytes.NewReader([]byte("v4")),
			ContentLength: 2,
			Preconditions: conditional.Preconditions{IfNoneMatch: []string{"*"}},
		})
		require.Error(t, err)
		assert.True(t, IsCode(err, ErrCodePreconditionFailed), "got %v", err)
	})

	t.Run("if-none-match star create-only on fresh path proceeds", func(t *testing.T) {
		res2, err := env.svc.PutObject(ctx, &PutObjectRequest{
			Owner:         env.owner,
			Path:          "/alice/stor/fresh",
			Body:          bytes.NewReader([]byte("v1")),
			ContentLength: 2,
			Preconditions: conditional.Preconditions{IfNoneMatch: []string{"*"}},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, res2.Status)
	})
}

// racingStore makes the first unconditional put report a benign race,
// the way a real backend does under concurrent unguarded writers.
type racingStore struct {
	*memory.Store
	raced bool
}

func (s *racingStore) PutObject(ctx context.Context, rec *types.ObjectRecord) (string, error) {
	if !s.raced && rec.Type == types.RecordTypeObject {
		s.raced = true
		etag, err := s.Store.PutObject(ctx, rec)
		if err != nil {
			return "", err
		}
		return "", &db.ConcurrentUpdateError{CurrentETag: etag}
	}
	return s.Store.PutObject(ctx, rec)
}

func TestPutObjectUnconditionalRaceSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memory.New()
	owner := uuid.New()
	mem.AddAccount(&types.Account{ID: owner, Login: "alice", Approved: true})
	for _, dir := range []string{"/alice", "/alice/stor"} {
		_, err := mem.PutObject(ctx, &types.ObjectRecord{
			Owner: owner, Path: dir, Type: types.RecordTypeDirectory,
		})
		require.NoError(t, err)
	}
	store := &racingStore{Store: mem}

	svc, err := NewService(Config{
		Store: store,
		Placer: placer.NewRoundRobinPlacer([]*types.Shark{
			{ID: "s1", Datacenter: "east-1", TotalBytes: 1 << 30},
			{ID: "s2", Datacenter: "east-2", TotalBytes: 1 << 30},
		}),
		Sink:  shark.NewFanoutSink(shark.NewMemoryClient()),
		Guard: guard.New(store),
	})
	require.NoError(t, err)

	// No precondition: the benign race must not surface as any error.
	res, err := svc.PutObject(ctx, &PutObjectRequest{
		Owner:         owner,
		Path:          "/alice/stor/raced",
		Body:          bytes.NewReader([]byte("data")),
		ContentLength: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.Status)
	assert.NotEmpty(t, res.ETag)
}

// ============================================================================
// HeadObject
// ============================================================================

func TestHeadObject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	put := env.put(t, "/alice/stor/head-me", []byte("payload"))

	res, err := env.svc.HeadObject(ctx, &HeadObjectRequest{
		Owner: env.owner,
		Path:  "/alice/stor/head-me",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, put.ETag, res.ETag)
	require.NotNil(t, res.Record)
	assert.Equal(t, int64(7), res.Record.Size)

	t.Run("not found", func(t *testing.T) {
		_, err := env.svc.HeadObject(ctx, &HeadObjectRequest{
			Owner: env.owner,
			Path:  "/alice/stor/absent",
		})
		require.Error(t, err)
		assert.True(t, IsCode(err, ErrCodeNotFound))
	})

	t.Run("if-none-match matching etag yields 304", func(t *testing.T) {
		res, err := env.svc.HeadObject(ctx, &HeadObjectRequest{
			Owner:         env.owner,
			Path:          "/alice/stor/head-me",
			Preconditions: conditional.Preconditions{IfNoneMatch: []string{put.ETag}},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotModified, res.Status)
		assert.Nil(t, res.Record)
	})

	t.Run("if-modified-since future date yields 304", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		res, err := env.svc.HeadObject(ctx, &HeadObjectRequest{
			Owner:         env.owner,
			Path:          "/alice/stor/head-me",
			Preconditions: conditional.Preconditions{IfModifiedSince: &future},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotModified, res.Status)
	})

	t.Run("if-match stale etag yields 412", func(t *testing.T) {
		_, err := env.svc.HeadObject(ctx, &HeadObjectRequest{
			Owner:         env.owner,
			Path:          "/alice/stor/head-me",
			Preconditions: conditional.Preconditions{IfMatch: []string{"stale"}},
		})
		require.Error(t, err)
		assert.True(t, IsCode(err, ErrCodePreconditionFailed))
	})
}

// ============================================================================
// DeleteObject
// ============================================================================

func TestDeleteObject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	env.put(t, "/alice/stor/doomed", []byte("bye"))

	res, err := env.svc.DeleteObject(ctx, &DeleteObjectRequest{
		Owner: env.owner,
		Path:  "/alice/stor/doomed",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.Status)

	// No tombstone: a second delete reports the record gone.
	_, err = env.svc.DeleteObject(ctx, &DeleteObjectRequest{
		Owner: env.owner,
		Path:  "/alice/stor/doomed",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNotFound))
}

func TestDeleteObjectPreconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	put := env.put(t, "/alice/stor/pinned", []byte("v1"))

	_, err := env.svc.DeleteObject(ctx, &DeleteObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/pinned",
		Preconditions: conditional.Preconditions{IfMatch: []string{"stale"}},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodePreconditionFailed))

	res, err := env.svc.DeleteObject(ctx, &DeleteObjectRequest{
		Owner:         env.owner,
		Path:          "/alice/stor/pinned",
		Preconditions: conditional.Preconditions{IfMatch: []string{put.ETag}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.Status)
}

// ============================================================================
// PutDirectory
// ============================================================================

func TestPutDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.svc.PutDirectory(ctx, &PutDirectoryRequest{
		Owner: env.owner,
		Path:  "/alice/stor/newdir",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.Status)

	rec, err := env.store.GetObject(ctx, env.owner, "/alice/stor/newdir")
	require.NoError(t, err)
	assert.True(t, rec.IsDirectory())

	// Idempotent; the etag still turns over.
	res2, err := env.svc.PutDirectory(ctx, &PutDirectoryRequest{
		Owner: env.owner,
		Path:  "/alice/stor/newdir",
	})
	require.NoError(t, err)
	assert.NotEqual(t, res.ETag, res2.ETag)

	// Objects can then live underneath.
	env.put(t, "/alice/stor/newdir/child", []byte("nested"))
}

func TestPutDirectoryOverObject(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.put(t, "/alice/stor/occupied", []byte("object"))
	_, err := env.svc.PutDirectory(context.Background(), &PutDirectoryRequest{
		Owner: env.owner,
		Path:  "/alice/stor/occupied",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument), "got %v", err)
}

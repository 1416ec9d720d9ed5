// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.Store for
// testing and single-process deployments. Data lives in maps guarded by
// a single RWMutex; conditional writes are atomic under the lock, which
// models the per-key conditional-put primitive of the real store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/types"
)

// Store is an in-memory metadata store.
type Store struct {
	mu sync.RWMutex

	accounts map[uuid.UUID]*types.Account
	objects  map[string]*types.ObjectRecord // key: owner/path
	uploads  map[uuid.UUID]*types.UploadRecord
	parts    map[uuid.UUID]map[int]*types.PartRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*types.Account),
		objects:  make(map[string]*types.ObjectRecord),
		uploads:  make(map[uuid.UUID]*types.UploadRecord),
		parts:    make(map[uuid.UUID]map[int]*types.PartRecord),
	}
}

func objectKey(owner uuid.UUID, path string) string {
	return owner.String() + "/" + path
}

// AddAccount seeds an account. Accounts are owned by the identity
// service; the store only answers existence lookups.
func (s *Store) AddAccount(acct *types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.accounts[acct.ID] = &cp
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, db.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

// ============================================================================
// Object Operations
// ============================================================================

func (s *Store) GetObject(ctx context.Context, owner uuid.UUID, path string) (*types.ObjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.objects[objectKey(owner, path)]
	if !ok {
		return nil, db.ErrObjectNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) PutObject(ctx context.Context, rec *types.ObjectRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeObjectLocked(rec), nil
}

func (s *Store) PutObjectConditional(ctx context.Context, rec *types.ObjectRecord, expectedETag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[objectKey(rec.Owner, rec.Path)]
	if expectedETag == "" {
		if exists {
			return "", db.ErrETagMismatch
		}
	} else {
		if !exists || current.ETag != expectedETag {
			return "", db.ErrETagMismatch
		}
	}
	return s.storeObjectLocked(rec), nil
}

// storeObjectLocked assigns a fresh etag and mtime, then stores a copy.
func (s *Store) storeObjectLocked(rec *types.ObjectRecord) string {
	cp := rec.Clone()
	cp.ETag = uuid.New().String()
	cp.MTimeMs = time.Now().UnixMilli()
	s.objects[objectKey(cp.Owner, cp.Path)] = cp
	rec.ETag = cp.ETag
	rec.MTimeMs = cp.MTimeMs
	return cp.ETag
}

func (s *Store) DeleteObject(ctx context.Context, owner uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey(owner, path)
	if _, ok := s.objects[key]; !ok {
		return db.ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

// ============================================================================
// Upload Operations
// ============================================================================

func (s *Store) CreateUpload(ctx context.Context, up *types.UploadRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.uploads[up.ID]; exists {
		return "", db.ErrETagMismatch
	}
	cp := up.Clone()
	cp.ETag = uuid.New().String()
	s.uploads[cp.ID] = cp
	up.ETag = cp.ETag
	return cp.ETag, nil
}

func (s *Store) GetUpload(ctx context.Context, id uuid.UUID) (*types.UploadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	up, ok := s.uploads[id]
	if !ok {
		return nil, db.ErrUploadNotFound
	}
	return up.Clone(), nil
}

func (s *Store) UpdateUpload(ctx context.Context, up *types.UploadRecord, expectedETag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.uploads[up.ID]
	if !ok || current.ETag != expectedETag {
		return "", db.ErrETagMismatch
	}
	cp := up.Clone()
	cp.ETag = uuid.New().String()
	s.uploads[cp.ID] = cp
	up.ETag = cp.ETag
	return cp.ETag, nil
}

// ============================================================================
// Part Operations
// ============================================================================

func (s *Store) PutPart(ctx context.Context, part *types.PartRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNum, ok := s.parts[part.UploadID]
	if !ok {
		byNum = make(map[int]*types.PartRecord)
		s.parts[part.UploadID] = byNum
	}
	cp := part.Clone()
	cp.MTimeMs = time.Now().UnixMilli()
	byNum[part.PartNum] = cp
	return nil
}

func (s *Store) GetPart(ctx context.Context, uploadID uuid.UUID, partNum int) (*types.PartRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, ok := s.parts[uploadID][partNum]
	if !ok {
		return nil, db.ErrPartNotFound
	}
	return part.Clone(), nil
}

func (s *Store) ListParts(ctx context.Context, uploadID uuid.UUID) ([]*types.PartRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byNum := s.parts[uploadID]
	out := make([]*types.PartRecord, 0, len(byNum))
	for _, p := range byNum {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNum < out[j].PartNum })
	return out, nil
}

func (s *Store) DeleteParts(ctx context.Context, uploadID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parts, uploadID)
	return nil
}

func (s *Store) Close() error {
	return nil
}

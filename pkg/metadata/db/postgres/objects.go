// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/types"
)

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*types.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, login, approved FROM accounts WHERE id = $1
	`, id)

	var acct types.Account
	if err := row.Scan(&acct.ID, &acct.Login, &acct.Approved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

func (s *Store) GetObject(ctx context.Context, owner uuid.UUID, path string) (*types.ObjectRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner, path, type, etag, size, content_type, content_md5, headers, durability, roles, mtime_ms
		FROM objects
		WHERE owner = $1 AND path = $2
	`, owner, path)

	return scanObject(row)
}

func (s *Store) PutObject(ctx context.Context, rec *types.ObjectRecord) (string, error) {
	etag := uuid.New().String()
	mtime := time.Now().UnixMilli()

	headers, durability, roles, err := marshalObjectFields(rec)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (owner, path, type, etag, size, content_type, content_md5, headers, durability, roles, mtime_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner, path) DO UPDATE SET
			type = EXCLUDED.type,
			etag = EXCLUDED.etag,
			size = EXCLUDED.size,
			content_type = EXCLUDED.content_type,
			content_md5 = EXCLUDED.content_md5,
			headers = EXCLUDED.headers,
			durability = EXCLUDED.durability,
			roles = EXCLUDED.roles,
			mtime_ms = EXCLUDED.mtime_ms
	`, rec.Owner, rec.Path, rec.Type, etag, rec.Size, rec.ContentType, rec.ContentMD5,
		headers, durability, roles, mtime)
	if err != nil {
		return "", translateWriteErr(fmt.Errorf("put object: %w", err), etag)
	}

	rec.ETag = etag
	rec.MTimeMs = mtime
	return etag, nil
}

func (s *Store) PutObjectConditional(ctx context.Context, rec *types.ObjectRecord, expectedETag string) (string, error) {
	etag := uuid.New().String()
	mtime := time.Now().UnixMilli()

	headers, durability, roles, err := marshalObjectFields(rec)
	if err != nil {
		return "", err
	}

	var res sql.Result
	if expectedETag == "" {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO objects (owner, path, type, etag, size, content_type, content_md5, headers, durability, roles, mtime_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (owner, path) DO NOTHING
		`, rec.Owner, rec.Path, rec.Type, etag, rec.Size, rec.ContentType, rec.ContentMD5,
			headers, durability, roles, mtime)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE objects SET
				type = $3, etag = $4, size = $5, content_type = $6, content_md5 = $7,
				headers = $8, durability = $9, roles = $10, mtime_ms = $11
			WHERE owner = $1 AND path = $2 AND etag = $12
		`, rec.Owner, rec.Path, rec.Type, etag, rec.Size, rec.ContentType, rec.ContentMD5,
			headers, durability, roles, mtime, expectedETag)
	}
	if err != nil {
		return "", translateWriteErr(fmt.Errorf("put object conditional: %w", err), "")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("put object conditional: %w", err)
	}
	if n == 0 {
		return "", db.ErrETagMismatch
	}

	rec.ETag = etag
	rec.MTimeMs = mtime
	return etag, nil
}

func (s *Store) DeleteObject(ctx context.Context, owner uuid.UUID, path string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM objects WHERE owner = $1 AND path = $2
	`, owner, path)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if n == 0 {
		return db.ErrObjectNotFound
	}
	return nil
}

func marshalObjectFields(rec *types.ObjectRecord) ([]byte, []byte, []byte, error) {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal headers: %w", err)
	}
	durability, err := json.Marshal(rec.Durability)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal durability: %w", err)
	}
	roles, err := json.Marshal(rec.Roles)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal roles: %w", err)
	}
	return headers, durability, roles, nil
}

func scanObject(row *sql.Row) (*types.ObjectRecord, error) {
	var rec types.ObjectRecord
	var headers, durability, roles []byte

	err := row.Scan(&rec.Owner, &rec.Path, &rec.Type, &rec.ETag, &rec.Size,
		&rec.ContentType, &rec.ContentMD5, &headers, &durability, &roles, &rec.MTimeMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrObjectNotFound
		}
		return nil, fmt.Errorf("scan object: %w", err)
	}

	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if len(durability) > 0 {
		if err := json.Unmarshal(durability, &rec.Durability); err != nil {
			return nil, fmt.Errorf("unmarshal durability: %w", err)
		}
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &rec.Roles); err != nil {
			return nil, fmt.Errorf("unmarshal roles: %w", err)
		}
	}
	return &rec, nil
}

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

// ============================================================================
// Upload Operations
// ============================================================================

func (s *Store) CreateUpload(ctx context.Context, up *types.UploadRecord) (string, error) {
	etag := uuid.New().String()

	headers, err := json.Marshal(up.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (id, owner, target_path, headers, parts_directory, creation_time_ms,
			durability_level, content_length, state, finalize_type, parts_md5, etag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, up.ID, up.Owner, up.TargetPath, headers, up.PartsDirectory, up.CreationTimeMs,
		up.DurabilityLevel, up.ContentLength, up.State, up.FinalizeType, up.PartsMD5, etag)
	if err != nil {
		return "", translateWriteErr(fmt.Errorf("create upload: %w", err), "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if n == 0 {
		return "", db.ErrETagMismatch
	}

	up.ETag = etag
	return etag, nil
}

func (s *Store) GetUpload(ctx context.Context, id uuid.UUID) (*types.UploadRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, target_path, headers, parts_directory, creation_time_ms,
		       durability_level, content_length, state, finalize_type, parts_md5, etag
		FROM uploads
		WHERE id = $1
	`, id)

	var up types.UploadRecord
	var headers []byte
	err := row.Scan(&up.ID, &up.Owner, &up.TargetPath, &headers, &up.PartsDirectory,
		&up.CreationTimeMs, &up.DurabilityLevel, &up.ContentLength, &up.State,
		&up.FinalizeType, &up.PartsMD5, &up.ETag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrUploadNotFound
		}
		return nil, fmt.Errorf("get upload: %w", err)
	}

	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &up.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	return &up, nil
}

func (s *Store) UpdateUpload(ctx context.Context, up *types.UploadRecord, expectedETag string) (string, error) {
	etag := uuid.New().String()

	headers, err := json.Marshal(up.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET
			headers = $2, state = $3, finalize_type = $4, parts_md5 = $5, etag = $6
		WHERE id = $1 AND etag = $7
	`, up.ID, headers, up.State, up.FinalizeType, up.PartsMD5, etag, expectedETag)
	if err != nil {
		return "", translateWriteErr(fmt.Errorf("update upload: %w", err), "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("update upload: %w", err)
	}
	if n == 0 {
		return "", db.ErrETagMismatch
	}

	up.ETag = etag
	return etag, nil
}

// ============================================================================
// Part Operations
// ============================================================================

func (s *Store) PutPart(ctx context.Context, part *types.PartRecord) error {
	mtime := time.Now().UnixMilli()
	replicas, err := json.Marshal(part.Replicas)
	if err != nil {
		return fmt.Errorf("marshal replicas: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upload_parts (upload_id, part_num, etag, size, content_md5, replicas, mtime_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (upload_id, part_num) DO UPDATE SET
			etag = EXCLUDED.etag,
			size = EXCLUDED.size,
			content_md5 = EXCLUDED.content_md5,
			replicas = EXCLUDED.replicas,
			mtime_ms = EXCLUDED.mtime_ms
	`, part.UploadID, part.PartNum, part.ETag, part.Size, part.ContentMD5, replicas, mtime)
	if err != nil {
		return fmt.Errorf("put part: %w", err)
	}
	part.MTimeMs = mtime
	return nil
}

func (s *Store) GetPart(ctx context.Context, uploadID uuid.UUID, partNum int) (*types.PartRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT upload_id, part_num, etag, size, content_md5, replicas, mtime_ms
		FROM upload_parts
		WHERE upload_id = $1 AND part_num = $2
	`, uploadID, partNum)

	var part types.PartRecord
	var replicas []byte
	err := row.Scan(&part.UploadID, &part.PartNum, &part.ETag, &part.Size, &part.ContentMD5, &replicas, &part.MTimeMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrPartNotFound
		}
		return nil, fmt.Errorf("get part: %w", err)
	}
	if len(replicas) > 0 {
		if err := json.Unmarshal(replicas, &part.Replicas); err != nil {
			return nil, fmt.Errorf("unmarshal replicas: %w", err)
		}
	}
	return &part, nil
}

func (s *Store) ListParts(ctx context.Context, uploadID uuid.UUID) ([]*types.PartRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upload_id, part_num, etag, size, content_md5, replicas, mtime_ms
		FROM upload_parts
		WHERE upload_id = $1
		ORDER BY part_num
	`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var parts []*types.PartRecord
	for rows.Next() {
		var part types.PartRecord
		var replicas []byte
		if err := rows.Scan(&part.UploadID, &part.PartNum, &part.ETag, &part.Size,
			&part.ContentMD5, &replicas, &part.MTimeMs); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		if len(replicas) > 0 {
			if err := json.Unmarshal(replicas, &part.Replicas); err != nil {
				return nil, fmt.Errorf("unmarshal replicas: %w", err)
			}
		}
		parts = append(parts, &part)
	}
	return parts, rows.Err()
}

func (s *Store) DeleteParts(ctx context.Context, uploadID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM upload_parts WHERE upload_id = $1
	`, uploadID)
	if err != nil {
		return fmt.Errorf("delete parts: %w", err)
	}
	return nil
}

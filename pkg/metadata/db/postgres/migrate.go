// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id       UUID PRIMARY KEY,
		login    TEXT NOT NULL UNIQUE,
		approved BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS objects (
		owner        UUID NOT NULL,
		path         TEXT NOT NULL,
		type         TEXT NOT NULL,
		etag         TEXT NOT NULL,
		size         BIGINT NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		content_md5  TEXT NOT NULL DEFAULT '',
		headers      JSONB,
		durability   JSONB,
		roles        JSONB,
		mtime_ms     BIGINT NOT NULL,
		PRIMARY KEY (owner, path)
	)`,
	`CREATE TABLE IF NOT EXISTS uploads (
		id               UUID PRIMARY KEY,
		owner            UUID NOT NULL,
		target_path      TEXT NOT NULL,
		headers          JSONB,
		parts_directory  TEXT NOT NULL,
		creation_time_ms BIGINT NOT NULL,
		durability_level INT NOT NULL,
		content_length   BIGINT NOT NULL DEFAULT -1,
		state            TEXT NOT NULL,
		finalize_type    TEXT NOT NULL DEFAULT '',
		parts_md5        TEXT NOT NULL DEFAULT '',
		etag             TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS upload_parts (
		upload_id   UUID NOT NULL,
		part_num    INT NOT NULL,
		etag        TEXT NOT NULL,
		size        BIGINT NOT NULL,
		content_md5 TEXT NOT NULL DEFAULT '',
		replicas    JSONB,
		mtime_ms    BIGINT NOT NULL,
		PRIMARY KEY (upload_id, part_num)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_uploads_owner ON uploads (owner)`,
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}

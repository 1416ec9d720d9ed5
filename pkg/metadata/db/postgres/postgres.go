// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres provides a PostgreSQL implementation of db.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/tidegate/tidegate/pkg/metadata/db"
)

// Store implements db.Store backed by PostgreSQL.
type Store struct {
	db     *sql.DB
	config db.Config
}

// New opens a connection pool and verifies connectivity.
func New(cfg db.Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: DSN is required")
	}

	conn, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	conn.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{db: conn, config: cfg}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// translateWriteErr maps low-level write failures onto the store's
// error vocabulary. Serialization failures mean another writer touched
// the row mid-statement.
func translateWriteErr(err error, currentETag string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return &db.ConcurrentUpdateError{CurrentETag: currentETag}
		}
	}
	return err
}

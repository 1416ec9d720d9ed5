// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidegate/tidegate/pkg/types"
)

var (
	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidegate_store_op_duration_seconds",
			Help:    "Duration of metadata store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidegate_store_ops_total",
			Help: "Total number of metadata store operations",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(storeOpDuration, storeOpTotal)
}

// StoreMetrics returns the Prometheus collectors for store metrics.
func StoreMetrics() []prometheus.Collector {
	return []prometheus.Collector{storeOpDuration, storeOpTotal}
}

// metricsStore wraps a Store and records per-operation latency and
// outcome. Conditional-write conflicts count as "conflict", not "error";
// they are expected traffic, not store failures.
type metricsStore struct {
	inner Store
}

// WithMetrics wraps a Store with Prometheus instrumentation.
func WithMetrics(inner Store) Store {
	return &metricsStore{inner: inner}
}

func track(op string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case err == ErrETagMismatch:
		status = "conflict"
	case err == ErrObjectNotFound, err == ErrUploadNotFound,
		err == ErrPartNotFound, err == ErrAccountNotFound:
		status = "not_found"
	default:
		if _, ok := err.(*ConcurrentUpdateError); ok {
			status = "conflict"
		} else {
			status = "error"
		}
	}
	storeOpDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	storeOpTotal.WithLabelValues(op, status).Inc()
}

func (m *metricsStore) GetAccount(ctx context.Context, id uuid.UUID) (*types.Account, error) {
	start := time.Now()
	acct, err := m.inner.GetAccount(ctx, id)
	track("get_account", start, err)
	return acct, err
}

func (m *metricsStore) GetObject(ctx context.Context, owner uuid.UUID, path string) (*types.ObjectRecord, error) {
	start := time.Now()
	rec, err := m.inner.GetObject(ctx, owner, path)
	track("get_object", start, err)
	return rec, err
}

func (m *metricsStore) PutObject(ctx context.Context, rec *types.ObjectRecord) (string, error) {
	start := time.Now()
	etag, err := m.inner.PutObject(ctx, rec)
	track("put_object", start, err)
	return etag, err
}

func (m *metricsStore) PutObjectConditional(ctx context.Context, rec *types.ObjectRecord, expectedETag string) (string, error) {
	start := time.Now()
	etag, err := m.inner.PutObjectConditional(ctx, rec, expectedETag)
	track("put_object_conditional", start, err)
	return etag, err
}

func (m *metricsStore) DeleteObject(ctx context.Context, owner uuid.UUID, path string) error {
	start := time.Now()
	err := m.inner.DeleteObject(ctx, owner, path)
	track("delete_object", start, err)
	return err
}

func (m *metricsStore) CreateUpload(ctx context.Context, up *types.UploadRecord) (string, error) {
	start := time.Now()
	etag, err := m.inner.CreateUpload(ctx, up)
	track("create_upload", start, err)
	return etag, err
}

func (m *metricsStore) GetUpload(ctx context.Context, id uuid.UUID) (*types.UploadRecord, error) {
	start := time.Now()
	up, err := m.inner.GetUpload(ctx, id)
	track("get_upload", start, err)
	return up, err
}

func (m *metricsStore) UpdateUpload(ctx context.Context, up *types.UploadRecord, expectedETag string) (string, error) {
	start := time.Now()
	etag, err := m.inner.UpdateUpload(ctx, up, expectedETag)
	track("update_upload", start, err)
	return etag, err
}

func (m *metricsStore) PutPart(ctx context.Context, part *types.PartRecord) error {
	start := time.Now()
	err := m.inner.PutPart(ctx, part)
	track("put_part", start, err)
	return err
}

func (m *metricsStore) GetPart(ctx context.Context, uploadID uuid.UUID, partNum int) (*types.PartRecord, error) {
	start := time.Now()
	part, err := m.inner.GetPart(ctx, uploadID, partNum)
	track("get_part", start, err)
	return part, err
}

func (m *metricsStore) ListParts(ctx context.Context, uploadID uuid.UUID) ([]*types.PartRecord, error) {
	start := time.Now()
	parts, err := m.inner.ListParts(ctx, uploadID)
	track("list_parts", start, err)
	return parts, err
}

func (m *metricsStore) DeleteParts(ctx context.Context, uploadID uuid.UUID) error {
	start := time.Now()
	err := m.inner.DeleteParts(ctx, uploadID)
	track("delete_parts", start, err)
	return err
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}

// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package shark streams object content to storage-node replicas. The
// per-node byte transport is abstracted behind Client; this package
// only owns the fan-out and the content digest.
package shark

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tidegate/tidegate/pkg/types"
)

// WriteSummary reports the outcome of a replicated content write.
type WriteSummary struct {
	Size       int64
	ContentMD5 string // base64, matches the Content-MD5 header form
}

// Client writes one stream to one shark.
type Client interface {
	Put(ctx context.Context, replica types.Replica, objectID string, r io.Reader, size int64) error
}

// Sink accepts object content and persists it on every replica.
type Sink interface {
	Write(ctx context.Context, objectID string, r io.Reader, size int64, replicas []types.Replica) (*WriteSummary, error)
}

// FanoutSink duplicates the inbound stream to all replicas while
// computing the content MD5. The write fails as a whole if any replica
// fails; partially written replicas are the storage nodes' garbage to
// collect.
type FanoutSink struct {
	client Client
}

// NewFanoutSink creates a sink over the given per-node client.
func NewFanoutSink(client Client) *FanoutSink {
	return &FanoutSink{client: client}
}

func (s *FanoutSink) Write(ctx context.Context, objectID string, r io.Reader, size int64, replicas []types.Replica) (*WriteSummary, error) {
	if len(replicas) == 0 {
		return nil, fmt.Errorf("shark: no replicas to write")
	}

	g, gctx := errgroup.WithContext(ctx)

	pipeWriters := make([]io.Writer, len(replicas))
	for i, rep := range replicas {
		pr, pw := io.Pipe()
		pipeWriters[i] = pw
		rep := rep
		g.Go(func() error {
			err := s.client.Put(gctx, rep, objectID, pr, size)
			// Drain so the producer never blocks on a failed replica.
			if err != nil {
				io.Copy(io.Discard, pr)
				return fmt.Errorf("shark %s: %w", rep.SharkID, err)
			}
			return nil
		})
	}

	hasher := md5.New()
	writers := append([]io.Writer{hasher}, pipeWriters...)
	multi := io.MultiWriter(writers...)

	var written int64
	var copyErr error
	g.Go(func() error {
		defer func() {
			for _, w := range pipeWriters {
				pw := w.(*io.PipeWriter)
				if copyErr != nil {
					pw.CloseWithError(copyErr)
				} else {
					pw.Close()
				}
			}
		}()
		written, copyErr = io.Copy(multi, r)
		return copyErr
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &WriteSummary{
		Size:       written,
		ContentMD5: base64.StdEncoding.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// MemoryClient keeps replica content in process memory. It backs the
// memory store mode and the test suites.
type MemoryClient struct {
	mu      sync.Mutex
	content map[string][]byte // key: sharkID/objectID
}

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{content: make(map[string][]byte)}
}

func (c *MemoryClient) Put(ctx context.Context, replica types.Replica, objectID string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content[replica.SharkID+"/"+objectID] = data
	return nil
}

// Get returns the content stored on a given shark, for tests.
func (c *MemoryClient) Get(sharkID, objectID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.content[sharkID+"/"+objectID]
	return data, ok
}

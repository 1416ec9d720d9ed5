// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "github.com/google/uuid"

// RecordType distinguishes the two kinds of metadata rows a path can hold.
type RecordType string

const (
	RecordTypeObject    RecordType = "object"
	RecordTypeDirectory RecordType = "directory"
)

// Replica identifies one storage-node copy of an object's content.
type Replica struct {
	Datacenter string `json:"datacenter"`
	SharkID    string `json:"shark_id"`
}

// ObjectRecord is the metadata row for a single (owner, path).
// ETag is an opaque version token assigned by the store on every
// successful mutation; it is never reused.
type ObjectRecord struct {
	Owner uuid.UUID  `json:"owner"`
	Path  string     `json:"path"`
	Type  RecordType `json:"type"`

	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	ContentMD5  string            `json:"content_md5,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Durability  []Replica         `json:"durability,omitempty"`
	MTimeMs     int64             `json:"mtime_ms"`

	// Roles resolved from role-tag headers at write time.
	Roles []uuid.UUID `json:"roles,omitempty"`
}

// IsDirectory returns true if the record is a directory entry.
func (r *ObjectRecord) IsDirectory() bool {
	return r.Type == RecordTypeDirectory
}

// Clone returns a deep copy of the record.
func (r *ObjectRecord) Clone() *ObjectRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Headers != nil {
		cp.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			cp.Headers[k] = v
		}
	}
	cp.Durability = append([]Replica(nil), r.Durability...)
	cp.Roles = append([]uuid.UUID(nil), r.Roles...)
	return &cp
}

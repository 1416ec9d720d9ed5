// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "github.com/google/uuid"

// UploadState is the lifecycle state of a multipart upload.
type UploadState string

const (
	UploadStateCreated    UploadState = "created"
	UploadStateFinalizing UploadState = "finalizing"
	UploadStateCommitted  UploadState = "committed"
	UploadStateAborted    UploadState = "aborted"
)

// Terminal returns true once no further transition can leave the state.
func (s UploadState) Terminal() bool {
	return s == UploadStateCommitted || s == UploadStateAborted
}

// FinalizeType records which finalizing operation is in flight.
type FinalizeType string

const (
	FinalizeTypeNone   FinalizeType = ""
	FinalizeTypeCommit FinalizeType = "commit"
	FinalizeTypeAbort  FinalizeType = "abort"
)

// UploadRecord is the persisted state of a multipart upload.
// Headers and TargetPath are captured at create time and immutable once
// State leaves created. ETag is the record's version token, assigned by
// the store on every write; finalize transitions are conditional on it.
type UploadRecord struct {
	ID    uuid.UUID `json:"id"`
	Owner uuid.UUID `json:"owner"`

	TargetPath     string            `json:"target_path"`
	Headers        map[string]string `json:"headers,omitempty"`
	PartsDirectory string            `json:"parts_directory"`
	CreationTimeMs int64             `json:"creation_time_ms"`

	DurabilityLevel int `json:"durability_level"`

	// ContentLength is the declared final object size, -1 when the
	// create request did not declare one.
	ContentLength int64 `json:"content_length"`

	State        UploadState  `json:"state"`
	FinalizeType FinalizeType `json:"finalize_type,omitempty"`

	// PartsMD5 is computed over the ordered committed part etags, set
	// only once the upload reaches committed.
	PartsMD5 string `json:"parts_md5,omitempty"`

	ETag string `json:"etag"`
}

// Clone returns a deep copy of the upload record.
func (u *UploadRecord) Clone() *UploadRecord {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Headers != nil {
		cp.Headers = make(map[string]string, len(u.Headers))
		for k, v := range u.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

// PartRecord is the metadata row for one uploaded part, keyed by
// (UploadID, PartNum). Parts may be overwritten any number of times
// before the upload is finalized.
type PartRecord struct {
	UploadID   uuid.UUID `json:"upload_id"`
	PartNum    int       `json:"part_num"`
	ETag       string    `json:"etag"`
	Size       int64     `json:"size"`
	ContentMD5 string    `json:"content_md5"`
	Replicas   []Replica `json:"replicas,omitempty"`
	MTimeMs    int64     `json:"mtime_ms"`
}

// Clone returns a deep copy of the part record.
func (p *PartRecord) Clone() *PartRecord {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Replicas = append([]Replica(nil), p.Replicas...)
	return &cp
}

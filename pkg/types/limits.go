// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package types

// Part number bounds for multipart uploads, inclusive.
const (
	MinPartNum = 0
	MaxPartNum = 9999
)

// Durability (replica count) bounds.
const (
	MinCopies     = 1
	MaxCopies     = 9
	DefaultCopies = 2
)

// MinPartSizeBytes is the minimum size of every committed part except
// the last one.
const MinPartSizeBytes = 5 << 20

// MaxHeadersSizeBytes caps the aggregate byte size of client-set
// metadata headers on a record.
const MaxHeadersSizeBytes = 4096

// DefaultMaxStreamingSizeBytes bounds a chunked upload when the client
// does not declare its own maximum streamed size.
const DefaultMaxStreamingSizeBytes = 5 << 30

// EmptyContentMD5 is the base64 MD5 of zero bytes, used by the
// zero-byte write fast path.
const EmptyContentMD5 = "1B2M2Y8AsgTpgAmY7PhCfg=="

// Header names understood by the mutation path.
const (
	HeaderDurability       = "durability-level"
	HeaderDurabilityLegacy = "x-durability-level"
	HeaderMaxStreamSize    = "max-content-length"
	HeaderRoleTag          = "role-tag"
)

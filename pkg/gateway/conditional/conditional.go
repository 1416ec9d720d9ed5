// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package conditional evaluates HTTP precondition headers against the
// current state of a resource. Evaluate is a pure function: the caller
// fetches the resource state, this package only decides.
package conditional

import (
	"net/http"
	"strings"
	"time"
)

// Verdict is the outcome of precondition evaluation.
type Verdict int

const (
	// Proceed means the request may continue.
	Proceed Verdict = iota
	// NotModified short-circuits a read with 304.
	NotModified
	// PreconditionFailed fails the request with 412.
	PreconditionFailed
)

func (v Verdict) String() string {
	switch v {
	case Proceed:
		return "proceed"
	case NotModified:
		return "not-modified"
	case PreconditionFailed:
		return "precondition-failed"
	default:
		return "unknown"
	}
}

// Preconditions holds the four standard conditional headers. Nil time
// pointers and empty slices mean the header was absent (or malformed,
// which is treated the same).
type Preconditions struct {
	IfMatch           []string
	IfNoneMatch       []string
	IfModifiedSince   *time.Time
	IfUnmodifiedSince *time.Time
}

// Empty reports whether no precondition header was supplied.
func (p Preconditions) Empty() bool {
	return len(p.IfMatch) == 0 && len(p.IfNoneMatch) == 0 &&
		p.IfModifiedSince == nil && p.IfUnmodifiedSince == nil
}

// ResourceState is the caller-fetched view of the resource.
type ResourceState struct {
	Exists bool
	ETag   string
	MTime  time.Time
}

// ParsePreconditions extracts the conditional headers from a request.
// Malformed dates are dropped, not rejected. Etag lists are split on
// commas with surrounding quotes and weak prefixes trimmed.
func ParsePreconditions(h http.Header) Preconditions {
	var pre Preconditions
	pre.IfMatch = parseETagList(h.Get("If-Match"))
	pre.IfNoneMatch = parseETagList(h.Get("If-None-Match"))
	pre.IfModifiedSince = parseHTTPDate(h.Get("If-Modified-Since"))
	pre.IfUnmodifiedSince = parseHTTPDate(h.Get("If-Unmodified-Since"))
	return pre
}

func parseETagList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		tok = strings.TrimPrefix(tok, "W/")
		tok = strings.Trim(tok, `"`)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func parseHTTPDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return nil
	}
	return &t
}

// isRead reports whether the method has 304 semantics rather than 412.
func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func etagIn(set []string, etag string) bool {
	for _, candidate := range set {
		if candidate == "*" {
			return true
		}
		if candidate == etag && etag != "" {
			return true
		}
	}
	return false
}

// Evaluate applies the precondition rules in precedence order:
// if-match, if-unmodified-since, if-none-match, if-modified-since.
// The first rule triggered decides; absence of all headers proceeds.
//
// HTTP dates carry second granularity, so modification times are
// truncated to seconds before comparison.
func Evaluate(method string, pre Preconditions, res ResourceState) Verdict {
	mtime := res.MTime.Truncate(time.Second)

	if len(pre.IfMatch) > 0 {
		if !res.Exists || !etagIn(pre.IfMatch, res.ETag) {
			return PreconditionFailed
		}
	}

	if pre.IfUnmodifiedSince != nil && res.Exists {
		if mtime.After(*pre.IfUnmodifiedSince) {
			return PreconditionFailed
		}
	}

	if len(pre.IfNoneMatch) > 0 && res.Exists {
		if etagIn(pre.IfNoneMatch, res.ETag) {
			if isRead(method) {
				return NotModified
			}
			return PreconditionFailed
		}
	}

	if pre.IfModifiedSince != nil && res.Exists && isRead(method) {
		if !mtime.After(*pre.IfModifiedSince) {
			return NotModified
		}
	}

	return Proceed
}

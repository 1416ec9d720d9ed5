// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package types

// Shark describes one content-storage node as seen by placement.
// Discovery and health tracking live outside the mutation core; the
// placer only consumes refreshed snapshots of this shape.
type Shark struct {
	ID         string `json:"id"`
	Datacenter string `json:"datacenter"`
	Addr       string `json:"addr"`

	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	ReadOnly   bool   `json:"read_only"`
}

// FreeBytes returns the remaining capacity of the shark.
func (s *Shark) FreeBytes() uint64 {
	if s.UsedBytes >= s.TotalBytes {
		return 0
	}
	return s.TotalBytes - s.UsedBytes
}

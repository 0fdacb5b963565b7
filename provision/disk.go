// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package provision implements declarative partition provisioning: strategies
// describing disk selection and partition layout are resolved, planned against
// the free space of real disks, and applied transactionally with rollback.
package provision

import (
	"slices"

	"github.com/google/uuid"
)

// Disk models a candidate disk for provisioning.
type Disk struct {
	// Path is the device path, e.g. "/dev/sda".
	Path string

	Size       uint64
	SectorSize uint64

	// Table is the current partition table, nil for an unpartitioned disk.
	Table *PartitionTable

	// Filesystem is the probed filesystem name when the whole disk carries
	// one (no partition table), empty otherwise.
	Filesystem string

	// FilesystemUUID is the probed filesystem UUID, if any.
	FilesystemUUID *uuid.UUID

	// FilesystemLabel is the probed filesystem label, empty when absent.
	FilesystemLabel string
}

// PartitionTable models the current partition table of a disk.
type PartitionTable struct {
	Kind TableKind

	// DiskGUID identifies the table.
	DiskGUID uuid.UUID

	// Revision is a monotonic counter incremented on every committed mutation.
	Revision uint64

	// Partitions in on-disk entry order.
	Partitions []PartitionEntry

	// FirstUsable and LastUsable bound the allocatable byte range.
	FirstUsable uint64
	LastUsable  uint64
}

// PartitionEntry models one partition of a table.
type PartitionEntry struct {
	// Number is the 1-based partition number.
	Number int

	Offset uint64
	Size   uint64

	TypeGUID uuid.UUID
	GUID     uuid.UUID

	Label string

	// Filesystem is the probed filesystem name of the partition contents, if any.
	Filesystem string

	// FilesystemUUID is the probed filesystem UUID, if any.
	FilesystemUUID *uuid.UUID
}

// End returns the first byte past the partition.
func (e PartitionEntry) End() uint64 {
	return e.Offset + e.Size
}

// Region is a half-open byte range [Offset, Offset+Size).
type Region struct {
	Offset uint64
	Size   uint64
}

// End returns the first byte past the region.
func (r Region) End() uint64 {
	return r.Offset + r.Size
}

// FreeRegions returns the unallocated regions of the table in ascending offset
// order, with each region start aligned up to the given granularity.
func (t *PartitionTable) FreeRegions(alignment uint64) []Region {
	occupied := slices.Clone(t.Partitions)

	slices.SortFunc(occupied, func(a, b PartitionEntry) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})

	var regions []Region

	cursor := t.FirstUsable

	for _, entry := range occupied {
		if start := alignUp(cursor, alignment); start < entry.Offset {
			regions = append(regions, Region{
				Offset: start,
				Size:   entry.Offset - start,
			})
		}

		if entry.End() > cursor {
			cursor = entry.End()
		}
	}

	if start := alignUp(cursor, alignment); start < t.LastUsable {
		regions = append(regions, Region{
			Offset: start,
			Size:   t.LastUsable - start,
		})
	}

	return regions
}

// freshTable models the table produced by a CreatePartitionTable step.
func freshTable(kind TableKind, diskSize uint64) *PartitionTable {
	return &PartitionTable{
		Kind: kind,

		// conservative bounds leaving room for both GPT header/entry copies
		FirstUsable: Alignment,
		LastUsable:  alignDown(diskSize-Alignment, Alignment),
	}
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package provision

import (
	"fmt"

	"github.com/siderolabs/go-provision/blkid"
)

// ScanDisk probes a block device and builds the provisioning disk model.
func ScanDisk(path string, opts ...blkid.ProbeOption) (*Disk, error) {
	info, err := blkid.ProbePath(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}

	return DiskFromProbe(path, info), nil
}

// DiskFromProbe converts a probe result into the provisioning disk model.
func DiskFromProbe(path string, info *blkid.Info) *Disk {
	disk := &Disk{
		Path:       path,
		Size:       info.Size,
		SectorSize: uint64(info.SectorSize),
	}

	if info.Name == "gpt" {
		table := &PartitionTable{
			Kind: TableKindGPT,

			FirstUsable: Alignment,
			LastUsable:  alignDown(info.Size-Alignment, Alignment),
		}

		if info.UUID != nil {
			table.DiskGUID = *info.UUID
		}

		for _, part := range info.Parts {
			entry := PartitionEntry{
				Number: int(part.PartitionIndex),

				Offset: part.PartitionOffset,
				Size:   part.PartitionSize,

				Filesystem:     part.Name,
				FilesystemUUID: part.UUID,
			}

			if part.PartitionType != nil {
				entry.TypeGUID = *part.PartitionType
			}

			if part.PartitionUUID != nil {
				entry.GUID = *part.PartitionUUID
			}

			if part.PartitionLabel != nil {
				entry.Label = *part.PartitionLabel
			}

			table.Partitions = append(table.Partitions, entry)
		}

		disk.Table = table

		return disk
	}

	if info.Name != "" {
		disk.Filesystem = info.Name
		disk.FilesystemUUID = info.UUID

		if info.Label != nil {
			disk.FilesystemLabel = *info.Label
		}
	}

	return disk
}

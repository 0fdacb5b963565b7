// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package provision_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-provision/blkid"
	"github.com/siderolabs/go-provision/provision"
)

func TestDiskFromProbeGPT(t *testing.T) {
	t.Parallel()

	diskGUID := uuid.New()
	partGUID := uuid.New()
	fsUUID := uuid.New()

	info := &blkid.Info{
		Size:       10 * provision.GiB,
		SectorSize: 512,
		ProbeResult: blkid.ProbeResult{
			Name: "gpt",
			UUID: &diskGUID,
		},
		Parts: []blkid.NestedProbeResult{
			{
				NestedResult: blkid.NestedResult{
					PartitionUUID:   &partGUID,
					PartitionType:   pointer.To(uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")),
					PartitionLabel:  pointer.To("ESP"),
					PartitionIndex:  1,
					PartitionOffset: provision.MiB,
					PartitionSize:   512 * provision.MiB,
				},
				ProbeResult: blkid.ProbeResult{
					Name: "vfat",
					UUID: &fsUUID,
				},
			},
		},
	}

	disk := provision.DiskFromProbe("/dev/sda", info)

	assert.Equal(t, "/dev/sda", disk.Path)
	assert.Equal(t, 10*provision.GiB, disk.Size)
	assert.Empty(t, disk.Filesystem)

	require.NotNil(t, disk.Table)
	assert.Equal(t, provision.TableKindGPT, disk.Table.Kind)
	assert.Equal(t, diskGUID, disk.Table.DiskGUID)

	require.Len(t, disk.Table.Partitions, 1)

	entry := disk.Table.Partitions[0]
	assert.Equal(t, 1, entry.Number)
	assert.Equal(t, provision.MiB, entry.Offset)
	assert.Equal(t, 512*provision.MiB, entry.Size)
	assert.Equal(t, "ESP", entry.Label)
	assert.Equal(t, partGUID, entry.GUID)
	assert.Equal(t, "vfat", entry.Filesystem)
	require.NotNil(t, entry.FilesystemUUID)
	assert.Equal(t, fsUUID, *entry.FilesystemUUID)
}

func TestDiskFromProbeWholeDiskFilesystem(t *testing.T) {
	t.Parallel()

	fsUUID := uuid.New()
	label := "scratch"

	disk := provision.DiskFromProbe("/dev/sdb", &blkid.Info{
		Size:       4 * provision.GiB,
		SectorSize: 512,
		ProbeResult: blkid.ProbeResult{
			Name:  "extfs",
			UUID:  &fsUUID,
			Label: &label,
		},
	})

	assert.Nil(t, disk.Table)
	assert.Equal(t, "extfs", disk.Filesystem)
	require.NotNil(t, disk.FilesystemUUID)
	assert.Equal(t, fsUUID, *disk.FilesystemUUID)
	assert.Equal(t, "scratch", disk.FilesystemLabel)
}

func TestDiskFromProbeEmpty(t *testing.T) {
	t.Parallel()

	disk := provision.DiskFromProbe("/dev/sdc", &blkid.Info{
		Size:       4 * provision.GiB,
		SectorSize: 512,
	})

	assert.Nil(t, disk.Table)
	assert.Empty(t, disk.Filesystem)
	assert.Nil(t, disk.FilesystemUUID)
}

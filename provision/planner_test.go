// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-provision/provision"
)

func testDisk(path string, size uint64) *provision.Disk {
	return &provision.Disk{
		Path:       path,
		Size:       size,
		SectorSize: 512,
	}
}

func TestPlanWholeDisk(t *testing.T) {
	t.Parallel()

	flattened, err := provision.Resolve("whole_disk_with_swap", testStrategies(t))
	require.NoError(t, err)

	disk := testDisk("/dev/sda", 10*provision.GiB)

	plan, err := flattened.Plan([]*provision.Disk{disk})
	require.NoError(t, err)

	assert.Same(t, disk, plan.Disks["system"])

	require.Len(t, plan.Operations, 4)

	tableOp, ok := plan.Operations[0].(*provision.CreateTableOp)
	require.True(t, ok)
	assert.Equal(t, provision.TableKindGPT, tableOp.Kind)
	assert.Same(t, disk, tableOp.Target)

	boot, ok := plan.Operations[1].(*provision.CreatePartitionOp)
	require.True(t, ok)
	assert.Equal(t, "boot", boot.Alias)
	assert.Equal(t, provision.MiB, boot.Offset)
	assert.Equal(t, 512*provision.MiB, boot.Size)
	assert.Equal(t, "ESP", boot.Label)
	assert.Equal(t, uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"), boot.TypeGUID)

	// root is capped at its maximum, leaving the rest of the gap free
	root, ok := plan.Operations[2].(*provision.CreatePartitionOp)
	require.True(t, ok)
	assert.Equal(t, "root", root.Alias)
	assert.Equal(t, 513*provision.MiB, root.Offset)
	assert.Equal(t, 4*provision.GiB, root.Size)

	swap, ok := plan.Operations[3].(*provision.CreatePartitionOp)
	require.True(t, ok)
	assert.Equal(t, "swap", swap.Alias)
	assert.Equal(t, (513+4*1024)*provision.MiB, swap.Offset)
	assert.Equal(t, provision.GiB, swap.Size)
}

func TestPlanUnboundedPartition(t *testing.T) {
	t.Parallel()

	flattened, err := provision.Resolve("grow", []provision.Strategy{
		{
			Name: "grow",
			Steps: []provision.Step{
				provision.FindDiskStep{Alias: "system"},
				provision.CreatePartitionTableStep{DiskAlias: "system", Kind: provision.TableKindGPT},
				provision.CreatePartitionStep{
					DiskAlias: "system",
					Alias:     "data",
					Size:      provision.AtLeast(1 * provision.GiB),
					Type:      mustType(t, provision.RoleLinuxData),
					Label:     "DATA",
				},
			},
		},
	})
	require.NoError(t, err)

	plan, err := flattened.Plan([]*provision.Disk{testDisk("/dev/sda", 8*provision.GiB)})
	require.NoError(t, err)

	data, ok := plan.Operations[1].(*provision.CreatePartitionOp)
	require.True(t, ok)

	// an unbounded partition consumes the whole gap
	assert.Equal(t, provision.MiB, data.Offset)
	assert.Equal(t, 8*provision.GiB-2*provision.MiB, data.Size)
}

func TestPlanInsufficientSpace(t *testing.T) {
	t.Parallel()

	flattened, err := provision.Resolve("whole_disk", testStrategies(t))
	require.NoError(t, err)

	// too small to even pass disk selection
	_, err = flattened.Plan([]*provision.Disk{testDisk("/dev/sda", 1 * provision.GiB)})
	assert.ErrorIs(t, err, provision.ErrNoDiskMatches)

	// passes selection, but no gap fits the partition
	tight, err := provision.Resolve("tight", []provision.Strategy{
		{
			Name: "tight",
			Steps: []provision.Step{
				provision.FindDiskStep{Alias: "system"},
				provision.CreatePartitionTableStep{DiskAlias: "system", Kind: provision.TableKindGPT},
				provision.CreatePartitionStep{
					DiskAlias: "system",
					Alias:     "big",
					Size:      provision.Exactly(4 * provision.GiB),
					Type:      mustType(t, provision.RoleLinuxData),
				},
			},
		},
	})
	require.NoError(t, err)

	_, err = tight.Plan([]*provision.Disk{testDisk("/dev/sda", 2 * provision.GiB)})
	assert.ErrorIs(t, err, provision.ErrInsufficientSpace)
}

func TestPlanSubSectorConstraint(t *testing.T) {
	t.Parallel()

	flattened, err := provision.Resolve("tiny", []provision.Strategy{
		{
			Name: "tiny",
			Steps: []provision.Step{
				provision.FindDiskStep{Alias: "system"},
				provision.CreatePartitionTableStep{DiskAlias: "system", Kind: provision.TableKindGPT},
				provision.CreatePartitionStep{
					DiskAlias: "system",
					Alias:     "meta",
					Size:      provision.Between(100, 300),
					Type:      mustType(t, provision.RoleLinuxData),
					Label:     "META",
				},
				provision.CreatePartitionStep{
					DiskAlias: "system",
					Alias:     "seal",
					Size:      provision.Exactly(700),
					Type:      mustType(t, provision.RoleLinuxData),
					Label:     "SEAL",
				},
			},
		},
	})
	require.NoError(t, err)

	plan, err := flattened.Plan([]*provision.Disk{testDisk("/dev/sda", 8*provision.GiB)})
	require.NoError(t, err)

	require.Len(t, plan.Operations, 3)

	// bounds below the sector size round up to one sector instead of
	// degenerating to a zero-size partition
	meta, ok := plan.Operations[1].(*provision.CreatePartitionOp)
	require.True(t, ok)
	assert.EqualValues(t, provision.MiB, meta.Offset)
	assert.EqualValues(t, 512, meta.Size)

	seal, ok := plan.Operations[2].(*provision.CreatePartitionOp)
	require.True(t, ok)
	assert.EqualValues(t, 2*provision.MiB, seal.Offset)
	assert.EqualValues(t, 1024, seal.Size)
}

func TestSelectDiskFilters(t *testing.T) {
	t.Parallel()

	pool := []*provision.Disk{
		testDisk("/dev/sda", 4*provision.GiB),
		testDisk("/dev/nvme0n1", 32*provision.GiB),
		testDisk("/dev/nvme1n1", 64*provision.GiB),
	}

	strategyWithSelector := func(selector provision.DiskSelector) *provision.FlattenedStrategy {
		flattened, err := provision.Resolve("sel", []provision.Strategy{
			{
				Name: "sel",
				Steps: []provision.Step{
					provision.FindDiskStep{Alias: "target", Selector: selector},
				},
			},
		})
		require.NoError(t, err)

		return flattened
	}

	// glob selection
	plan, err := strategyWithSelector(provision.DiskSelector{PathGlob: "/dev/nvme*"}).Plan(pool)
	require.NoError(t, err)
	assert.Equal(t, "/dev/nvme0n1", plan.Disks["target"].Path)

	// minimum size selection
	plan, err = strategyWithSelector(provision.DiskSelector{MinSize: 48 * provision.GiB}).Plan(pool)
	require.NoError(t, err)
	assert.Equal(t, "/dev/nvme1n1", plan.Disks["target"].Path)

	// no match
	_, err = strategyWithSelector(provision.DiskSelector{MinSize: 128 * provision.GiB}).Plan(pool)
	assert.ErrorIs(t, err, provision.ErrNoDiskMatches)

	// ambiguous unique match
	_, err = strategyWithSelector(provision.DiskSelector{PathGlob: "/dev/nvme*", Unique: true}).Plan(pool)
	assert.ErrorIs(t, err, provision.ErrAmbiguousDiskMatch)

	// maximum size selection
	plan, err = strategyWithSelector(provision.DiskSelector{MaxSize: 8 * provision.GiB}).Plan(pool)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda", plan.Disks["target"].Path)

	// size window
	plan, err = strategyWithSelector(provision.DiskSelector{MinSize: 16 * provision.GiB, MaxSize: 48 * provision.GiB}).Plan(pool)
	require.NoError(t, err)
	assert.Equal(t, "/dev/nvme0n1", plan.Disks["target"].Path)

	_, err = strategyWithSelector(provision.DiskSelector{MaxSize: provision.GiB}).Plan(pool)
	assert.ErrorIs(t, err, provision.ErrNoDiskMatches)
}

func TestSelectDiskFilesystemFilters(t *testing.T) {
	t.Parallel()

	fsUUID := uuid.MustParse("3a950fb0-72ac-4f51-bf80-52d9dbea7c30")

	plain := testDisk("/dev/sda", 4*provision.GiB)

	formatted := testDisk("/dev/sdb", 4*provision.GiB)
	formatted.Filesystem = "ext4"
	formatted.FilesystemUUID = &fsUUID
	formatted.FilesystemLabel = "scratch-data"

	pool := []*provision.Disk{plain, formatted}

	strategyWithSelector := func(selector provision.DiskSelector) *provision.FlattenedStrategy {
		flattened, err := provision.Resolve("sel", []provision.Strategy{
			{
				Name: "sel",
				Steps: []provision.Step{
					provision.FindDiskStep{Alias: "target", Selector: selector},
				},
			},
		})
		require.NoError(t, err)

		return flattened
	}

	// filesystem UUID selection
	plan, err := strategyWithSelector(provision.DiskSelector{FilesystemUUID: &fsUUID}).Plan(pool)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb", plan.Disks["target"].Path)

	otherUUID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	_, err = strategyWithSelector(provision.DiskSelector{FilesystemUUID: &otherUUID}).Plan(pool)
	assert.ErrorIs(t, err, provision.ErrNoDiskMatches)

	// filesystem label glob selection
	plan, err = strategyWithSelector(provision.DiskSelector{FilesystemLabel: "scratch-*"}).Plan(pool)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb", plan.Disks["target"].Path)

	_, err = strategyWithSelector(provision.DiskSelector{FilesystemLabel: "persistent-*"}).Plan(pool)
	assert.ErrorIs(t, err, provision.ErrNoDiskMatches)
}

func TestSelectDiskBoundOnce(t *testing.T) {
	t.Parallel()

	flattened, err := provision.Resolve("two", []provision.Strategy{
		{
			Name: "two",
			Steps: []provision.Step{
				provision.FindDiskStep{Alias: "first"},
				provision.FindDiskStep{Alias: "second"},
			},
		},
	})
	require.NoError(t, err)

	pool := []*provision.Disk{
		testDisk("/dev/sda", 4*provision.GiB),
		testDisk("/dev/sdb", 4*provision.GiB),
	}

	plan, err := flattened.Plan(pool)
	require.NoError(t, err)

	// a disk bound to one alias is not offered to the next step
	assert.NotSame(t, plan.Disks["first"], plan.Disks["second"])
}

func TestFindPartition(t *testing.T) {
	t.Parallel()

	espGUID := uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")

	disk := testDisk("/dev/sda", 10*provision.GiB)
	disk.Table = &provision.PartitionTable{
		Kind:        provision.TableKindGPT,
		FirstUsable: provision.MiB,
		LastUsable:  10*provision.GiB - provision.MiB,
		Partitions: []provision.PartitionEntry{
			{
				Number:   1,
				Offset:   provision.MiB,
				Size:     512 * provision.MiB,
				TypeGUID: espGUID,
				Label:    "ESP",
			},
			{
				Number:   2,
				Offset:   513 * provision.MiB,
				Size:     provision.GiB,
				TypeGUID: uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"),
				Label:    "DATA",
			},
		},
	}

	flattened, err := provision.Resolve("find", []provision.Strategy{
		{
			Name: "find",
			Steps: []provision.Step{
				provision.FindDiskStep{Alias: "system", Selector: provision.DiskSelector{TableKind: provision.TableKindGPT}},
				provision.FindPartitionStep{
					DiskAlias: "system",
					Alias:     "esp",
					Criteria:  provision.PartitionCriteria{Type: mustType(t, provision.RoleEFISystemPartition)},
				},
				provision.FindPartitionStep{
					DiskAlias: "system",
					Alias:     "data",
					Criteria:  provision.PartitionCriteria{LabelGlob: "DAT*"},
				},
			},
		},
	})
	require.NoError(t, err)

	plan, err := flattened.Plan([]*provision.Disk{disk})
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Partitions["esp"].Number)
	assert.Equal(t, 2, plan.Partitions["data"].Number)
}

func TestPlanExistingTable(t *testing.T) {
	t.Parallel()

	disk := testDisk("/dev/sda", 10*provision.GiB)
	disk.Table = &provision.PartitionTable{
		Kind:        provision.TableKindGPT,
		FirstUsable: provision.MiB,
		LastUsable:  10*provision.GiB - provision.MiB,
		Partitions: []provision.PartitionEntry{
			{
				Number:   1,
				Offset:   provision.MiB,
				Size:     512 * provision.MiB,
				TypeGUID: uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"),
				Label:    "ESP",
			},
		},
	}

	flattened, err := provision.Resolve("extend", []provision.Strategy{
		{
			Name: "extend",
			Steps: []provision.Step{
				provision.FindDiskStep{Alias: "system", Selector: provision.DiskSelector{TableKind: provision.TableKindGPT}},
				provision.CreatePartitionStep{
					DiskAlias: "system",
					Alias:     "data",
					Size:      provision.Exactly(1 * provision.GiB),
					Type:      mustType(t, provision.RoleLinuxData),
					Label:     "DATA",
				},
			},
		},
	})
	require.NoError(t, err)

	plan, err := flattened.Plan([]*provision.Disk{disk})
	require.NoError(t, err)

	// the new partition lands after the existing one, no table recreation
	require.Len(t, plan.Operations, 1)

	data, ok := plan.Operations[0].(*provision.CreatePartitionOp)
	require.True(t, ok)
	assert.Equal(t, 513*provision.MiB, data.Offset)
	assert.Equal(t, provision.GiB, data.Size)
}

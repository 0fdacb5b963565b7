// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package blkid_test

import (
	"context"
	"errors"
	"fmt"
	randv2 "math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/freddierice/go-losetup/v2"
	"github.com/google/uuid"
	"github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-provision/blkid"
	"github.com/siderolabs/go-provision/block"
)

const (
	MiB = 1024 * 1024
	GiB = 1024 * MiB
)

func run(t *testing.T, name string, args ...string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s is not available", name)
	}

	out, err := cmd.Run(name, args...)
	if err != nil {
		t.Logf("%s output:\n%s", name, out)
	}

	require.NoError(t, err)
}

func xfsSetup(t *testing.T, path string) {
	t.Helper()

	run(t, "mkfs.xfs", "--unsupported", "-L", "somelabel", path)
}

func extfsSetup(t *testing.T, path string) {
	t.Helper()

	run(t, "mkfs.ext4", "-L", "extlabel", path)
}

func vfatSetup(t *testing.T, path string) {
	t.Helper()

	run(t, "mkfs.vfat", "-n", "FATLABEL", path)
}

func btrfsSetup(t *testing.T, path string) {
	t.Helper()

	run(t, "mkfs.btrfs", "-f", "-L", "btrfslabel", path)
}

func f2fsSetup(t *testing.T, path string) {
	t.Helper()

	run(t, "mkfs.f2fs", "-f", "-l", "f2fslabel", path)
}

func luksSetup(t *testing.T, path string) {
	t.Helper()

	run(t, "cryptsetup", "luksFormat", "--label", "cryptlabel", "--key-file", "/dev/urandom", "--keyfile-size", "32", path)
}

//nolint:gocognit
func TestProbePathFilesystems(t *testing.T) {
	for _, test := range []struct { //nolint:govet
		name string

		size  uint64
		setup func(*testing.T, string)

		expectedName  string
		expectedLabel string
		expectUUID    bool
		expectSerial  bool

		expectedBlockSize   []uint32
		expectedFSBlockSize []uint32
		expectedFSSize      uint64
	}{
		{
			name: "xfs",

			size:  500 * MiB,
			setup: xfsSetup,

			expectedName:  "xfs",
			expectedLabel: "somelabel",
			expectUUID:    true,

			expectedBlockSize:   []uint32{512},
			expectedFSBlockSize: []uint32{4096},
			expectedFSSize:      436 * MiB,
		},
		{
			name: "extfs",

			size:  500 * MiB,
			setup: extfsSetup,

			expectedName:  "extfs",
			expectedLabel: "extlabel",
			expectUUID:    true,

			expectedBlockSize:   []uint32{1024, 4096},
			expectedFSBlockSize: []uint32{1024, 4096},
			expectedFSSize:      500 * MiB,
		},
		{
			name: "vfat",

			size:  100 * MiB,
			setup: vfatSetup,

			expectedName:  "vfat",
			expectedLabel: "FATLABEL",
			expectSerial:  true,

			expectedBlockSize:   []uint32{512},
			expectedFSBlockSize: []uint32{2048},
			expectedFSSize:      100 * MiB,
		},
		{
			name: "btrfs",

			size:  500 * MiB,
			setup: btrfsSetup,

			expectedName:  "btrfs",
			expectedLabel: "btrfslabel",
			expectUUID:    true,

			expectedBlockSize:   []uint32{4096},
			expectedFSBlockSize: []uint32{16384},
			expectedFSSize:      500 * MiB,
		},
		{
			name: "f2fs",

			size:  500 * MiB,
			setup: f2fsSetup,

			expectedName:  "f2fs",
			expectedLabel: "f2fslabel",
			expectUUID:    true,

			expectedBlockSize:   []uint32{4096},
			expectedFSBlockSize: []uint32{4096},
			expectedFSSize:      500 * MiB,
		},
		{
			name: "luks",

			size:  500 * MiB,
			setup: luksSetup,

			expectedName:  "luks",
			expectedLabel: "cryptlabel",
			expectUUID:    true,
		},
	} {
		for _, useLoopDevice := range []bool{false, true} {
			t.Run(fmt.Sprintf("loop=%v", useLoopDevice), func(t *testing.T) {
				t.Run(test.name, func(t *testing.T) {
					if useLoopDevice && os.Geteuid() != 0 {
						t.Skip("test requires root privileges")
					}

					tmpDir := t.TempDir()

					rawImage := filepath.Join(tmpDir, "image.raw")

					f, err := os.Create(rawImage)
					require.NoError(t, err)

					require.NoError(t, f.Truncate(int64(test.size)))
					require.NoError(t, f.Close())

					var probePath string

					if useLoopDevice {
						loDev := losetupAttachHelper(t, rawImage, false)

						t.Cleanup(func() {
							assert.NoError(t, loDev.Detach())
						})

						probePath = loDev.Path()
					} else {
						probePath = rawImage
					}

					test.setup(t, probePath)

					logger := zaptest.NewLogger(t)

					info, err := blkid.ProbePath(probePath, blkid.WithProbeLogger(logger))
					require.NoError(t, err)

					if useLoopDevice {
						require.NotNil(t, info.BlockDevice)

						// loop devices carry no hardware model and are never
						// spinning media
						model, modelErr := info.BlockDevice.GetModel()
						require.NoError(t, modelErr)
						assert.Empty(t, model)

						rotational, rotErr := info.BlockDevice.IsRotational()
						require.NoError(t, rotErr)
						assert.False(t, rotational)
					} else {
						assert.Nil(t, info.BlockDevice)
					}

					assert.EqualValues(t, block.DefaultBlockSize, info.IOSize)
					assert.EqualValues(t, test.size, info.Size)

					assert.Equal(t, test.expectedName, info.Name)
					assert.False(t, info.Corrupted)

					if test.expectedLabel != "" {
						require.NotNil(t, info.Label)
						assert.Equal(t, test.expectedLabel, *info.Label)
					} else {
						assert.Nil(t, info.Label)
					}

					if test.expectUUID {
						require.NotNil(t, info.UUID)
						t.Logf("UUID: %s", *info.UUID)
					} else {
						assert.Nil(t, info.UUID)
					}

					if test.expectSerial {
						require.NotNil(t, info.SerialID)
					}

					if test.expectedBlockSize != nil {
						assert.Contains(t, test.expectedBlockSize, info.BlockSize)
					}

					if test.expectedFSBlockSize != nil {
						assert.Contains(t, test.expectedFSBlockSize, info.FilesystemBlockSize)
					}

					if test.expectedFSSize != 0 {
						assert.Equal(t, test.expectedFSSize, info.ProbedSize)
					}
				})
			})
		}
	}
}

func gptSetup(t *testing.T, path string) {
	t.Helper()

	if _, err := exec.LookPath("sfdisk"); err != nil {
		t.Skip("sfdisk is not available")
	}

	script := strings.TrimSpace(`
label: gpt
label-id: DDDA0816-8B53-47BF-A813-9EBB1F73AAA2
size=      204800, type=C12A7328-F81F-11D2-BA4B-00A0C93EC93B, uuid=3C047FF8-E35C-4918-A061-B4C1E5A291E5, name="EFI"
size=      409600, type=0FC63DAF-8483-4772-8E79-3D69D8477DE4, uuid=E8516F6B-F03E-45AE-8D9D-9958456EE7E4, name="BOOT"
                   type=0FC63DAF-8483-4772-8E79-3D69D8477DE4, uuid=0F06E81A-E78D-426B-A078-30A01AAB3FB7, name="DATA"
`)

	_, err := cmd.RunContext(cmd.WithStdin(context.Background(), strings.NewReader(script)), "sfdisk", path)
	require.NoError(t, err)
}

func TestProbePathGPT(t *testing.T) {
	tmpDir := t.TempDir()

	rawImage := filepath.Join(tmpDir, "image.raw")

	f, err := os.Create(rawImage)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(int64(1*GiB)))
	require.NoError(t, f.Close())

	gptSetup(t, rawImage)

	info, err := blkid.ProbePath(rawImage, blkid.WithProbeLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, "gpt", info.Name)
	assert.True(t, info.Verified)

	require.NotNil(t, info.UUID)
	assert.Equal(t, uuid.MustParse("DDDA0816-8B53-47BF-A813-9EBB1F73AAA2"), *info.UUID)

	require.Len(t, info.Parts, 3)

	assert.Equal(t, blkid.NestedResult{
		PartitionUUID:   pointer.To(uuid.MustParse("3C047FF8-E35C-4918-A061-B4C1E5A291E5")),
		PartitionType:   pointer.To(uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")),
		PartitionLabel:  pointer.To("EFI"),
		PartitionIndex:  1,
		PartitionOffset: 1 * MiB,
		PartitionSize:   100 * MiB,
	}, info.Parts[0].NestedResult)

	assert.Equal(t, blkid.NestedResult{
		PartitionUUID:   pointer.To(uuid.MustParse("E8516F6B-F03E-45AE-8D9D-9958456EE7E4")),
		PartitionType:   pointer.To(uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")),
		PartitionLabel:  pointer.To("BOOT"),
		PartitionIndex:  2,
		PartitionOffset: 101 * MiB,
		PartitionSize:   200 * MiB,
	}, info.Parts[1].NestedResult)

	// the last partition takes the rest of the disk, don't pin its exact size
	require.NotNil(t, info.Parts[2].PartitionLabel)
	assert.Equal(t, "DATA", *info.Parts[2].PartitionLabel)
	assert.EqualValues(t, 301*MiB, info.Parts[2].PartitionOffset)
}

func TestProbePathCorrupted(t *testing.T) {
	tmpDir := t.TempDir()

	rawImage := filepath.Join(tmpDir, "image.raw")

	f, err := os.Create(rawImage)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(int64(500*MiB)))
	require.NoError(t, f.Close())

	extfsSetup(t, rawImage)

	// flip a byte in the middle of the superblock, keeping the magic intact
	f, err = os.OpenFile(rawImage, os.O_RDWR, 0)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte{0xff}, 1024+0x78)
	require.NoError(t, err)

	require.NoError(t, f.Close())

	info, err := blkid.ProbePath(rawImage, blkid.WithProbeLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, "extfs", info.Name)
	assert.True(t, info.Corrupted)
	assert.Nil(t, info.UUID)
}

func TestProbePathEmpty(t *testing.T) {
	tmpDir := t.TempDir()

	rawImage := filepath.Join(tmpDir, "image.raw")

	f, err := os.Create(rawImage)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(int64(100*MiB)))
	require.NoError(t, f.Close())

	info, err := blkid.ProbePath(rawImage)
	require.NoError(t, err)

	assert.Empty(t, info.Name)
	assert.Nil(t, info.UUID)
	assert.Empty(t, info.Parts)
}

func losetupAttachHelper(t *testing.T, rawImage string, readonly bool) losetup.Device {
	t.Helper()

	for i := 0; i < 10; i++ {
		loDev, err := losetup.Attach(rawImage, 0, readonly)
		if err != nil {
			if errors.Is(err, unix.EBUSY) {
				spraySleep := max(randv2.ExpFloat64(), 2.0)

				t.Logf("retrying after %v seconds", spraySleep)

				time.Sleep(time.Duration(spraySleep * float64(time.Second)))

				continue
			}
		}

		require.NoError(t, err)

		return loDev
	}

	t.Fatal("failed to attach loop device") //nolint:revive

	panic("unreachable")
}

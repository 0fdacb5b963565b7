// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptstructs_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-provision/internal/gptstructs"
	"github.com/siderolabs/go-provision/internal/gptutil"
)

type memReader struct {
	*bytes.Reader
}

func (r *memReader) GetSectorSize() uint { return 512 }

const (
	sectorSize = 512
	numSectors = 2048
)

func buildDisk(t *testing.T) ([]byte, uuid.UUID) {
	t.Helper()

	disk := make([]byte, sectorSize*numSectors)
	lastLBA := uint64(numSectors - 1)

	entriesBuf := make([]byte, gptstructs.EntrySize*gptstructs.NumEntries)

	partGUID := uuid.New()

	entry := gptstructs.Entry(entriesBuf[:gptstructs.EntrySize])
	entry.SetTypeGUID(gptutil.UUIDToGUID(partGUID[:]))
	entry.SetPartGUID(gptutil.UUIDToGUID(partGUID[:]))
	entry.SetStartingLBA(64)
	entry.SetEndingLBA(127)

	diskGUID := uuid.New()

	hdr := gptstructs.Header(make([]byte, sectorSize))
	hdr.SetSignature(gptstructs.HeaderSignature)
	hdr.SetRevision(0x00010000)
	hdr.SetHeaderSize(gptstructs.HeaderSize)
	hdr.SetMyLBA(1)
	hdr.SetAlternateLBA(lastLBA)
	hdr.SetFirstUsableLBA(34)
	hdr.SetLastUsableLBA(lastLBA - 33)
	hdr.SetDiskGUID(gptutil.UUIDToGUID(diskGUID[:]))
	hdr.SetEntriesLBA(2)
	hdr.SetNumEntries(gptstructs.NumEntries)
	hdr.SetEntrySize(gptstructs.EntrySize)
	hdr.SetEntriesCRC32(crc32.ChecksumIEEE(entriesBuf))
	hdr.SetHeaderCRC32(hdr.CalculateChecksum())

	copy(disk[sectorSize:], hdr)
	copy(disk[2*sectorSize:], entriesBuf)

	return disk, diskGUID
}

func TestReadHeader(t *testing.T) {
	t.Parallel()

	disk, diskGUID := buildDisk(t)

	hdr, entries, err := gptstructs.ReadHeader(&memReader{bytes.NewReader(disk)}, 1, numSectors-1)
	require.NoError(t, err)
	require.NotNil(t, hdr)

	gotGUID, err := uuid.FromBytes(gptutil.GUIDToUUID(hdr.DiskGUID()))
	require.NoError(t, err)
	assert.Equal(t, diskGUID, gotGUID)

	require.Len(t, entries, gptstructs.NumEntries)
	assert.EqualValues(t, 64, entries[0].StartingLBA())
	assert.EqualValues(t, 127, entries[0].EndingLBA())
}

func TestReadHeaderBadCRC(t *testing.T) {
	t.Parallel()

	disk, _ := buildDisk(t)

	// corrupt a header byte past the CRC field
	disk[sectorSize+40] ^= 0xff

	hdr, entries, err := gptstructs.ReadHeader(&memReader{bytes.NewReader(disk)}, 1, numSectors-1)
	require.NoError(t, err)
	assert.Nil(t, hdr)
	assert.Nil(t, entries)
}

func TestReadHeaderNoSignature(t *testing.T) {
	t.Parallel()

	disk := make([]byte, sectorSize*numSectors)

	hdr, _, err := gptstructs.ReadHeader(&memReader{bytes.NewReader(disk)}, 1, numSectors-1)
	require.NoError(t, err)
	assert.Nil(t, hdr)
}

func TestEntryName(t *testing.T) {
	t.Parallel()

	entry := gptstructs.Entry(make([]byte, gptstructs.EntrySize))

	name := make([]byte, 0, 8)
	for _, r := range "BOOT" {
		name = binary.LittleEndian.AppendUint16(name, uint16(r))
	}

	entry.SetName(name)

	assert.Equal(t, name, entry.Name()[:len(name)])
}

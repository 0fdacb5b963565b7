// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vfat

import "encoding/binary"

// BootSectorSize is the number of bytes read to inspect the boot sector.
const BootSectorSize = 512

// BootSector is a byte-slice backed view of the FAT boot sector.
//
// All fields are little-endian.
type BootSector []byte

// SectorSize returns the sector size in bytes.
func (b BootSector) SectorSize() uint16 { return binary.LittleEndian.Uint16(b[11:13]) }

// ClusterSize returns the number of sectors per cluster.
func (b BootSector) ClusterSize() uint8 { return b[13] }

// Reserved returns the number of reserved sectors.
func (b BootSector) Reserved() uint16 { return binary.LittleEndian.Uint16(b[14:16]) }

// FATs returns the number of file allocation tables.
func (b BootSector) FATs() uint8 { return b[16] }

// DirEntries returns the number of root directory entries.
func (b BootSector) DirEntries() uint16 { return binary.LittleEndian.Uint16(b[17:19]) }

// Sectors returns the 16-bit total sector count (zero for larger volumes).
func (b BootSector) Sectors() uint16 { return binary.LittleEndian.Uint16(b[19:21]) }

// Media returns the media descriptor byte.
func (b BootSector) Media() uint8 { return b[21] }

// FATLength returns the 16-bit FAT size in sectors (zero for FAT32).
func (b BootSector) FATLength() uint16 { return binary.LittleEndian.Uint16(b[22:24]) }

// TotalSect returns the 32-bit total sector count.
func (b BootSector) TotalSect() uint32 { return binary.LittleEndian.Uint32(b[32:36]) }

// FAT32Length returns the 32-bit FAT size in sectors (FAT32 only).
func (b BootSector) FAT32Length() uint32 { return binary.LittleEndian.Uint32(b[36:40]) }

// FAT16VolID returns the volume serial number from the FAT12/FAT16 EBPB.
func (b BootSector) FAT16VolID() uint32 { return binary.LittleEndian.Uint32(b[39:43]) }

// FAT16Label returns the volume label from the FAT12/FAT16 EBPB.
func (b BootSector) FAT16Label() []byte { return b[43:54] }

// FAT32VolID returns the volume serial number from the FAT32 EBPB.
func (b BootSector) FAT32VolID() uint32 { return binary.LittleEndian.Uint32(b[67:71]) }

// FAT32Label returns the volume label from the FAT32 EBPB.
func (b BootSector) FAT32Label() []byte { return b[71:82] }

// IsFAT32 returns true if the boot sector describes a FAT32 volume.
func (b BootSector) IsFAT32() bool {
	return b.FATLength() == 0 && b.FAT32Length() != 0
}

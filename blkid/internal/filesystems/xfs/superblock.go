// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package xfs

import "encoding/binary"

// SuperblockSize is the number of bytes read to inspect the superblock.
const SuperblockSize = 512

// SuperBlock is a byte-slice backed view of the XFS superblock.
//
// XFS stores its fields big-endian, except for the CRC field which is
// little-endian.
type SuperBlock []byte

// BlockSize returns the filesystem block size in bytes.
func (s SuperBlock) BlockSize() uint32 { return binary.BigEndian.Uint32(s[0x4:0x8]) }

// DBlocks returns the number of data blocks.
func (s SuperBlock) DBlocks() uint64 { return binary.BigEndian.Uint64(s[0x8:0x10]) }

// UUID returns the filesystem UUID as raw bytes.
func (s SuperBlock) UUID() []byte { return s[0x20:0x30] }

// LogStart returns the starting block of the internal log.
func (s SuperBlock) LogStart() uint64 { return binary.BigEndian.Uint64(s[0x30:0x38]) }

// RextSize returns the realtime extent size in blocks.
func (s SuperBlock) RextSize() uint32 { return binary.BigEndian.Uint32(s[0x50:0x54]) }

// AGCount returns the number of allocation groups.
func (s SuperBlock) AGCount() uint32 { return binary.BigEndian.Uint32(s[0x58:0x5c]) }

// LogBlocks returns the number of blocks in the internal log.
func (s SuperBlock) LogBlocks() uint32 { return binary.BigEndian.Uint32(s[0x60:0x64]) }

// VersionNum returns the superblock version field.
func (s SuperBlock) VersionNum() uint16 { return binary.BigEndian.Uint16(s[0x64:0x66]) }

// SectSize returns the sector size in bytes.
func (s SuperBlock) SectSize() uint16 { return binary.BigEndian.Uint16(s[0x66:0x68]) }

// InodeSize returns the inode size in bytes.
func (s SuperBlock) InodeSize() uint16 { return binary.BigEndian.Uint16(s[0x68:0x6a]) }

// FName returns the volume label as raw bytes.
func (s SuperBlock) FName() []byte { return s[0x6c:0x78] }

// BlockLog returns log2 of the block size.
func (s SuperBlock) BlockLog() uint8 { return s[0x78] }

// SectLog returns log2 of the sector size.
func (s SuperBlock) SectLog() uint8 { return s[0x79] }

// InodeLog returns log2 of the inode size.
func (s SuperBlock) InodeLog() uint8 { return s[0x7a] }

// InopBlog returns log2 of the number of inodes per block.
func (s SuperBlock) InopBlog() uint8 { return s[0x7b] }

// IMaxPct returns the maximum percentage of space used for inodes.
func (s SuperBlock) IMaxPct() uint8 { return s[0x7f] }

// CRC returns the V5 superblock checksum (little-endian).
func (s SuperBlock) CRC() uint32 { return binary.LittleEndian.Uint32(s[0xe0:0xe4]) }

// crcOffset is the byte offset of the CRC field within the superblock.
const crcOffset = 0xe0

// VersionNumber constants.
const (
	versionMask = 0x000f
	version5    = 5
)

// IsV5 returns true for the V5 (CRC-enabled) superblock format.
func (s SuperBlock) IsV5() bool {
	return s.VersionNum()&versionMask == version5
}

// Superblock geometry limits.
const (
	minBlocksizeLog  = 9
	maxBlocksizeLog  = 16
	minSectorsizeLog = 9
	maxSectorsizeLog = 15
	dinodeMinLog     = 8
	dinodeMaxLog     = 11

	maxRtExtSize = 1024 * 1024 * 1024
	minRtExtSize = 4 * 1024
)

// Valid performs sanity checks on the superblock geometry.
//
//nolint:gocyclo,cyclop
func (s SuperBlock) Valid() bool {
	if s.AGCount() == 0 ||
		s.SectLog() < minSectorsizeLog ||
		s.SectLog() > maxSectorsizeLog ||
		s.SectSize() != (1<<s.SectLog()) ||
		s.BlockLog() < minBlocksizeLog ||
		s.BlockLog() > maxBlocksizeLog ||
		s.BlockSize() != (1<<s.BlockLog()) ||
		s.InodeLog() < dinodeMinLog ||
		s.InodeLog() > dinodeMaxLog ||
		s.InodeSize() != (1<<s.InodeLog()) ||
		(s.BlockLog()-s.InodeLog() != s.InopBlog()) ||
		(uint64(s.RextSize())*uint64(s.BlockSize()) > maxRtExtSize) ||
		(uint64(s.RextSize())*uint64(s.BlockSize()) < minRtExtSize) ||
		s.IMaxPct() > 100 ||
		s.DBlocks() == 0 {
		return false
	}

	return true
}

// FilesystemSize returns the size of the filesystem in bytes.
func (s SuperBlock) FilesystemSize() uint64 {
	logBlocks := uint32(0)

	if s.LogStart() != 0 {
		logBlocks = s.LogBlocks()
	}

	return (s.DBlocks() - uint64(logBlocks)) * uint64(s.BlockSize())
}

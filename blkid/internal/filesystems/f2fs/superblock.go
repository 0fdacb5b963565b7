// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package f2fs

import "encoding/binary"

// SuperblockOffset is the location of the superblock.
const SuperblockOffset = 0x400

// SuperblockSize is the size of the on-disk superblock structure.
const SuperblockSize = 3072

// SuperBlock is a byte-slice backed view of the F2FS superblock.
//
// All fields are little-endian.
type SuperBlock []byte

// Magic returns the magic field.
func (s SuperBlock) Magic() uint32 { return binary.LittleEndian.Uint32(s[0:4]) }

// LogBlockSize returns log2 of the block size.
func (s SuperBlock) LogBlockSize() uint32 { return binary.LittleEndian.Uint32(s[16:20]) }

// ChecksumOffset returns the offset of the checksum field within the superblock.
func (s SuperBlock) ChecksumOffset() uint32 { return binary.LittleEndian.Uint32(s[32:36]) }

// BlockCount returns the total number of blocks.
func (s SuperBlock) BlockCount() uint64 { return binary.LittleEndian.Uint64(s[36:44]) }

// UUID returns the filesystem UUID as raw bytes.
func (s SuperBlock) UUID() []byte { return s[108:124] }

// VolumeName returns the volume label encoded as UTF-16LE.
func (s SuperBlock) VolumeName() []byte { return s[124 : 124+1024] }

// BlockSize returns the block size in bytes.
func (s SuperBlock) BlockSize() uint32 { return 1 << s.LogBlockSize() }

// FilesystemSize returns the size of the filesystem in bytes.
func (s SuperBlock) FilesystemSize() uint64 {
	return s.BlockCount() * uint64(s.BlockSize())
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ext

import "encoding/binary"

// SuperblockSize is the size of the on-disk superblock structure.
const SuperblockSize = 1024

// SuperBlock is a byte-slice backed view of the extfs superblock.
//
// All multi-byte fields are little-endian.
type SuperBlock []byte

// BlocksCountLo returns the low 32 bits of the filesystem block count.
func (s SuperBlock) BlocksCountLo() uint32 { return binary.LittleEndian.Uint32(s[0x4:0x8]) }

// LogBlockSize returns the block size as a shift of 1024.
func (s SuperBlock) LogBlockSize() uint32 { return binary.LittleEndian.Uint32(s[0x18:0x1c]) }

// Magic returns the superblock magic.
func (s SuperBlock) Magic() uint16 { return binary.LittleEndian.Uint16(s[0x38:0x3a]) }

// FeatureCompat returns the compatible feature flags.
func (s SuperBlock) FeatureCompat() uint32 { return binary.LittleEndian.Uint32(s[0x5c:0x60]) }

// FeatureIncompat returns the incompatible feature flags.
func (s SuperBlock) FeatureIncompat() uint32 { return binary.LittleEndian.Uint32(s[0x60:0x64]) }

// FeatureROCompat returns the read-only compatible feature flags.
func (s SuperBlock) FeatureROCompat() uint32 { return binary.LittleEndian.Uint32(s[0x64:0x68]) }

// UUID returns the filesystem UUID as raw bytes.
func (s SuperBlock) UUID() []byte { return s[0x68:0x78] }

// VolumeName returns the volume label as raw bytes.
func (s SuperBlock) VolumeName() []byte { return s[0x78:0x88] }

// BlocksCountHi returns the high 32 bits of the filesystem block count.
func (s SuperBlock) BlocksCountHi() uint32 { return binary.LittleEndian.Uint32(s[0x150:0x154]) }

// Checksum returns the crc32c checksum of the superblock.
func (s SuperBlock) Checksum() uint32 { return binary.LittleEndian.Uint32(s[0x3fc:0x400]) }

// BlockSize returns the block size of the filesystem.
func (s SuperBlock) BlockSize() uint32 {
	if s.LogBlockSize() >= 32 {
		return 0
	}

	return 1024 << s.LogBlockSize()
}

// FilesystemSize returns the size of the filesystem in bytes.
func (s SuperBlock) FilesystemSize() uint64 {
	blocks := uint64(s.BlocksCountHi())<<32 | uint64(s.BlocksCountLo())

	return blocks * uint64(s.BlockSize())
}

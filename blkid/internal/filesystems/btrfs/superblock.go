// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package btrfs

import "encoding/binary"

// SuperblockOffset is the location of the primary superblock.
const SuperblockOffset = 0x10000

// SuperblockSize is the size of the on-disk superblock.
const SuperblockSize = 4096

// SuperBlock is a byte-slice backed view of the btrfs superblock.
//
// All fields are little-endian.
type SuperBlock []byte

// Csum returns the stored checksum bytes.
func (s SuperBlock) Csum() []byte { return s[0:32] }

// FSID returns the filesystem UUID as raw bytes.
func (s SuperBlock) FSID() []byte { return s[0x20:0x30] }

// TotalBytes returns the size of the filesystem in bytes.
func (s SuperBlock) TotalBytes() uint64 { return binary.LittleEndian.Uint64(s[0x70:0x78]) }

// SectorSize returns the sector size in bytes.
func (s SuperBlock) SectorSize() uint32 { return binary.LittleEndian.Uint32(s[0x90:0x94]) }

// NodeSize returns the tree node size in bytes.
func (s SuperBlock) NodeSize() uint32 { return binary.LittleEndian.Uint32(s[0x94:0x98]) }

// CsumType returns the checksum algorithm identifier.
func (s SuperBlock) CsumType() uint16 { return binary.LittleEndian.Uint16(s[0xc4:0xc6]) }

// Label returns the volume label as raw bytes.
func (s SuperBlock) Label() []byte { return s[0x12b : 0x12b+256] }

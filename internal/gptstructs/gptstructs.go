// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package gptstructs provides encoded definitions for GPT on-disk structures.
package gptstructs

import (
	"encoding/binary"
)

// HeaderSignature is the signature of the GPT header, ASCII "EFI PART".
const HeaderSignature = 0x5452415020494645

// Sizes of on-disk structures.
const (
	HeaderSize = 92
	EntrySize  = 128

	// NumEntries is the number of entries in the GPT.
	NumEntries = 128
)

// Header is a byte-slice backed view of the GPT header.
//
// All multi-byte fields are little-endian per the UEFI specification.
type Header []byte

// Signature returns the header signature field.
func (h Header) Signature() uint64 { return binary.LittleEndian.Uint64(h[0:8]) }

// Revision returns the header revision field.
func (h Header) Revision() uint32 { return binary.LittleEndian.Uint32(h[8:12]) }

// HeaderSize returns the size of the header in bytes.
func (h Header) HeaderSize() uint32 { return binary.LittleEndian.Uint32(h[12:16]) }

// HeaderCRC32 returns the CRC32 of the header.
func (h Header) HeaderCRC32() uint32 { return binary.LittleEndian.Uint32(h[16:20]) }

// MyLBA returns the LBA of this copy of the header.
func (h Header) MyLBA() uint64 { return binary.LittleEndian.Uint64(h[24:32]) }

// AlternateLBA returns the LBA of the other copy of the header.
func (h Header) AlternateLBA() uint64 { return binary.LittleEndian.Uint64(h[32:40]) }

// FirstUsableLBA returns the first LBA usable for partitions.
func (h Header) FirstUsableLBA() uint64 { return binary.LittleEndian.Uint64(h[40:48]) }

// LastUsableLBA returns the last LBA usable for partitions.
func (h Header) LastUsableLBA() uint64 { return binary.LittleEndian.Uint64(h[48:56]) }

// DiskGUID returns the disk GUID in on-disk (mixed-endian) form.
func (h Header) DiskGUID() []byte { return h[56:72] }

// EntriesLBA returns the starting LBA of the partition entry array.
func (h Header) EntriesLBA() uint64 { return binary.LittleEndian.Uint64(h[72:80]) }

// NumEntries returns the number of partition entries.
func (h Header) NumEntries() uint32 { return binary.LittleEndian.Uint32(h[80:84]) }

// EntrySize returns the size of a single partition entry.
func (h Header) EntrySize() uint32 { return binary.LittleEndian.Uint32(h[84:88]) }

// EntriesCRC32 returns the CRC32 of the partition entry array.
func (h Header) EntriesCRC32() uint32 { return binary.LittleEndian.Uint32(h[88:92]) }

// SetSignature sets the header signature field.
func (h Header) SetSignature(v uint64) { binary.LittleEndian.PutUint64(h[0:8], v) }

// SetRevision sets the header revision field.
func (h Header) SetRevision(v uint32) { binary.LittleEndian.PutUint32(h[8:12], v) }

// SetHeaderSize sets the size of the header in bytes.
func (h Header) SetHeaderSize(v uint32) { binary.LittleEndian.PutUint32(h[12:16], v) }

// SetHeaderCRC32 sets the CRC32 of the header.
func (h Header) SetHeaderCRC32(v uint32) { binary.LittleEndian.PutUint32(h[16:20], v) }

// SetMyLBA sets the LBA of this copy of the header.
func (h Header) SetMyLBA(v uint64) { binary.LittleEndian.PutUint64(h[24:32], v) }

// SetAlternateLBA sets the LBA of the other copy of the header.
func (h Header) SetAlternateLBA(v uint64) { binary.LittleEndian.PutUint64(h[32:40], v) }

// SetFirstUsableLBA sets the first LBA usable for partitions.
func (h Header) SetFirstUsableLBA(v uint64) { binary.LittleEndian.PutUint64(h[40:48], v) }

// SetLastUsableLBA sets the last LBA usable for partitions.
func (h Header) SetLastUsableLBA(v uint64) { binary.LittleEndian.PutUint64(h[48:56], v) }

// SetDiskGUID sets the disk GUID in on-disk (mixed-endian) form.
func (h Header) SetDiskGUID(guid []byte) { copy(h[56:72], guid) }

// SetEntriesLBA sets the starting LBA of the partition entry array.
func (h Header) SetEntriesLBA(v uint64) { binary.LittleEndian.PutUint64(h[72:80], v) }

// SetNumEntries sets the number of partition entries.
func (h Header) SetNumEntries(v uint32) { binary.LittleEndian.PutUint32(h[80:84], v) }

// SetEntrySize sets the size of a single partition entry.
func (h Header) SetEntrySize(v uint32) { binary.LittleEndian.PutUint32(h[84:88], v) }

// SetEntriesCRC32 sets the CRC32 of the partition entry array.
func (h Header) SetEntriesCRC32(v uint32) { binary.LittleEndian.PutUint32(h[88:92], v) }

// Entry is a byte-slice backed view of a single GPT partition entry.
type Entry []byte

// TypeGUID returns the partition type GUID in on-disk form.
func (e Entry) TypeGUID() []byte { return e[0:16] }

// PartGUID returns the unique partition GUID in on-disk form.
func (e Entry) PartGUID() []byte { return e[16:32] }

// StartingLBA returns the first LBA of the partition.
func (e Entry) StartingLBA() uint64 { return binary.LittleEndian.Uint64(e[32:40]) }

// EndingLBA returns the last LBA of the partition (inclusive).
func (e Entry) EndingLBA() uint64 { return binary.LittleEndian.Uint64(e[40:48]) }

// Attributes returns the partition attribute flags.
func (e Entry) Attributes() uint64 { return binary.LittleEndian.Uint64(e[48:56]) }

// Name returns the partition name as raw UTF-16LE bytes.
func (e Entry) Name() []byte { return e[56:128] }

// SetTypeGUID sets the partition type GUID in on-disk form.
func (e Entry) SetTypeGUID(guid []byte) { copy(e[0:16], guid) }

// SetPartGUID sets the unique partition GUID in on-disk form.
func (e Entry) SetPartGUID(guid []byte) { copy(e[16:32], guid) }

// SetStartingLBA sets the first LBA of the partition.
func (e Entry) SetStartingLBA(v uint64) { binary.LittleEndian.PutUint64(e[32:40], v) }

// SetEndingLBA sets the last LBA of the partition (inclusive).
func (e Entry) SetEndingLBA(v uint64) { binary.LittleEndian.PutUint64(e[40:48], v) }

// SetAttributes sets the partition attribute flags.
func (e Entry) SetAttributes(v uint64) { binary.LittleEndian.PutUint64(e[48:56], v) }

// SetName sets the partition name from raw UTF-16LE bytes.
func (e Entry) SetName(name []byte) { copy(e[56:128], name) }

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptstructs

import (
	"hash/crc32"
	"io"
	"slices"

	"github.com/siderolabs/go-provision/internal/ioutil"
)

// CalculateChecksum calculates the checksum of the header.
//
// The CRC32 field itself is zeroed for the calculation.
func (h Header) CalculateChecksum() uint32 {
	b := slices.Clone(h[:HeaderSize])

	b[16] = 0
	b[17] = 0
	b[18] = 0
	b[19] = 0

	return crc32.ChecksumIEEE(b)
}

// HeaderReader is an interface for reading GPT headers.
type HeaderReader interface {
	io.ReaderAt
	GetSectorSize() uint
}

// ReadHeader reads the GPT header at the given LBA and its partition entries.
//
// It does sanity checks on the header and partition entries, and verifies
// both the header and the entry array checksums. Returns nil header without
// an error if the region doesn't hold a valid GPT header.
//
//nolint:gocyclo
func ReadHeader(r HeaderReader, lba, lastLBA uint64) (*Header, []Entry, error) {
	sectorSize := r.GetSectorSize()
	buf := make([]byte, sectorSize)

	if err := ioutil.ReadFullAt(r, buf, int64(lba)*int64(sectorSize)); err != nil {
		return nil, nil, err
	}

	hdr := Header(buf)

	if hdr.Signature() != HeaderSignature {
		return nil, nil, nil
	}

	headerSize := hdr.HeaderSize()
	if headerSize < HeaderSize || uint(headerSize) > sectorSize {
		return nil, nil, nil
	}

	if hdr.HeaderCRC32() != hdr.CalculateChecksum() {
		return nil, nil, nil
	}

	if hdr.MyLBA() != lba {
		return nil, nil, nil
	}

	firstUsableLBA := hdr.FirstUsableLBA()
	lastUsableLBA := hdr.LastUsableLBA()

	if lastUsableLBA < firstUsableLBA || firstUsableLBA > lastLBA || lastUsableLBA > lastLBA {
		return nil, nil, nil
	}

	// the header itself should live outside the usable range
	if firstUsableLBA < lba && lba < lastUsableLBA {
		return nil, nil, nil
	}

	if hdr.EntrySize() != EntrySize {
		return nil, nil, nil
	}

	if hdr.NumEntries() == 0 || hdr.NumEntries() > NumEntries {
		return nil, nil, nil
	}

	entriesBuffer := make([]byte, hdr.NumEntries()*EntrySize)

	if err := ioutil.ReadFullAt(r, entriesBuffer, int64(hdr.EntriesLBA())*int64(sectorSize)); err != nil {
		return nil, nil, err
	}

	if crc32.ChecksumIEEE(entriesBuffer) != hdr.EntriesCRC32() {
		return nil, nil, nil
	}

	entries := make([]Entry, hdr.NumEntries())
	for i := range entries {
		entries[i] = Entry(entriesBuffer[i*EntrySize : (i+1)*EntrySize])
	}

	return &hdr, entries, nil
}

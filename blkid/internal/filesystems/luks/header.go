// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package luks

import "encoding/binary"

// HeaderSize is the number of bytes read to inspect the LUKS2 binary header.
const HeaderSize = 4096

// Header is a byte-slice backed view of the LUKS2 binary header.
//
// All integer fields are big-endian.
type Header []byte

// Version returns the LUKS version field.
func (h Header) Version() uint16 { return binary.BigEndian.Uint16(h[6:8]) }

// HdrSize returns the size of the binary header plus the JSON area in bytes.
func (h Header) HdrSize() uint64 { return binary.BigEndian.Uint64(h[8:16]) }

// Label returns the volume label as raw bytes.
func (h Header) Label() []byte { return h[24:72] }

// ChecksumAlg returns the checksum algorithm name as raw bytes.
func (h Header) ChecksumAlg() []byte { return h[72:104] }

// UUID returns the volume UUID as ASCII bytes.
func (h Header) UUID() []byte { return h[168:208] }

// Subsystem returns the subsystem label as raw bytes.
func (h Header) Subsystem() []byte { return h[208:256] }

// HdrOffset returns the offset of this header from the device start.
func (h Header) HdrOffset() uint64 { return binary.BigEndian.Uint64(h[256:264]) }

// Checksum returns the stored header checksum bytes.
func (h Header) Checksum() []byte { return h[448:512] }

// checksumOffset is the byte offset of the checksum field within the header.
const checksumOffset = 448

// checksumFieldSize is the size of the checksum field.
const checksumFieldSize = 64

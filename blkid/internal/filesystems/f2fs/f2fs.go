// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package f2fs probes F2FS filesystems.
package f2fs

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"
	"golang.org/x/text/encoding/unicode"

	"github.com/siderolabs/go-provision/blkid/internal/magic"
	"github.com/siderolabs/go-provision/blkid/internal/probe"
	"github.com/siderolabs/go-provision/blkid/internal/utils"
	"github.com/siderolabs/go-provision/internal/ioutil"
)

// MagicValue is the F2FS superblock magic.
const MagicValue = 0xf2f52010

var f2fsMagic = magic.Magic{
	Offset: SuperblockOffset,
	Value:  []byte("\x10\x20\xf5\xf2"),
}

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&f2fsMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "f2fs"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader) (*probe.Result, error) {
	buf := make([]byte, SuperblockSize)

	if err := ioutil.ReadFullAt(r, buf, SuperblockOffset); err != nil {
		return nil, err
	}

	sb := SuperBlock(buf)

	verified := false

	// The checksum is seeded with the magic value and covers the superblock up
	// to the checksum field. A zero offset means the superblock carries no
	// checksum; any other offset must leave room for the field itself.
	if off := sb.ChecksumOffset(); off != 0 {
		if off < 36 || off > SuperblockSize-4 {
			return nil, probe.ErrCorrupted
		}

		stored := binary.LittleEndian.Uint32(buf[off : off+4])

		if utils.CRC32LE(MagicValue, buf[:off]) != stored {
			return nil, probe.ErrCorrupted
		}

		verified = true
	}

	fsUUID, err := uuid.FromBytes(sb.UUID())
	if err != nil {
		return nil, err
	}

	res := &probe.Result{
		UUID: &fsUUID,

		BlockSize:           sb.BlockSize(),
		FilesystemBlockSize: sb.BlockSize(),
		ProbedSize:          sb.FilesystemSize(),

		Verified: verified,
	}

	if lbl, err := decodeLabel(sb.VolumeName()); err == nil && lbl != "" {
		res.Label = pointer.To(lbl)
	}

	return res, nil
}

func decodeLabel(raw []byte) (string, error) {
	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}

	if idx := bytes.IndexByte(decoded, 0); idx != -1 {
		decoded = decoded[:idx]
	}

	return string(decoded), nil
}

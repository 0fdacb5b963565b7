// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package btrfs probes btrfs filesystems.
package btrfs

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/go-provision/blkid/internal/magic"
	"github.com/siderolabs/go-provision/blkid/internal/probe"
	"github.com/siderolabs/go-provision/blkid/internal/utils"
	"github.com/siderolabs/go-provision/internal/ioutil"
)

var btrfsMagic = magic.Magic{
	Offset: SuperblockOffset + 0x40,
	Value:  []byte("_BHRfS_M"),
}

// csumTypeCRC32c is the only checksum algorithm verified here.
const csumTypeCRC32c = 0

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&btrfsMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "btrfs"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader) (*probe.Result, error) {
	buf := make([]byte, SuperblockSize)

	if err := ioutil.ReadFullAt(r, buf, SuperblockOffset); err != nil {
		return nil, err
	}

	sb := SuperBlock(buf)

	verified := false

	if sb.CsumType() == csumTypeCRC32c {
		// The checksum covers everything past the csum field itself.
		if utils.CRC32c(buf[0x20:]) != binary.LittleEndian.Uint32(sb.Csum()[:4]) {
			return nil, probe.ErrCorrupted
		}

		verified = true
	}

	fsUUID, err := uuid.FromBytes(sb.FSID())
	if err != nil {
		return nil, err
	}

	res := &probe.Result{
		UUID: &fsUUID,

		BlockSize:           sb.SectorSize(),
		FilesystemBlockSize: sb.NodeSize(),
		ProbedSize:          sb.TotalBytes(),

		Verified: verified,
	}

	lbl := sb.Label()
	if lbl[0] != 0 {
		idx := bytes.IndexByte(lbl, 0)
		if idx == -1 {
			idx = len(lbl)
		}

		res.Label = pointer.To(string(lbl[:idx]))
	}

	return res, nil
}

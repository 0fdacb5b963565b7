// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package xfs probes XFS filesystems.
package xfs

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

var xfsMagic = magic.Magic{
	Offset: 0,
	Value:  []byte("XFSB"),
}

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&xfsMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "xfs"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader) (*probe.Result, error) {
	buf := make([]byte, SuperblockSize)

	if err := ioutil.ReadFullAt(r, buf, 0); err != nil {
		return nil, err
	}

	sb := SuperBlock(buf)

	if !sb.Valid() {
		return nil, nil //nolint:nilnil
	}

	verified := false

	if sb.IsV5() {
		// The checksum covers the whole sector with the CRC field zeroed out.
		csumBuf := make([]byte, len(buf))
		copy(csumBuf, buf)

		binary.LittleEndian.PutUint32(csumBuf[crcOffset:crcOffset+4], 0)

		if ^utils.CRC32c(csumBuf) != sb.CRC() {
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

		BlockSize:           uint32(sb.SectSize()),
		FilesystemBlockSize: sb.BlockSize(),
		ProbedSize:          sb.FilesystemSize(),

		Verified: verified,
	}

	if lbl := sb.FName(); lbl[0] != 0 {
		idx := bytes.IndexByte(lbl, 0)
		if idx == -1 {
			idx = len(lbl)
		}

		res.Label = pointer.To(string(lbl[:idx]))
	}

	return res, nil
}

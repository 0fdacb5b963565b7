// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package ext probes extfs filesystems.
package ext

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/go-provision/blkid/internal/magic"
	"github.com/siderolabs/go-provision/blkid/internal/probe"
	"github.com/siderolabs/go-provision/blkid/internal/utils"
	"github.com/siderolabs/go-provision/internal/ioutil"
)

const sbOffset = 0x400

// FeatureROCompatMetadataCsum indicates that the superblock carries a crc32c checksum.
const FeatureROCompatMetadataCsum = 0x0400

var extfsMagic = magic.Magic{
	Offset: sbOffset + 0x38,
	Value:  []byte("\123\357"),
}

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&extfsMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "extfs"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader) (*probe.Result, error) {
	buf := make([]byte, SuperblockSize)

	if err := ioutil.ReadFullAt(r, buf, sbOffset); err != nil {
		return nil, err
	}

	sb := SuperBlock(buf)

	verified := false

	if sb.FeatureROCompat()&FeatureROCompatMetadataCsum != 0 {
		if utils.CRC32c(buf[:0x3fc]) != sb.Checksum() {
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

	lbl := sb.VolumeName()
	if lbl[0] != 0 {
		idx := bytes.IndexByte(lbl, 0)
		if idx == -1 {
			idx = len(lbl)
		}

		res.Label = pointer.To(string(lbl[:idx]))
	}

	return res, nil
}

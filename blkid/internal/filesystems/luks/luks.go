// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package luks probes LUKS2 encrypted volumes.
package luks

import (
	"bytes"
	"crypto/sha256"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/go-provision/blkid/internal/magic"
	"github.com/siderolabs/go-provision/blkid/internal/probe"
	"github.com/siderolabs/go-provision/internal/ioutil"
)

var luksMagic = magic.Magic{
	Offset: 0,
	Value:  []byte("LUKS\xba\xbe"),
}

// Probe for the filesystem.
type Probe struct{}

// Magic returns the magic value for the filesystem.
func (p *Probe) Magic() []*magic.Magic {
	return []*magic.Magic{&luksMagic}
}

// Name returns the name of the filesystem.
func (p *Probe) Name() string {
	return "luks"
}

// Probe runs the further inspection and returns the result if successful.
func (p *Probe) Probe(r probe.Reader) (*probe.Result, error) {
	buf := make([]byte, HeaderSize)

	if err := ioutil.ReadFullAt(r, buf, 0); err != nil {
		return nil, err
	}

	hdr := Header(buf)

	if hdr.Version() != 2 {
		return nil, nil //nolint:nilnil
	}

	verified := false

	if nulTrim(hdr.ChecksumAlg()) == "sha256" {
		hdrSize := hdr.HdrSize()
		if hdrSize < HeaderSize || hdrSize > 4*1024*1024 {
			return nil, probe.ErrCorrupted
		}

		csumBuf := make([]byte, hdrSize)

		if err := ioutil.ReadFullAt(r, csumBuf, 0); err != nil {
			return nil, err
		}

		// The digest is computed with the checksum field zeroed out.
		for i := 0; i < checksumFieldSize; i++ {
			csumBuf[checksumOffset+i] = 0
		}

		digest := sha256.Sum256(csumBuf)

		if !bytes.Equal(digest[:], hdr.Checksum()[:sha256.Size]) {
			return nil, probe.ErrCorrupted
		}

		verified = true
	}

	res := &probe.Result{
		BlockSize:  uint32(r.GetSectorSize()),
		ProbedSize: r.GetSize(),

		Verified: verified,
	}

	if lbl := nulTrim(hdr.Label()); lbl != "" {
		res.Label = pointer.To(lbl)
	}

	if uuidStr := nulTrim(hdr.UUID()); uuidStr != "" {
		volUUID, err := uuid.Parse(uuidStr)
		if err == nil {
			res.UUID = pointer.To(volUUID)
		}
	}

	return res, nil
}

func nulTrim(raw []byte) string {
	if idx := bytes.IndexByte(raw, 0); idx != -1 {
		raw = raw[:idx]
	}

	return string(raw)
}

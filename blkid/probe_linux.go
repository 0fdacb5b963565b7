// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package blkid

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/siderolabs/go-provision/blkid/internal/chain"
	"github.com/siderolabs/go-provision/blkid/internal/probe"
)

// probeReader adapts a section of the probed file to the prober interface.
type probeReader struct {
	io.ReaderAt

	sectorSize uint
	size       uint64
}

func (r *probeReader) GetSectorSize() uint { return r.sectorSize }

func (r *probeReader) GetSize() uint64 { return r.size }

func (i *Info) fillProbeResult(f *os.File, options ProbeOptions) error {
	res, parts, err := i.probe(f, 0, i.Size, options)
	if err != nil {
		return err
	}

	if res != nil {
		i.ProbeResult = *res
	}

	i.Parts = parts

	return nil
}

// probe runs the prober chain over the given range of the file.
//
//nolint:gocognit
func (i *Info) probe(f *os.File, offset, length uint64, options ProbeOptions) (*ProbeResult, []NestedProbeResult, error) {
	if offset+length > i.Size {
		return nil, nil, fmt.Errorf("probing range is out of bounds: offset %d + len %d > size %d", offset, length, i.Size)
	}

	probers := chain.Default()

	if length < uint64(probers.MaxMagicSize()) {
		// range too small to hold any magic, not an error
		return nil, nil, nil
	}

	magicReadSize := max(uint64(probers.MaxMagicSize()), uint64(i.IOSize))
	magicReadSize = min(magicReadSize, length)

	buf := make([]byte, magicReadSize)

	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, nil, fmt.Errorf("error reading magic buffer: %w", err)
	}

	var corrupted *ProbeResult

	for _, matched := range probers.MagicMatches(buf) {
		pr := &probeReader{
			ReaderAt: io.NewSectionReader(f, int64(offset), int64(length)),

			sectorSize: i.SectorSize,
			size:       length,
		}

		res, err := matched.Probe(pr)

		switch {
		case errors.Is(err, probe.ErrCorrupted):
			options.Logger.Warn("superblock failed verification",
				zap.String("prober", matched.Name()),
				zap.Uint64("offset", offset),
			)

			if corrupted == nil {
				corrupted = &ProbeResult{
					Name:      matched.Name(),
					Corrupted: true,
				}
			}

			continue
		case err != nil:
			options.Logger.Debug("probe failed",
				zap.String("prober", matched.Name()),
				zap.Error(err),
			)

			continue
		case res == nil:
			continue
		}

		result := &ProbeResult{
			Name:     matched.Name(),
			UUID:     res.UUID,
			Label:    res.Label,
			SerialID: res.SerialID,

			BlockSize:           res.BlockSize,
			FilesystemBlockSize: res.FilesystemBlockSize,
			ProbedSize:          res.ProbedSize,

			Verified: res.Verified,
		}

		nested, err := i.probeParts(f, offset, res.Parts, options)
		if err != nil {
			return nil, nil, err
		}

		return result, nested, nil
	}

	// nothing matched cleanly, report a corrupted superblock if we saw one
	return corrupted, nil, nil
}

func (i *Info) probeParts(f *os.File, base uint64, parts []probe.Partition, options ProbeOptions) ([]NestedProbeResult, error) {
	if len(parts) == 0 {
		return nil, nil
	}

	nested := make([]NestedProbeResult, 0, len(parts))

	for _, part := range parts {
		sub := NestedProbeResult{
			NestedResult: NestedResult{
				PartitionUUID:  part.UUID,
				PartitionType:  part.TypeUUID,
				PartitionLabel: part.Label,
				PartitionIndex: part.Index,

				PartitionOffset: base + part.Offset,
				PartitionSize:   part.Size,
			},
		}

		res, subParts, err := i.probe(f, base+part.Offset, part.Size, options)
		if err != nil {
			return nil, fmt.Errorf("error probing partition %d: %w", part.Index, err)
		}

		if res != nil {
			sub.ProbeResult = *res
		}

		sub.Parts = subParts

		nested = append(nested, sub)
	}

	return nested, nil
}

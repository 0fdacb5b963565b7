// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package chain provides a list of probers for different filesystems and volume managers.
package chain

import (
	"github.com/siderolabs/go-provision/blkid/internal/filesystems/btrfs"
	"github.com/siderolabs/go-provision/blkid/internal/filesystems/ext"
	"github.com/siderolabs/go-provision/blkid/internal/filesystems/f2fs"
	"github.com/siderolabs/go-provision/blkid/internal/filesystems/luks"
	"github.com/siderolabs/go-provision/blkid/internal/filesystems/vfat"
	"github.com/siderolabs/go-provision/blkid/internal/filesystems/xfs"
	"github.com/siderolabs/go-provision/blkid/internal/partitions/gpt"
	"github.com/siderolabs/go-provision/blkid/internal/probe"
)

// Chain is a list of probers.
type Chain []probe.Prober

// MaxMagicSize returns the maximum size of the magic value in the chain.
func (chain Chain) MaxMagicSize() int {
	maxSize := 0

	for _, prober := range chain {
		for _, m := range prober.Magic() {
			if size := m.BlockSize(); size >= maxSize {
				maxSize = size
			}
		}
	}

	return maxSize
}

// MagicMatches returns the probers whose magic value matches the buffer.
func (chain Chain) MagicMatches(buf []byte) []probe.Prober {
	var matches []probe.Prober

	for _, prober := range chain {
		for _, m := range prober.Magic() {
			if m.Matches(buf) {
				matches = append(matches, prober)

				break
			}
		}
	}

	return matches
}

// Default returns a list of probers for the filesystems and volume managers.
//
// The GPT prober carries a null magic and should stay last in the chain.
func Default() Chain {
	return Chain{
		&luks.Probe{},
		&xfs.Probe{},
		&ext.Probe{},
		&btrfs.Probe{},
		&f2fs.Probe{},
		&vfat.Probe{},
		&gpt.Probe{},
	}
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package provision

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-provision/block"
	"github.com/siderolabs/go-provision/partitioning/gpt"
)

// defaultDeviceOpener opens the disk's block device read-write with an
// exclusive advisory lock held for the duration of the transaction.
func defaultDeviceOpener(disk *Disk) (gpt.Device, func() error, error) {
	f, err := os.OpenFile(disk.Path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}

	blockDev := block.NewFromFile(f)

	if err = blockDev.TryLock(true); err != nil {
		f.Close() //nolint:errcheck

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, nil, fmt.Errorf("%s is in use by another process", disk.Path)
		}

		return nil, nil, fmt.Errorf("failed to lock %s: %w", disk.Path, err)
	}

	dev, err := gpt.DeviceFromBlockDevice(blockDev, f)
	if err != nil {
		blockDev.Unlock() //nolint:errcheck
		f.Close()         //nolint:errcheck

		return nil, nil, err
	}

	return dev, func() error {
		blockDev.Unlock() //nolint:errcheck

		return f.Close()
	}, nil
}

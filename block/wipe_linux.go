// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import (
	"io"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FastWipeRange is the span zeroed at each end of the device by FastWipe.
const FastWipeRange = 1024 * 1024

// FastWipe destroys partition table and filesystem signatures on the device.
//
// The whole device is discarded when the hardware supports it, and the first
// and last FastWipeRange bytes are explicitly zeroed, which covers both copies
// of the GPT and any superblocks near the start of the device.
func (d *Device) FastWipe() error {
	size, err := d.GetSize()
	if err != nil {
		return err
	}

	// discard is TRIM-backed on flash and might not zero the contents, so it
	// is only an optimization here; discard support is optional, ignore errors
	d.rangeIoctl(unix.BLKDISCARD, 0, size) //nolint:errcheck

	if _, err = d.WipeRange(0, min(size, FastWipeRange)); err != nil {
		return err
	}

	if size >= 2*FastWipeRange {
		if _, err = d.WipeRange(size-FastWipeRange, FastWipeRange); err != nil {
			return err
		}
	}

	return nil
}

// WipeRange clears the device bytes [start, start+length) and reports the
// mechanism used.
//
// Mechanisms are tried in order of preference: secure discard, discard when
// the device guarantees discarded blocks read back as zeroes, BLKZEROOUT, and
// finally writing zeroes from userspace.
func (d *Device) WipeRange(start, length uint64) (string, error) {
	if err := d.rangeIoctl(unix.BLKSECDISCARD, start, length); err == nil {
		return "blksecdiscard", nil
	}

	if d.discardZeroesData() {
		if err := d.rangeIoctl(unix.BLKDISCARD, start, length); err == nil {
			return "blkdiscardzeros", nil
		}
	}

	if err := d.rangeIoctl(unix.BLKZEROOUT, start, length); err == nil {
		return "blkzeroout", nil
	}

	zero, err := os.Open("/dev/zero")
	if err != nil {
		return "", err
	}

	defer zero.Close() //nolint:errcheck

	if _, err := d.f.Seek(int64(start), io.SeekStart); err != nil {
		return "", err
	}

	_, err = io.CopyN(d.f, zero, int64(length))

	return "writezeroes", err
}

func (d *Device) rangeIoctl(req uintptr, start, length uint64) error {
	r := [2]uint64{start, length}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(unsafe.Pointer(&r[0])))

	runtime.KeepAlive(d)

	if errno != 0 {
		return errno
	}

	return nil
}

func (d *Device) discardZeroesData() bool {
	var zeroes int

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKDISCARDZEROES, uintptr(unsafe.Pointer(&zeroes)))

	runtime.KeepAlive(d)

	return errno == 0 && zeroes != 0
}

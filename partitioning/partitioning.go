// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package partitioning implements common partitioning functions.
package partitioning

import "strconv"

// DevName derives the kernel device name for a partition of a disk.
//
// Disks whose name ends in a digit (nvme0n1, mmcblk0, loop0) take a "p"
// separator before the partition number.
func DevName(device string, part uint) string {
	sep := ""

	if device != "" {
		if last := device[len(device)-1]; last >= '0' && last <= '9' {
			sep = "p"
		}
	}

	return device + sep + strconv.FormatUint(uint64(part), 10)
}

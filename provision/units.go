// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import "fmt"

// Byte size multiples.
const (
	KiB = uint64(1) << 10
	MiB = uint64(1) << 20
	GiB = uint64(1) << 30
	TiB = uint64(1) << 40

	KB = uint64(1000)
	MB = 1000 * KB
	GB = 1000 * MB
	TB = 1000 * GB
)

// Alignment is the granularity partitions are aligned to.
const Alignment = MiB

// SizeString formats a byte count using binary unit suffixes.
func SizeString(size uint64) string {
	switch {
	case size >= TiB:
		return fmt.Sprintf("%.2f TiB", float64(size)/float64(TiB))
	case size >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(size)/float64(GiB))
	case size >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(size)/float64(MiB))
	case size >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(size)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

// alignUp rounds v up to the next multiple of alignment.
func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) / alignment * alignment
}

// alignDown rounds v down to a multiple of alignment.
func alignDown(v, alignment uint64) uint64 {
	return v / alignment * alignment
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package provision

import (
	"fmt"

	"github.com/siderolabs/go-provision/partitioning/gpt"
)

func defaultDeviceOpener(disk *Disk) (gpt.Device, func() error, error) {
	return nil, nil, fmt.Errorf("not implemented")
}

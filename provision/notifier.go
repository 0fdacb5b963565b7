// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import (
	"errors"
	"time"

	"github.com/siderolabs/go-retry/retry"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-provision/partitioning/gpt"
)

// NotifyFunc informs the running kernel about an updated partition table.
type NotifyFunc func(table *gpt.Table) error

// NotifyKernel pushes the new partition layout to the kernel, retrying while
// the device is briefly busy (e.g. udev still settling).
func NotifyKernel(table *gpt.Table) error {
	return retry.Constant(10*time.Second, retry.WithUnits(100*time.Millisecond)).Retry(func() error {
		err := table.SyncKernel()
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EBUSY) {
			return retry.ExpectedError(err)
		}

		return err
	})
}

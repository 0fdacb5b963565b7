// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siderolabs/go-provision/partitioning"
	"github.com/siderolabs/go-provision/partitioning/gpt"
)

// TransactionState is the lifecycle state of a transaction.
type TransactionState int

// Transaction states.
const (
	StatePending TransactionState = iota
	StateApplying
	StateCommitted
	StateRolledBack
)

func (s TransactionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// DeviceOpener opens a writable device handle for a disk.
//
// The returned closer is invoked on every exit path of the transaction.
type DeviceOpener func(disk *Disk) (gpt.Device, func() error, error)

// Executor applies plans to real disks.
type Executor struct {
	logger     *zap.Logger
	openDevice DeviceOpener
	notify     NotifyFunc
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithDeviceOpener overrides how device handles are opened (used with
// in-memory devices in tests).
func WithDeviceOpener(opener DeviceOpener) ExecutorOption {
	return func(e *Executor) {
		e.openDevice = opener
	}
}

// WithNotifier overrides the kernel notification function.
func WithNotifier(notify NotifyFunc) ExecutorOption {
	return func(e *Executor) {
		e.notify = notify
	}
}

// NewExecutor builds an executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger:     zap.NewNop(),
		openDevice: defaultDeviceOpener,
		notify:     NotifyKernel,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CommitResult reports the outcome of a successful transaction.
type CommitResult struct {
	State TransactionState

	// CreatedPartitions maps partition aliases to the partition GUIDs assigned
	// during the transaction.
	CreatedPartitions map[string]uuid.UUID

	// CreatedDevices maps partition aliases to the kernel device names the
	// partitions will appear under.
	CreatedDevices map[string]string

	// NotifyErr carries a kernel notification failure. The on-disk table is
	// correct; the kernel's view is stale until a rescan.
	NotifyErr error
}

// undoStep is the recorded inverse of one applied operation.
type undoStep struct {
	desc string
	run  func() error
}

// diskHandle tracks the open device and table of one disk inside a transaction.
type diskHandle struct {
	disk  *Disk
	dev   gpt.Device
	table *gpt.Table
	close func() error

	mutations uint64
}

// Execute applies the plan, rolling back on any operation failure.
//
// On forward failure, the returned error wraps ErrRolledBack (table restored)
// or ErrFatalRollback (an undo step failed, disk state indeterminate).
func (e *Executor) Execute(plan *Plan) (*CommitResult, error) {
	tx := &transaction{
		executor: e,
		plan:     plan,
		state:    StatePending,
		handles:  map[*Disk]*diskHandle{},
		result: &CommitResult{
			CreatedPartitions: map[string]uuid.UUID{},
			CreatedDevices:    map[string]string{},
		},
	}

	defer tx.release()

	return tx.run()
}

type transaction struct {
	executor *Executor
	plan     *Plan
	state    TransactionState

	handles map[*Disk]*diskHandle
	order   []*diskHandle

	undo []undoStep

	result *CommitResult
}

func (tx *transaction) release() {
	for _, handle := range tx.order {
		if handle.close == nil {
			continue
		}

		if err := handle.close(); err != nil {
			tx.executor.logger.Warn("failed to close device",
				zap.String("disk", handle.disk.Path),
				zap.Error(err),
			)
		}
	}
}

func (tx *transaction) run() (*CommitResult, error) {
	tx.state = StateApplying

	for idx, op := range tx.plan.Operations {
		if err := tx.apply(op); err != nil {
			return nil, tx.rollback(fmt.Errorf("operation %d (%s) failed: %w", idx, op, err))
		}
	}

	tx.state = StateCommitted
	tx.result.State = StateCommitted

	tx.commitModel()

	tx.result.NotifyErr = tx.notifyKernel()

	return tx.result, nil
}

func (tx *transaction) apply(op PlanOperation) error {
	logger := tx.executor.logger

	switch op := op.(type) {
	case *CreateTableOp:
		handle, err := tx.handleFor(op.Target, true)
		if err != nil {
			return err
		}

		if op.Kind != TableKindGPT {
			return fmt.Errorf("unsupported partition table kind %q", op.Kind)
		}

		table, err := gpt.New(handle.dev)
		if err != nil {
			return fmt.Errorf("failed to build new table: %w", err)
		}

		// capture the raw table sectors before overwriting them
		snapshot, err := table.TakeSnapshot()
		if err != nil {
			return err
		}

		// a fresh table invalidates whatever lived on the disk before; wipe
		// the head and tail of the device so stale filesystem and table
		// signatures do not survive
		if wiper, ok := handle.dev.(interface{ FastWipe() error }); ok {
			if err := wiper.FastWipe(); err != nil {
				return fmt.Errorf("failed to wipe %s: %w", op.Target.Path, err)
			}
		}

		if err := table.Write(); err != nil {
			return err
		}

		handle.table = table
		handle.mutations++

		logger.Info("created partition table",
			zap.String("disk", op.Target.Path),
			zap.String("guid", table.DiskGUID().String()),
		)

		tx.undo = append(tx.undo, undoStep{
			desc: fmt.Sprintf("restore previous table image on %s", op.Target.Path),
			run: func() error {
				return table.RestoreSnapshot(snapshot)
			},
		})

	case *CreatePartitionOp:
		handle, err := tx.handleFor(op.Target, false)
		if err != nil {
			return err
		}

		num, entry, err := handle.table.AllocatePartitionAt(op.Offset, op.Size, op.Label, op.TypeGUID)
		if err != nil {
			return fmt.Errorf("failed to allocate partition: %w", err)
		}

		if err := handle.table.Write(); err != nil {
			return err
		}

		devName := partitioning.DevName(op.Target.Path, uint(num))

		handle.mutations++
		tx.result.CreatedPartitions[op.Alias] = entry.PartGUID
		tx.result.CreatedDevices[op.Alias] = devName

		logger.Info("created partition",
			zap.String("device", devName),
			zap.String("alias", op.Alias),
			zap.Int("number", num),
			zap.Uint64("offset", op.Offset),
			zap.String("size", SizeString(op.Size)),
		)

		table := handle.table

		tx.undo = append(tx.undo, undoStep{
			desc: fmt.Sprintf("delete partition %d on %s", num, op.Target.Path),
			run: func() error {
				if err := table.DeletePartition(num - 1); err != nil {
					return err
				}

				return table.Write()
			},
		})

	default:
		return fmt.Errorf("unsupported operation %s", op)
	}

	return nil
}

// handleFor opens (or returns) the device handle for the disk.
//
// For disks whose table is not being re-created, the existing table is read
// from the device on first use.
func (tx *transaction) handleFor(disk *Disk, creatingTable bool) (*diskHandle, error) {
	if handle, ok := tx.handles[disk]; ok {
		if handle.table == nil && !creatingTable {
			return nil, fmt.Errorf("no partition table on %s", disk.Path)
		}

		return handle, nil
	}

	dev, closeFn, err := tx.executor.openDevice(disk)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", disk.Path, err)
	}

	handle := &diskHandle{
		disk:  disk,
		dev:   dev,
		close: closeFn,
	}

	if !creatingTable {
		handle.table, err = gpt.Read(dev)
		if err != nil {
			if closeFn != nil {
				closeFn() //nolint:errcheck
			}

			return nil, fmt.Errorf("failed to read table on %s: %w", disk.Path, err)
		}
	}

	tx.handles[disk] = handle
	tx.order = append(tx.order, handle)

	return handle, nil
}

// rollback replays undo steps in strict reverse order.
func (tx *transaction) rollback(cause error) error {
	logger := tx.executor.logger

	for i := len(tx.undo) - 1; i >= 0; i-- {
		step := tx.undo[i]

		logger.Info("rolling back", zap.String("step", step.desc))

		if err := step.run(); err != nil {
			return fmt.Errorf("%w: undo step %q: %s (caused by: %s)", ErrFatalRollback, step.desc, err, cause)
		}
	}

	tx.state = StateRolledBack

	return fmt.Errorf("%w: %w", ErrRolledBack, cause)
}

// commitModel refreshes the in-memory disk models from the written tables.
func (tx *transaction) commitModel() {
	for _, handle := range tx.order {
		if handle.table == nil || handle.mutations == 0 {
			continue
		}

		var revision uint64

		if handle.disk.Table != nil {
			revision = handle.disk.Table.Revision
		}

		handle.disk.Table = modelFromTable(handle.table)
		handle.disk.Table.Revision = revision + handle.mutations
		handle.disk.Filesystem = ""
		handle.disk.FilesystemUUID = nil
		handle.disk.FilesystemLabel = ""
	}
}

func modelFromTable(table *gpt.Table) *PartitionTable {
	firstUsable, lastUsable := table.UsableLBAs()
	sectorSize := uint64(table.SectorSize())

	model := &PartitionTable{
		Kind:     TableKindGPT,
		DiskGUID: table.DiskGUID(),

		FirstUsable: firstUsable * sectorSize,
		LastUsable:  (lastUsable + 1) * sectorSize,
	}

	for idx, part := range table.Partitions() {
		if part == nil {
			continue
		}

		model.Partitions = append(model.Partitions, PartitionEntry{
			Number: idx + 1,

			Offset: part.FirstLBA * sectorSize,
			Size:   (part.LastLBA - part.FirstLBA + 1) * sectorSize,

			TypeGUID: part.TypeGUID,
			GUID:     part.PartGUID,

			Label: part.Name,
		})
	}

	return model
}

// notifyKernel runs the notifier once per affected disk.
func (tx *transaction) notifyKernel() error {
	var errs error

	for _, handle := range tx.order {
		if handle.mutations == 0 || handle.table == nil {
			continue
		}

		if err := tx.executor.notify(handle.table); err != nil {
			tx.executor.logger.Warn("kernel notification failed",
				zap.String("disk", handle.disk.Path),
				zap.Error(err),
			)

			errs = errors.Join(errs, fmt.Errorf("notify %s: %w", handle.disk.Path, err))
		}
	}

	return errs
}

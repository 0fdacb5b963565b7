// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/ryanuber/go-glob"
)

// PlanOperation is a concrete, disk-bound instruction derived from a step.
type PlanOperation interface {
	// Disk returns the target disk of the operation.
	Disk() *Disk

	String() string
}

// CreateTableOp initializes a fresh partition table, wiping prior partitions.
type CreateTableOp struct {
	Target *Disk
	Kind   TableKind
}

// Disk implements PlanOperation.
func (op *CreateTableOp) Disk() *Disk { return op.Target }

func (op *CreateTableOp) String() string {
	return fmt.Sprintf("create %s table on %s", op.Kind, op.Target.Path)
}

// CreatePartitionOp allocates a partition at a resolved offset.
type CreatePartitionOp struct {
	Target *Disk

	Alias string

	Offset uint64
	Size   uint64

	TypeGUID uuid.UUID
	Label    string
}

// Disk implements PlanOperation.
func (op *CreatePartitionOp) Disk() *Disk { return op.Target }

func (op *CreatePartitionOp) String() string {
	return fmt.Sprintf("create partition %q on %s at %d (%s)", op.Alias, op.Target.Path, op.Offset, SizeString(op.Size))
}

// Plan is the result of planning a flattened strategy against a set of disks.
type Plan struct {
	// Disks maps disk aliases to their bound disks.
	Disks map[string]*Disk

	// Partitions maps partition aliases bound by FindPartition steps to
	// existing partition entries.
	Partitions map[string]PartitionEntry

	// Operations in execution order.
	Operations []PlanOperation
}

// diskState tracks the planner's view of a disk as operations accumulate.
type diskState struct {
	disk *Disk

	// free regions in ascending offset order
	free []Region

	planned []Region
}

// Plan computes concrete operations for the flattened strategy.
//
// Disk candidates are considered in the order given: when several disks match
// a non-unique FindDisk selector, the earliest in the pool wins.
//
//nolint:gocognit,gocyclo,cyclop
func (fs *FlattenedStrategy) Plan(pool []*Disk) (*Plan, error) {
	plan := &Plan{
		Disks:      map[string]*Disk{},
		Partitions: map[string]PartitionEntry{},
	}

	states := map[string]*diskState{}

	for _, step := range fs.Steps {
		switch step := step.(type) {
		case FindDiskStep:
			disk, err := selectDisk(pool, step.Selector, plan.Disks)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step, err)
			}

			plan.Disks[step.Alias] = disk
			states[step.Alias] = newDiskState(disk)

		case CreatePartitionTableStep:
			state, ok := states[step.DiskAlias]
			if !ok {
				return nil, fmt.Errorf("%w: %q referenced by %s", ErrUnboundAlias, step.DiskAlias, step)
			}

			fresh := freshTable(step.Kind, state.disk.Size)

			state.free = []Region{{
				Offset: fresh.FirstUsable,
				Size:   fresh.LastUsable - fresh.FirstUsable,
			}}
			state.planned = nil

			plan.Operations = append(plan.Operations, &CreateTableOp{
				Target: state.disk,
				Kind:   step.Kind,
			})

		case CreatePartitionStep:
			state, ok := states[step.DiskAlias]
			if !ok {
				return nil, fmt.Errorf("%w: %q referenced by %s", ErrUnboundAlias, step.DiskAlias, step)
			}

			if err := step.Size.Validate(); err != nil {
				return nil, fmt.Errorf("step %s: %w", step, err)
			}

			region, err := state.allocate(step.Size)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step, err)
			}

			plan.Operations = append(plan.Operations, &CreatePartitionOp{
				Target: state.disk,

				Alias: step.Alias,

				Offset: region.Offset,
				Size:   region.Size,

				TypeGUID: step.Type.GUID(),
				Label:    step.Label,
			})

		case FindPartitionStep:
			state, ok := states[step.DiskAlias]
			if !ok {
				return nil, fmt.Errorf("%w: %q referenced by %s", ErrUnboundAlias, step.DiskAlias, step)
			}

			entry, err := findPartition(state.disk, step.Criteria)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step, err)
			}

			plan.Partitions[step.Alias] = entry

		default:
			return nil, fmt.Errorf("unsupported step %s", step)
		}
	}

	if err := plan.checkOverlaps(); err != nil {
		return nil, err
	}

	return plan, nil
}

func newDiskState(disk *Disk) *diskState {
	state := &diskState{disk: disk}

	if disk.Table != nil {
		state.free = disk.Table.FreeRegions(Alignment)
	}

	return state
}

// allocate places a partition into the first gap satisfying the constraint.
//
// If the gap exceeds the constraint maximum, the partition takes exactly the
// maximum and the remainder of the gap stays free; otherwise the partition
// consumes the entire gap.
func (s *diskState) allocate(constraint SizeConstraint) (Region, error) {
	sector := s.disk.SectorSize
	if sector == 0 {
		sector = 512
	}

	minSize := alignUp(constraint.Min, sector)

	// the upper bound aligns up so it never falls below the aligned minimum
	maxSize := constraint.EffectiveMax()
	if maxSize < ^uint64(0)-sector {
		maxSize = alignUp(maxSize, sector)
	}

	for idx, gap := range s.free {
		usable := alignDown(gap.Size, sector)

		if usable < minSize {
			continue
		}

		size := min(usable, maxSize)

		region := Region{
			Offset: gap.Offset,
			Size:   size,
		}

		remainder := Region{
			Offset: alignUp(gap.Offset+size, Alignment),
		}

		if end := gap.End(); remainder.Offset < end {
			remainder.Size = end - remainder.Offset
		}

		if remainder.Size > 0 {
			s.free[idx] = remainder
		} else {
			s.free = slices.Delete(s.free, idx, idx+1)
		}

		s.planned = append(s.planned, region)

		return region, nil
	}

	return Region{}, fmt.Errorf("%w: no gap fits %s", ErrInsufficientSpace, SizeString(constraint.Min))
}

func selectDisk(pool []*Disk, selector DiskSelector, bound map[string]*Disk) (*Disk, error) {
	var candidates []*Disk

	for _, disk := range pool {
		if boundElsewhere(bound, disk) {
			// a disk bound to one alias is not a candidate for another
			continue
		}

		if disk.Size < selector.MinSize {
			continue
		}

		if selector.MaxSize != 0 && disk.Size > selector.MaxSize {
			continue
		}

		if selector.PathGlob != "" && !glob.Glob(selector.PathGlob, disk.Path) {
			continue
		}

		if selector.TableKind != "" && (disk.Table == nil || disk.Table.Kind != selector.TableKind) {
			continue
		}

		if selector.Filesystem != "" && disk.Filesystem != selector.Filesystem {
			continue
		}

		if selector.FilesystemUUID != nil && (disk.FilesystemUUID == nil || *disk.FilesystemUUID != *selector.FilesystemUUID) {
			continue
		}

		if selector.FilesystemLabel != "" && !glob.Glob(selector.FilesystemLabel, disk.FilesystemLabel) {
			continue
		}

		candidates = append(candidates, disk)
	}

	switch {
	case len(candidates) == 0:
		return nil, ErrNoDiskMatches
	case len(candidates) > 1 && selector.Unique:
		return nil, fmt.Errorf("%w: %d disks qualify", ErrAmbiguousDiskMatch, len(candidates))
	default:
		return candidates[0], nil
	}
}

func findPartition(disk *Disk, criteria PartitionCriteria) (PartitionEntry, error) {
	if disk.Table == nil {
		return PartitionEntry{}, fmt.Errorf("%w: disk %s has no partition table", ErrNoDiskMatches, disk.Path)
	}

	for _, entry := range disk.Table.Partitions {
		if !criteria.Type.IsZero() && entry.TypeGUID != criteria.Type.GUID() {
			continue
		}

		if criteria.LabelGlob != "" && !glob.Glob(criteria.LabelGlob, entry.Label) {
			continue
		}

		return entry, nil
	}

	return PartitionEntry{}, fmt.Errorf("%w: no partition matches criteria on %s", ErrNoDiskMatches, disk.Path)
}

// checkOverlaps validates that planned partitions never overlap, including
// against pre-existing partitions on disks that keep their table.
func (p *Plan) checkOverlaps() error {
	type diskRegions struct {
		regions []Region
	}

	perDisk := map[*Disk]*diskRegions{}

	regionsFor := func(disk *Disk) *diskRegions {
		if r, ok := perDisk[disk]; ok {
			return r
		}

		r := &diskRegions{}

		if disk.Table != nil && !p.tableRecreated(disk) {
			for _, entry := range disk.Table.Partitions {
				r.regions = append(r.regions, Region{Offset: entry.Offset, Size: entry.Size})
			}
		}

		perDisk[disk] = r

		return r
	}

	for _, op := range p.Operations {
		createOp, ok := op.(*CreatePartitionOp)
		if !ok {
			continue
		}

		r := regionsFor(createOp.Target)

		next := Region{Offset: createOp.Offset, Size: createOp.Size}

		for _, existing := range r.regions {
			if next.Offset < existing.End() && existing.Offset < next.End() {
				return fmt.Errorf("%w: [%d, %d) and [%d, %d) on %s",
					ErrOverlapDetected, existing.Offset, existing.End(), next.Offset, next.End(), createOp.Target.Path)
			}
		}

		r.regions = append(r.regions, next)
	}

	return nil
}

func (p *Plan) tableRecreated(disk *Disk) bool {
	for _, op := range p.Operations {
		if tableOp, ok := op.(*CreateTableOp); ok && tableOp.Target == disk {
			return true
		}
	}

	return false
}

func boundElsewhere(bound map[string]*Disk, disk *Disk) bool {
	for _, b := range bound {
		if b == disk {
			return true
		}
	}

	return false
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import (
	"fmt"

	"github.com/google/uuid"
)

// TableKind is a partition table kind.
type TableKind string

// Supported partition table kinds.
const (
	TableKindGPT TableKind = "gpt"
)

// SizeConstraint is an inclusive size bound in bytes.
//
// A zero Max means "unbounded": the partition may consume a whole gap.
type SizeConstraint struct {
	Min uint64
	Max uint64
}

// Exactly builds a constraint demanding an exact size.
func Exactly(size uint64) SizeConstraint {
	return SizeConstraint{Min: size, Max: size}
}

// AtLeast builds a constraint with a lower bound only.
func AtLeast(size uint64) SizeConstraint {
	return SizeConstraint{Min: size}
}

// Between builds a constraint with both bounds.
func Between(minSize, maxSize uint64) SizeConstraint {
	return SizeConstraint{Min: minSize, Max: maxSize}
}

// Validate checks the constraint invariants.
func (c SizeConstraint) Validate() error {
	if c.Min == 0 {
		return fmt.Errorf("size constraint requires a minimum")
	}

	if c.Max != 0 && c.Min > c.Max {
		return fmt.Errorf("size constraint minimum %s exceeds maximum %s", SizeString(c.Min), SizeString(c.Max))
	}

	return nil
}

// EffectiveMax returns the maximum bound, treating zero as unbounded.
func (c SizeConstraint) EffectiveMax() uint64 {
	if c.Max == 0 {
		return ^uint64(0)
	}

	return c.Max
}

// DiskSelector filters candidate disks for a FindDisk step.
type DiskSelector struct {
	// MinSize filters out disks with capacity below the bound.
	MinSize uint64

	// MaxSize filters out disks with capacity above the bound, zero meaning
	// unbounded.
	MaxSize uint64

	// PathGlob matches the device path, e.g. "/dev/nvme*".
	PathGlob string

	// TableKind requires an existing partition table of the given kind.
	TableKind TableKind

	// Filesystem requires the disk itself to carry the named filesystem.
	Filesystem string

	// FilesystemUUID requires the disk filesystem to carry the given UUID.
	FilesystemUUID *uuid.UUID

	// FilesystemLabel matches the disk filesystem label, glob-style.
	FilesystemLabel string

	// Unique requires exactly one disk to match.
	Unique bool
}

// Step is a single instruction of a strategy.
//
// Step implementations are the only AST node kinds consumed by the resolver.
type Step interface {
	// binds returns the alias introduced by the step, or "".
	binds() string

	// references returns the aliases the step consumes.
	references() []string

	String() string
}

// FindDiskStep binds a disk alias to a disk matching the selector.
type FindDiskStep struct {
	Alias    string
	Selector DiskSelector
}

func (s FindDiskStep) binds() string { return s.Alias }

func (s FindDiskStep) references() []string { return nil }

func (s FindDiskStep) String() string { return fmt.Sprintf("find-disk(%s)", s.Alias) }

// CreatePartitionTableStep initializes a fresh partition table on a bound disk.
//
// Any existing partitions on the disk are wiped.
type CreatePartitionTableStep struct {
	DiskAlias string
	Kind      TableKind
}

func (s CreatePartitionTableStep) binds() string { return "" }

func (s CreatePartitionTableStep) references() []string { return []string{s.DiskAlias} }

func (s CreatePartitionTableStep) String() string {
	return fmt.Sprintf("create-partition-table(%s, %s)", s.DiskAlias, s.Kind)
}

// CreatePartitionStep allocates a new partition on a bound disk.
type CreatePartitionStep struct {
	DiskAlias string
	Alias     string

	Size  SizeConstraint
	Type  PartitionType
	Label string
}

func (s CreatePartitionStep) binds() string { return s.Alias }

func (s CreatePartitionStep) references() []string { return []string{s.DiskAlias} }

func (s CreatePartitionStep) String() string {
	return fmt.Sprintf("create-partition(%s, %s)", s.DiskAlias, s.Alias)
}

// PartitionCriteria filters existing partitions for a FindPartition step.
type PartitionCriteria struct {
	// Type matches the partition type classifier, if set.
	Type PartitionType

	// LabelGlob matches the partition label, e.g. "ESP*".
	LabelGlob string
}

// FindPartitionStep binds a partition alias to an existing partition on a bound disk.
type FindPartitionStep struct {
	DiskAlias string
	Alias     string

	Criteria PartitionCriteria
}

func (s FindPartitionStep) binds() string { return s.Alias }

func (s FindPartitionStep) references() []string { return []string{s.DiskAlias} }

func (s FindPartitionStep) String() string {
	return fmt.Sprintf("find-partition(%s, %s)", s.DiskAlias, s.Alias)
}

// Strategy is a named, inheritable provisioning recipe.
type Strategy struct {
	Name string

	// Inherits names the parent strategy; parent steps execute first.
	Inherits string

	Steps []Step
}

// FlattenedStrategy is a strategy with its inheritance chain resolved.
type FlattenedStrategy struct {
	Name  string
	Steps []Step
}

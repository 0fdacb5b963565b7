// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import "errors"

// Strategy resolution errors.
var (
	// ErrUnknownStrategy is returned when the requested strategy is not defined.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrUnknownParent is returned when a strategy inherits from a strategy which is not defined.
	ErrUnknownParent = errors.New("unknown parent strategy")

	// ErrCyclicInheritance is returned when a strategy transitively inherits itself.
	ErrCyclicInheritance = errors.New("cyclic strategy inheritance")

	// ErrDuplicateAlias is returned when a step binds an alias which is already bound.
	ErrDuplicateAlias = errors.New("duplicate alias")

	// ErrUnboundAlias is returned when a step references an alias before it is bound.
	ErrUnboundAlias = errors.New("unbound alias")
)

// Planning errors.
var (
	// ErrNoDiskMatches is returned when no disk satisfies the selection constraints.
	ErrNoDiskMatches = errors.New("no disk matches the constraints")

	// ErrAmbiguousDiskMatch is returned when a unique match is required but multiple disks qualify.
	ErrAmbiguousDiskMatch = errors.New("multiple disks match the constraints")

	// ErrInsufficientSpace is returned when no free-space gap can satisfy the minimum size.
	ErrInsufficientSpace = errors.New("insufficient free space")

	// ErrOverlapDetected is returned when planned partitions overlap.
	ErrOverlapDetected = errors.New("planned partitions overlap")
)

// Execution errors.
var (
	// ErrRolledBack wraps an operation failure after a successful rollback:
	// the partition table was restored to its pre-transaction state.
	ErrRolledBack = errors.New("transaction rolled back")

	// ErrFatalRollback is returned when an undo step fails: the partition
	// table is left in an indeterminate state and requires operator attention.
	ErrFatalRollback = errors.New("rollback failed, partition table state is indeterminate")
)

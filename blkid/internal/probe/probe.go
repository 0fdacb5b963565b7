// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package probe defines common probe interfaces.
package probe

import (
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/siderolabs/go-provision/blkid/internal/magic"
)

// ErrCorrupted is returned by a prober when the magic value matched, but a
// checksum over the superblock did not.
//
// A corrupted superblock is reported distinctly from "no match", so that the
// callers can warn about damaged filesystems instead of silently skipping them.
var ErrCorrupted = errors.New("superblock checksum mismatch")

// Reader is a context for probing filesystems and volume managers.
type Reader interface {
	io.ReaderAt

	GetSectorSize() uint
	GetSize() uint64
}

// Prober is an interface for probing filesystems and volume managers.
type Prober interface {
	// Name returns the name of the filesystem or volume manager.
	Name() string
	// Magic returns the magic values for the filesystem or volume manager.
	Magic() []*magic.Magic
	// Probe runs the further inspection and returns the result if successful.
	//
	// Returning a nil result without an error means the prober declined the
	// region. Returning ErrCorrupted means the magic matched but the
	// superblock failed verification.
	Probe(Reader) (*Result, error)
}

// Result is a probe result.
type Result struct {
	UUID  *uuid.UUID
	Label *string

	// SerialID is set for filesystems with a volume serial instead of a UUID.
	SerialID *string

	Parts []Partition

	BlockSize           uint32
	FilesystemBlockSize uint32
	ProbedSize          uint64

	// Verified is set if the prober validated a checksum beyond the magic value.
	Verified bool
}

// Partition is a probe sub-result.
type Partition struct {
	UUID     *uuid.UUID
	TypeUUID *uuid.UUID
	Label    *string

	Index uint // 1-based index

	Offset uint64
	Size   uint64
}

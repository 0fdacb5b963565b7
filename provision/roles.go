// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is a symbolic partition type classifier.
type Role string

// Well-known partition roles.
const (
	RoleEFISystemPartition Role = "EFISystemPartition"
	RoleXBOOTLDR           Role = "XBOOTLDR"
	RoleLinuxRoot          Role = "LinuxRoot"
	RoleLinuxHome          Role = "LinuxHome"
	RoleLinuxSwap          Role = "LinuxSwap"
	RoleLinuxData          Role = "LinuxData"
)

// Partition type GUIDs from the Discoverable Partitions Specification.
//
// LinuxRoot maps to the x86-64 root partition type.
var roleGUIDs = map[Role]uuid.UUID{
	RoleEFISystemPartition: uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"),
	RoleXBOOTLDR:           uuid.MustParse("BC13C2FF-59E6-4262-A352-B275FD6F7172"),
	RoleLinuxRoot:          uuid.MustParse("4F68BCE3-E8CD-4DB1-96E7-FBCAF984B709"),
	RoleLinuxHome:          uuid.MustParse("933AC7E1-2EB4-4F13-B844-0E14E2AEF915"),
	RoleLinuxSwap:          uuid.MustParse("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"),
	RoleLinuxData:          uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"),
}

// GUID returns the partition type GUID for the role.
func (r Role) GUID() (uuid.UUID, bool) {
	guid, ok := roleGUIDs[r]

	return guid, ok
}

// PartitionType is a partition type classifier: either a symbolic role or a raw GUID.
type PartitionType struct {
	guid uuid.UUID
	role Role
}

// TypeFromRole builds a PartitionType from a symbolic role.
func TypeFromRole(role Role) (PartitionType, error) {
	guid, ok := role.GUID()
	if !ok {
		return PartitionType{}, fmt.Errorf("unknown partition role %q", role)
	}

	return PartitionType{guid: guid, role: role}, nil
}

// TypeFromGUID builds a PartitionType from a raw GUID.
func TypeFromGUID(guid uuid.UUID) PartitionType {
	return PartitionType{guid: guid}
}

// ParseType parses a type classifier: a well-known role name or a raw GUID string.
func ParseType(s string) (PartitionType, error) {
	if pt, err := TypeFromRole(Role(s)); err == nil {
		return pt, nil
	}

	guid, err := uuid.Parse(s)
	if err != nil {
		return PartitionType{}, fmt.Errorf("type classifier %q is neither a known role nor a GUID: %w", s, err)
	}

	return TypeFromGUID(guid), nil
}

// GUID returns the partition type GUID.
func (t PartitionType) GUID() uuid.UUID {
	return t.guid
}

// Role returns the symbolic role, if the type was built from one.
func (t PartitionType) Role() (Role, bool) {
	return t.role, t.role != ""
}

// IsZero returns true for the zero classifier.
func (t PartitionType) IsZero() bool {
	return t.guid == uuid.Nil
}

func (t PartitionType) String() string {
	if t.role != "" {
		return string(t.role)
	}

	return t.guid.String()
}

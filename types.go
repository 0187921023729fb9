package siva

import (
	"github.com/meigma/siva/internal/fileperm"
	"github.com/meigma/siva/internal/sivatype"
)

// Re-export types from internal/sivatype for public API.
type (
	// Header holds the metadata kept for a single file.
	Header = sivatype.Header

	// Entry is one record of one index block.
	Entry = sivatype.IndexEntry

	// Flag annotates an entry.
	Flag = sivatype.Flag

	// PermissionSet is the set of POSIX permission bits of an entry.
	PermissionSet = fileperm.Set

	// Permission is a single POSIX permission bit.
	Permission = fileperm.Permission
)

// Re-export flag constants.
const (
	FlagNone    = sivatype.FlagNone
	FlagDeleted = sivatype.FlagDeleted
)

// Re-export permission constants.
const (
	OwnerRead    = fileperm.OwnerRead
	OwnerWrite   = fileperm.OwnerWrite
	OwnerExecute = fileperm.OwnerExecute
	GroupRead    = fileperm.GroupRead
	GroupWrite   = fileperm.GroupWrite
	GroupExecute = fileperm.GroupExecute
	OtherRead    = fileperm.OtherRead
	OtherWrite   = fileperm.OtherWrite
	OtherExecute = fileperm.OtherExecute
)

// Permissions translates a raw mode field into its permission bits.
var Permissions = fileperm.FromMode

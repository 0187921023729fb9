// Package fileperm translates the mode field of a siva index entry into POSIX
// permission bits.
//
// Only the low nine bits of the field are meaningful: bit 0 is
// other-execute and bit 8 is owner-read, the same layout as the permission
// bits of a Unix mode.
package fileperm

import "io/fs"

// Permission is a single POSIX permission bit.
type Permission uint16

// Permission bits, lowest first.
const (
	OtherExecute Permission = 1 << iota
	OtherWrite
	OtherRead
	GroupExecute
	GroupWrite
	GroupRead
	OwnerExecute
	OwnerWrite
	OwnerRead
)

// all lists every permission from owner-read down to other-execute, the order
// used when rendering a Set.
var all = [...]Permission{
	OwnerRead, OwnerWrite, OwnerExecute,
	GroupRead, GroupWrite, GroupExecute,
	OtherRead, OtherWrite, OtherExecute,
}

const mask = 0o777

// Set is a set of permission bits.
type Set uint16

// FromMode returns the permissions encoded in the low nine bits of mode.
// Higher bits (file type, setuid, sticky) are ignored.
func FromMode(mode uint32) Set {
	return Set(mode & mask)
}

// Of builds a Set from individual permissions.
func Of(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s |= Set(p)
	}
	return s
}

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool {
	return s&Set(p) != 0
}

// Permissions returns the members of the set, owner-read first.
func (s Set) Permissions() []Permission {
	perms := make([]Permission, 0, len(all))
	for _, p := range all {
		if s.Has(p) {
			perms = append(perms, p)
		}
	}
	return perms
}

// FileMode returns the set as fs.FileMode permission bits.
func (s Set) FileMode() fs.FileMode {
	return fs.FileMode(s & mask)
}

// String renders the set the way ls does, e.g. "rwxr-x---".
func (s Set) String() string {
	const rwx = "rwxrwxrwx"
	buf := []byte("---------")
	for i, p := range all {
		if s.Has(p) {
			buf[i] = rwx[i]
		}
	}
	return string(buf)
}

// String returns the name of the permission.
func (p Permission) String() string {
	switch p {
	case OwnerRead:
		return "owner-read"
	case OwnerWrite:
		return "owner-write"
	case OwnerExecute:
		return "owner-execute"
	case GroupRead:
		return "group-read"
	case GroupWrite:
		return "group-write"
	case GroupExecute:
		return "group-execute"
	case OtherRead:
		return "other-read"
	case OtherWrite:
		return "other-write"
	case OtherExecute:
		return "other-execute"
	default:
		return "unknown"
	}
}

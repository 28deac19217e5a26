package vfskit

import "strings"

// Operation names a File capability that may or may not be implemented by a
// concrete file kind.
type Operation int

const (
	OpRead Operation = iota
	OpRandomRead
	OpWrite
	OpAppend
	OpRandomWrite
	OpList
	OpMkdir
	OpMkfile
	OpDelete
	OpRename
	OpCopyRemotely
	OpChangeDate
	OpChangePermission
	OpGetFreeSpace
	OpGetTotalSpace

	numOperations
)

var operationNames = [...]string{
	OpRead:             "read",
	OpRandomRead:       "random-read",
	OpWrite:            "write",
	OpAppend:           "append",
	OpRandomWrite:      "random-write",
	OpList:             "list",
	OpMkdir:            "mkdir",
	OpMkfile:           "mkfile",
	OpDelete:           "delete",
	OpRename:           "rename",
	OpCopyRemotely:     "copy-remotely",
	OpChangeDate:       "change-date",
	OpChangePermission: "change-permission",
	OpGetFreeSpace:     "free-space",
	OpGetTotalSpace:    "total-space",
}

func (o Operation) String() string {
	if o >= 0 && o < numOperations {
		return operationNames[o]
	}
	return "unknown"
}

// AllOperations lists every Operation in declaration order.
func AllOperations() []Operation {
	ops := make([]Operation, 0, numOperations)
	for o := Operation(0); o < numOperations; o++ {
		ops = append(ops, o)
	}
	return ops
}

// OperationSet is a set of Operations. The zero value is empty.
type OperationSet uint32

// NewOperationSet returns the set holding ops.
func NewOperationSet(ops ...Operation) OperationSet {
	var s OperationSet
	for _, o := range ops {
		s = s.With(o)
	}
	return s
}

// Has reports whether op is in s.
func (s OperationSet) Has(op Operation) bool {
	return s&(1<<uint(op)) != 0
}

// With returns s plus ops.
func (s OperationSet) With(ops ...Operation) OperationSet {
	for _, o := range ops {
		s |= 1 << uint(o)
	}
	return s
}

// Without returns s minus ops.
func (s OperationSet) Without(ops ...Operation) OperationSet {
	for _, o := range ops {
		s &^= 1 << uint(o)
	}
	return s
}

// Intersect returns the operations in both s and o.
func (s OperationSet) Intersect(o OperationSet) OperationSet {
	return s & o
}

// Operations lists the members of s in declaration order.
func (s OperationSet) Operations() []Operation {
	var ops []Operation
	for o := Operation(0); o < numOperations; o++ {
		if s.Has(o) {
			ops = append(ops, o)
		}
	}
	return ops
}

func (s OperationSet) String() string {
	names := make([]string, 0, numOperations)
	for _, o := range s.Operations() {
		names = append(names, o.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// ReadOnlyOperations is the set supported by read-only browsable files.
var ReadOnlyOperations = NewOperationSet(OpRead, OpList)

// Package kernel contains the types shared by all kernel subsystems.
package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error values and compared by identity. The memory subsystems
// report errors before any heap allocator exists, so errors.New and
// fmt.Errorf are off limits.
type Error struct {
	// The subsystem that raised the error (e.g. "vmm", "pmm").
	Module string

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

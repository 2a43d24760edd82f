// Package mm defines the address, frame and page types shared by the
// physical and virtual memory managers.
package mm

import (
	"math"

	"oskern/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve a frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if the frame's address fits in the physical address
// width supported by the paging structures. InvalidFrame is never valid.
func (f Frame) Valid() bool {
	return uint64(f)>>(PhysAddrBits-PageShift) == 0
}

// Address returns the physical address of the first byte of this frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame containing physAddr. Unaligned
// addresses are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr &^ (PageSize - 1)) >> PageShift)
}

// ValidPhysAddress returns true if physAddr fits in the physical address
// width supported by the paging structures.
func ValidPhysAddress(physAddr uintptr) bool {
	return uint64(physAddr)>>PhysAddrBits == 0
}

// Page describes a virtual memory page index.
type Page uintptr

// Valid returns true if the page number maps to a virtual address without
// losing bits. Address wraps around for invalid pages.
func (p Page) Valid() bool {
	return uint64(p)>>(64-PageShift) == 0
}

// Address returns the virtual address of the first byte of this page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page containing virtAddr. Unaligned addresses
// are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr &^ (PageSize - 1)) >> PageShift)
}

// FrameAllocator hands out unused physical frames. Implementations never
// return a frame twice. Allocation failures are reported through a
// *kernel.Error and an InvalidFrame.
type FrameAllocator interface {
	AllocFrame() (Frame, *kernel.Error)
}

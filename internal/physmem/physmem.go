// Package physmem simulates physical memory for running the memory managers
// outside the kernel. A Memory is a page-aligned Go buffer; its base address
// plays the role of the physical memory offset, so physical address P is
// reachable at virtual address Offset()+P just like under the kernel's
// offset mapping.
package physmem

import (
	"unsafe"

	"oskern/kernel"
	"oskern/kernel/boot"
	"oskern/kernel/mm"
)

var errOutOfRange = &kernel.Error{Module: "physmem", Message: "physical range outside simulated memory"}

// Memory is a block of simulated physical memory starting at physical
// address 0.
type Memory struct {
	// buf is over-allocated by one page so that the simulated range can
	// start on a page boundary. Go's heap does not move objects, so base
	// stays valid for as long as the Memory is reachable.
	buf  []byte
	base uintptr
	size uintptr
}

// New allocates size bytes of zeroed simulated memory. size is rounded up
// to a multiple of the page size.
func New(size uintptr) *Memory {
	size = (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
	buf := make([]byte, size+mm.PageSize)

	addr := uintptr(unsafe.Pointer(&buf[0]))
	skip := ((addr + mm.PageSize - 1) &^ (mm.PageSize - 1)) - addr

	return &Memory{
		buf:  buf[skip : skip+size],
		base: addr + skip,
		size: size,
	}
}

// Offset returns the virtual address at which simulated physical address 0
// lives.
func (m *Memory) Offset() uintptr {
	return m.base
}

// Size returns the size of the simulated memory in bytes.
func (m *Memory) Size() uintptr {
	return m.size
}

// Bytes returns the n bytes starting at physAddr. The slice aliases the
// simulated memory.
func (m *Memory) Bytes(physAddr, n uintptr) ([]byte, *kernel.Error) {
	if physAddr > m.size || n > m.size-physAddr {
		return nil, errOutOfRange
	}
	return m.buf[physAddr : physAddr+n], nil
}

// BootInfo describes the simulated memory as a boot memory descriptor:
// [0, firstUsable) is reserved and the rest is usable. firstUsable is
// rounded up to a frame boundary.
func (m *Memory) BootInfo(firstUsable uintptr) (*boot.Info, *kernel.Error) {
	firstUsable = (firstUsable + mm.PageSize - 1) &^ (mm.PageSize - 1)
	if firstUsable > m.size {
		return nil, errOutOfRange
	}

	info := &boot.Info{PhysicalMemoryOffset: m.base}
	if firstUsable > 0 {
		if err := info.MemoryMap.Add(boot.MemoryRegion{Start: 0, End: uint64(firstUsable), Kind: boot.Reserved}); err != nil {
			return nil, err
		}
	}
	if err := info.MemoryMap.Add(boot.MemoryRegion{Start: uint64(firstUsable), End: uint64(m.size), Kind: boot.Usable}); err != nil {
		return nil, err
	}

	return info, nil
}

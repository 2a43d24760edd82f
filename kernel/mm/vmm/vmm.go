// Package vmm manages the amd64 4-level page tables of the running kernel.
//
// Page tables are reached through the physical memory offset mapping: the
// bootstrap code maps all of physical memory at a fixed virtual offset, so
// the table stored in frame F lives at virtual address offset+F.Address().
// Every table access in this package depends on that mapping staying intact.
package vmm

import (
	"oskern/kernel"
	"oskern/kernel/cpu"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	activePDTFn     = cpu.ActivePDT
	flushTLBEntryFn = cpu.FlushTLBEntry
	panicFn         = kfmt.Panic

	// activeTableIssued is set once ActiveTable has handed out the view of
	// the active top-level table.
	activeTableIssued bool

	// kernelMapper is the storage behind the mapper returned by Init.
	kernelMapper OffsetPageTable

	// ErrInvalidMapping is returned when a virtual address is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned by Map when the target page is already mapped.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	// ErrHugePage is returned when a walk runs into a huge page entry.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	// ErrNonCanonicalAddress is returned when mapping a page whose address is
	// not canonical.
	ErrNonCanonicalAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not canonical"}

	// ErrInvalidPhysAddress is returned when mapping a frame beyond the
	// supported physical address width.
	ErrInvalidPhysAddress = &kernel.Error{Module: "vmm", Message: "physical address exceeds the supported width"}

	// ErrActiveTableIssued is returned by ActiveTable when the view of the
	// active top-level table has already been handed out.
	ErrActiveTableIssued = &kernel.Error{Module: "vmm", Message: "active page table already in use"}
)

// OffsetPageTable provides access to a page table hierarchy through the
// physical memory offset mapping. It is the only handle through which the
// kernel mutates its page tables.
type OffsetPageTable struct {
	p4         *PageTable
	physOffset uintptr
}

// NewOffsetPageTable wraps the top-level table p4. physOffset is the virtual
// address at which physical address 0 is mapped. The caller must ensure that
// no other OffsetPageTable wraps the same hierarchy.
func NewOffsetPageTable(p4 *PageTable, physOffset uintptr) OffsetPageTable {
	return OffsetPageTable{p4: p4, physOffset: physOffset}
}

// NewAddressSpace allocates and zeroes a frame for a new top-level table and
// wraps it. The new hierarchy maps nothing and is not activated.
func NewAddressSpace(physOffset uintptr, alloc mm.FrameAllocator) (OffsetPageTable, mm.Frame, *kernel.Error) {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return OffsetPageTable{}, mm.InvalidFrame, err
	}

	p4 := tableAt(physOffset, frame)
	p4.Zero()
	return NewOffsetPageTable(p4, physOffset), frame, nil
}

// P4 returns the top-level table of the hierarchy.
func (m *OffsetPageTable) P4() *PageTable {
	return m.p4
}

// PhysOffset returns the virtual address at which physical memory is mapped.
func (m *OffsetPageTable) PhysOffset() uintptr {
	return m.physOffset
}

// ActiveTable returns the top-level table that CR3 points to, accessed
// through the physical memory offset mapping. It succeeds exactly once per
// boot; later calls return ErrActiveTableIssued so that two mutable views of
// the live page tables can never coexist.
func ActiveTable(physOffset uintptr) (*PageTable, *kernel.Error) {
	if activeTableIssued {
		return nil, ErrActiveTableIssued
	}
	activeTableIssued = true

	p4Frame := mm.FrameFromAddress(activePDTFn() & ptePhysPageMask)
	return tableAt(physOffset, p4Frame), nil
}

// Init wraps the active top-level table into the kernel's mapper. The
// returned mapper is a process-wide singleton: callers keep the pointer and
// pass it around rather than calling Init again.
func Init(physOffset uintptr) (*OffsetPageTable, *kernel.Error) {
	p4, err := ActiveTable(physOffset)
	if err != nil {
		return nil, err
	}

	kernelMapper = NewOffsetPageTable(p4, physOffset)
	kfmt.Printf("[vmm] active P4 table at 0x%16x, physical memory offset 0x%16x\n",
		activePDTFn()&ptePhysPageMask, physOffset,
	)
	return &kernelMapper, nil
}

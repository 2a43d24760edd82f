package vmm

import (
	"unsafe"

	"oskern/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual format
// of the entry and flags is architecture-dependent.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical frame that this entry points to. The result is
// only meaningful for present entries.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// IsUnused returns true if every bit of the entry is clear.
func (pte pageTableEntry) IsUnused() bool {
	return pte == 0
}

// PageTable is one level of the paging hierarchy. Its layout matches the
// hardware format so a PageTable can be overlaid on the frame that holds it.
type PageTable [entriesPerTable]pageTableEntry

// Zero marks every entry as not present. A table must be zeroed before it is
// linked into its parent; stale frame contents would otherwise show up as
// valid mappings.
func (pt *PageTable) Zero() {
	for i := range pt {
		pt[i] = 0
	}
}

// tableAt overlays a PageTable on the given frame, reached through the
// physical memory offset mapping.
//
//go:nocheckptr
func tableAt(physOffset uintptr, frame mm.Frame) *PageTable {
	return (*PageTable)(unsafe.Pointer(physOffset + frame.Address()))
}

// Package multiboot reads the memory map out of the multiboot2 information
// structure that the bootloader hands to the kernel.
package multiboot

import "unsafe"

var infoData uintptr

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader precedes every tag in the info structure.
type tagHeader struct {
	tagType tagType

	// The size of the tag including the header but not any padding. Tags
	// start at 8-byte aligned addresses.
	size uint32
}

// mmapHeader precedes the entries of the memory map tag.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown is reported as MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region reported by the bootloader.
// Addresses and lengths are not guaranteed to be page-aligned.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. It
// returns false to stop the scan.
type MemRegionVisitor func(MemoryMapEntry) bool

// SetInfoPtr sets the address of the multiboot info structure. It must be
// called before any other function in this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// InfoRange returns the address and size of the multiboot info structure, or
// (0, 0) if SetInfoPtr has not been called.
func InfoRange() (uintptr, uintptr) {
	if infoData == 0 {
		return 0, 0
	}

	return infoData, uintptr(*(*uint32)(unsafe.Pointer(infoData)))
}

// VisitMemRegions invokes visitor for each entry of the memory map tag, in
// the order the bootloader reported them. Entries are passed by value so the
// info structure is never modified and nothing escapes to the heap. A tag
// that declares a zero entry size is treated as empty.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	hdr := (*mmapHeader)(unsafe.Pointer(curPtr))
	if hdr.entrySize == 0 {
		return
	}

	endPtr := curPtr + uintptr(size)
	curPtr += unsafe.Sizeof(*hdr)

	for ; curPtr < endPtr; curPtr += uintptr(hdr.entrySize) {
		entry := *(*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// findTagByType returns the address of the payload of the first tag with
// the requested type and its length excluding the tag header, or (0, 0) when
// the tag is missing.
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	// Skip the fixed total_size/reserved header.
	curPtr := infoData + 8
	for hdr := (*tagHeader)(unsafe.Pointer(curPtr)); hdr.tagType != tagMbSectionEnd; hdr = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if hdr.tagType == tagType {
			return curPtr + 8, hdr.size - 8
		}

		curPtr += uintptr((hdr.size + 7) &^ 7)
	}

	return 0, 0
}

// Package boot describes the information that the bootstrap code hands to
// the kernel: the physical memory map and the offset at which all of physical
// memory is mapped into the kernel's virtual address space.
package boot

import (
	"oskern/kernel"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
)

// MaxRegions is the capacity of a MemoryMap. The map lives in a fixed array
// since it is filled in before any allocator exists.
const MaxRegions = 64

var (
	errTooManyRegions  = &kernel.Error{Module: "boot", Message: "memory map has too many regions"}
	errUnalignedRegion = &kernel.Error{Module: "boot", Message: "memory region boundaries must be frame-aligned"}
	errInvertedRegion  = &kernel.Error{Module: "boot", Message: "memory region ends before it starts"}
)

// RegionKind classifies a MemoryRegion.
type RegionKind uint8

const (
	// Usable memory is free for the kernel to allocate.
	Usable RegionKind = iota

	// InUse memory is occupied by something the bootstrap code set up.
	InUse

	// Reserved memory must never be touched.
	Reserved

	// AcpiReclaimable memory holds ACPI tables that may be reused once
	// parsed.
	AcpiReclaimable

	// AcpiNvs memory must be preserved across sleep states.
	AcpiNvs

	// BadMemory was reported as defective by the firmware.
	BadMemory

	// Kernel holds the loaded kernel image.
	Kernel

	// KernelStack holds the boot stack.
	KernelStack

	// PageTable holds the page tables built by the bootloader.
	PageTable

	// Bootloader holds bootloader code and data.
	Bootloader

	// FrameZero is the first physical frame, kept out of circulation so
	// that frame 0 never aliases a null pointer.
	FrameZero

	// Empty marks an unused slot.
	Empty

	// BootInfo holds this descriptor.
	BootInfo

	// Package holds modules loaded alongside the kernel.
	Package
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case Usable:
		return "usable"
	case InUse:
		return "in use"
	case Reserved:
		return "reserved"
	case AcpiReclaimable:
		return "ACPI (reclaimable)"
	case AcpiNvs:
		return "ACPI NVS"
	case BadMemory:
		return "bad memory"
	case Kernel:
		return "kernel"
	case KernelStack:
		return "kernel stack"
	case PageTable:
		return "page table"
	case Bootloader:
		return "bootloader"
	case FrameZero:
		return "frame zero"
	case Empty:
		return "empty"
	case BootInfo:
		return "boot info"
	case Package:
		return "package"
	default:
		return "unknown"
	}
}

// MemoryRegion describes the physical range [Start, End). Both bounds are
// frame-aligned.
type MemoryRegion struct {
	Start uint64
	End   uint64
	Kind  RegionKind
}

// FrameCount returns the number of frames covered by the region.
func (r MemoryRegion) FrameCount() uint64 {
	return (r.End - r.Start) >> mm.PageShift
}

// MemoryMap is an ordered list of memory regions.
type MemoryMap struct {
	entries [MaxRegions]MemoryRegion
	count   int
}

// Add appends region to the map.
func (m *MemoryMap) Add(region MemoryRegion) *kernel.Error {
	switch {
	case m.count == MaxRegions:
		return errTooManyRegions
	case region.End < region.Start:
		return errInvertedRegion
	case (region.Start|region.End)&uint64(mm.PageSize-1) != 0:
		return errUnalignedRegion
	}

	m.entries[m.count] = region
	m.count++
	return nil
}

// Reserve re-labels the frames touched by [start, end) as kind wherever they
// fall inside a Usable region, splitting the region as needed. Other kinds
// of region are left alone.
func (m *MemoryMap) Reserve(start, end uint64, kind RegionKind) *kernel.Error {
	pageSizeMinus1 := uint64(mm.PageSize - 1)
	start &^= pageSizeMinus1
	end = (end + pageSizeMinus1) &^ pageSizeMinus1
	if end < start {
		return errInvertedRegion
	}

	for i := 0; i < m.count; i++ {
		region := m.entries[i]
		if region.Kind != Usable || region.End <= start || region.Start >= end {
			continue
		}

		var (
			pieces = [3]MemoryRegion{
				{Start: region.Start, End: max(region.Start, start), Kind: Usable},
				{Start: max(region.Start, start), End: min(region.End, end), Kind: kind},
				{Start: min(region.End, end), End: region.End, Kind: Usable},
			}
			split  [3]MemoryRegion
			nSplit int
		)
		for _, piece := range pieces {
			if piece.End > piece.Start {
				split[nSplit] = piece
				nSplit++
			}
		}

		if m.count+nSplit-1 > MaxRegions {
			return errTooManyRegions
		}

		copy(m.entries[i+nSplit:], m.entries[i+1:m.count])
		copy(m.entries[i:], split[:nSplit])
		m.count += nSplit - 1
		i += nSplit - 1
	}

	return nil
}

// Regions returns the regions in the order they were added. The returned
// slice aliases the map's storage.
func (m *MemoryMap) Regions() []MemoryRegion {
	return m.entries[:m.count]
}

// UsableFrames returns the total number of frames in Usable regions.
func (m *MemoryMap) UsableFrames() uint64 {
	var total uint64
	for _, region := range m.Regions() {
		if region.Kind == Usable {
			total += region.FrameCount()
		}
	}
	return total
}

// Info is the boot memory descriptor. It is produced once by the bootstrap
// code and never modified afterwards.
type Info struct {
	// PhysicalMemoryOffset is the virtual address at which physical
	// address 0 is mapped. All of physical memory is mapped linearly from
	// there on.
	PhysicalMemoryOffset uintptr

	MemoryMap MemoryMap
}

// Print logs the memory map and the amount of usable memory.
func (info *Info) Print() {
	kfmt.Printf("[boot] system memory map:\n")
	for _, region := range info.MemoryMap.Regions() {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.Start, region.End, region.End-region.Start, region.Kind.String())
	}
	kfmt.Printf("[boot] available memory: %dKb\n", info.MemoryMap.UsableFrames()*uint64(mm.PageSize)/1024)
	kfmt.Printf("[boot] physical memory offset: 0x%16x\n", info.PhysicalMemoryOffset)
}
